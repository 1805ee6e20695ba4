// Package observe provides application-wide observability primitives for
// Voxatar: OpenTelemetry metrics, tracing, and trace-aware structured
// logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge set up by [InitProvider], so they remain
// scrapeable at the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) exists for convenience; tests should
// use [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxatar metrics.
const meterName = "github.com/voxatar/voxatar"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks speech-to-text latency.
	TranscribeDuration metric.Float64Histogram

	// GenerateDuration tracks reply generation latency.
	GenerateDuration metric.Float64Histogram

	// SynthesizeDuration tracks speech synthesis latency.
	SynthesizeDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency, inbound message to last
	// emitted event.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// AdapterRequests counts external adapter calls. Attributes:
	//   attribute.String("adapter", ...), attribute.String("status", ...)
	AdapterRequests metric.Int64Counter

	// AdapterErrors counts external adapter failures after retries.
	// Attributes: attribute.String("adapter", ...)
	AdapterErrors metric.Int64Counter

	// Turns counts completed turns. Attributes:
	//   attribute.String("outcome", "ok"|"degraded"|"fallback"|"failed")
	Turns metric.Int64Counter

	// SessionsEvicted counts idle-session evictions.
	SessionsEvicted metric.Int64Counter

	// InboundRejected counts inbound messages rejected because the session
	// queue was full.
	InboundRejected metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// conversational-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("voxatar.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = m.Float64Histogram("voxatar.generate.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = m.Float64Histogram("voxatar.synthesize.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxatar.turn.duration",
		metric.WithDescription("End-to-end turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AdapterRequests, err = m.Int64Counter("voxatar.adapter.requests",
		metric.WithDescription("Total external adapter calls by adapter and status."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("voxatar.adapter.errors",
		metric.WithDescription("Total adapter failures after retries, by adapter."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voxatar.turns",
		metric.WithDescription("Total completed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEvicted, err = m.Int64Counter("voxatar.sessions.evicted",
		metric.WithDescription("Total idle-session evictions."),
	); err != nil {
		return nil, err
	}
	if met.InboundRejected, err = m.Int64Counter("voxatar.inbound.rejected",
		metric.WithDescription("Total inbound messages rejected while a turn was in flight."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxatar.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordAdapterRequest increments the adapter request counter with the
// standard attribute set.
func (m *Metrics) RecordAdapterRequest(ctx context.Context, adapter, status string) {
	m.AdapterRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("adapter", adapter),
			attribute.String("status", status),
		),
	)
}

// RecordAdapterError increments the adapter error counter.
func (m *Metrics) RecordAdapterError(ctx context.Context, adapter string) {
	m.AdapterErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("adapter", adapter)),
	)
}

// RecordTurn increments the turn counter with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
