// Package resilience provides the retry and circuit breaker primitives that
// wrap every external adapter call made by the session pipeline.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxatar/voxatar/pkg/fault"
)

const (
	defaultDeadline = 10 * time.Second
	defaultRetries  = 1
)

// Policy bounds one adapter call: a per-attempt deadline and a retry budget
// spent only on transient upstream failures. Input errors and context
// cancellation are never retried.
type Policy struct {
	// Deadline applies to each attempt separately. Default: 10s.
	Deadline time.Duration

	// Retries is the number of additional attempts after the first.
	// Default: 1.
	Retries int

	// Logger receives a warning per retried attempt. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy returns the Policy used when configuration supplies
// nothing.
func DefaultPolicy() Policy {
	return Policy{Deadline: defaultDeadline, Retries: defaultRetries}
}

// Do runs op, retrying on transient failure within the policy's budget.
// name labels the protected call in warnings. The error of the final
// attempt is returned unwrapped so callers can classify it.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	deadline := p.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attemptCtx, cancel := context.WithTimeout(ctx, deadline)
		err = op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !fault.Transient(err) || attempt == p.Retries {
			return err
		}
		logger.Warn("retrying after transient failure",
			"call", name,
			"attempt", attempt+1,
			"error", err)
	}
	return err
}
