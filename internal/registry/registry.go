// Package registry tracks the live session pipelines of the process. It
// creates sessions on first contact, routes inbound envelopes to the owning
// pipeline, and evicts sessions that have been idle past the configured
// timeout.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxatar/voxatar/internal/observe"
	"github.com/voxatar/voxatar/internal/pipeline"
	"github.com/voxatar/voxatar/pkg/event"
	"github.com/voxatar/voxatar/pkg/fault"
)

const (
	// defaultIdleTimeout is how long a session may go without inbound
	// traffic before the janitor evicts it.
	defaultIdleTimeout = 30 * time.Minute

	// defaultSweepInterval is the period between janitor sweeps.
	defaultSweepInterval = time.Minute
)

// Factory builds the pipeline for a newly contacted session.
type Factory func(sessionID string) (*pipeline.Pipeline, error)

// Config configures a [Registry].
type Config struct {
	// Factory creates session pipelines. Required.
	Factory Factory

	// IdleTimeout is the inactivity span after which a session is evicted.
	// Defaults to 30 minutes if zero.
	IdleTimeout time.Duration

	// SweepInterval is how often the janitor scans for idle sessions.
	// Defaults to 1 minute if zero.
	SweepInterval time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Registry is the concurrent map of live sessions. All methods are safe
// for concurrent use.
type Registry struct {
	factory       Factory
	idleTimeout   time.Duration
	sweepInterval time.Duration
	metrics       *observe.Metrics
	logger        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*pipeline.Pipeline
	closed   bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Registry. Call [Registry.Start] to begin idle eviction.
func New(cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		factory:       cfg.Factory,
		idleTimeout:   cfg.IdleTimeout,
		sweepInterval: cfg.SweepInterval,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		sessions:      make(map[string]*pipeline.Pipeline),
		done:          make(chan struct{}),
	}
}

// Start begins the janitor loop in a background goroutine. The goroutine
// runs until [Registry.Close] is called or ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Open returns the pipeline for id, creating it on first contact. An empty
// id mints a fresh session id.
func (r *Registry) Open(id string) (*pipeline.Pipeline, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.RLock()
	p, ok := r.sessions[id]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fault.ErrSessionClosed
	}
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fault.ErrSessionClosed
	}
	if p, ok := r.sessions[id]; ok {
		return p, nil
	}

	p, err := r.factory(id)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = p
	r.metrics.ActiveSessions.Add(context.Background(), 1)
	r.logger.Info("session opened", "session_id", id)
	return p, nil
}

// Get returns the pipeline for id without creating one.
func (r *Registry) Get(id string) (*pipeline.Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[id]
	return p, ok
}

// HandleInbound routes env to its session, creating the session on first
// contact.
func (r *Registry) HandleInbound(env event.Envelope) (event.Accept, error) {
	if env.SessionID == "" {
		return "", fault.Invalid("inbound envelope without session id")
	}
	p, err := r.Open(env.SessionID)
	if err != nil {
		return "", err
	}
	return p.HandleInbound(env)
}

// Remove closes and drops the session with the given id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	p, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	p.Close()
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	r.logger.Info("session removed", "session_id", id)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// loop runs the periodic idle sweep.
func (r *Registry) loop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts every session idle past the timeout. Busy sessions are
// skipped and re-examined on the next sweep.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var evict []*pipeline.Pipeline
	for id, p := range r.sessions {
		if p.Busy() || p.LastActive().After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		evict = append(evict, p)
	}
	r.mu.Unlock()

	for _, p := range evict {
		p.Close()
		r.metrics.ActiveSessions.Add(context.Background(), -1)
		r.metrics.SessionsEvicted.Add(context.Background(), 1)
		r.logger.Info("session evicted after idle timeout", "session_id", p.SessionID())
	}
}

// Close stops the janitor and shuts down every live session. Safe to call
// multiple times.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*pipeline.Pipeline)
	r.mu.Unlock()

	for id, p := range sessions {
		p.Close()
		r.metrics.ActiveSessions.Add(context.Background(), -1)
		r.logger.Debug("session closed on shutdown", "session_id", id)
	}
}
