package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrBreakerOpen = errors.New("breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen lets a single probe call through; its outcome decides
	// whether the breaker closes or re-opens.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker with a single-probe half-open
// phase. It protects a shared upstream adapter from being hammered while it
// is failing across many sessions at once.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker]. Zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		logger:      cfg.Logger,
	}
}

// Execute runs fn if the breaker allows it, otherwise returns
// [ErrBreakerOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, performing the open → half-open
// transition when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = false
		b.logger.Info("breaker half-open", "name", b.name)
		fallthrough
	case BreakerHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		if err != nil {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			b.logger.Warn("breaker re-opened after failed probe", "name", b.name)
			return
		}
		b.state = BreakerClosed
		b.failures = 0
		b.logger.Info("breaker closed after successful probe", "name", b.name)

	case BreakerClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			b.logger.Warn("breaker opened",
				"name", b.name,
				"consecutive_failures", b.failures)
		}
	}
}

// State reports the breaker's current state. An open breaker whose cooldown
// has elapsed reports half-open; the transition itself happens on the next
// Execute.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}
