// Package fault defines the error taxonomy shared by the pipeline and the
// provider adapters.
//
// Adapters classify their failures by wrapping one of the sentinel errors
// below; the pipeline inspects them with [errors.Is] to decide between
// retrying, degrading, and failing the turn.
package fault

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed or empty input. Fatal to the turn,
	// never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable marks a transient upstream failure (timeout,
	// rate limit, temporary unavailability). Retried once per adapter call,
	// then degraded or failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSessionBusy is returned when an inbound message arrives while a turn
	// is in flight and the wait queue is full.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Invalid wraps err (or creates a new error from format args) as fatal input
// error.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Upstream wraps err as a transient upstream failure, preserving the original
// error for unwrapping.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// Transient reports whether err should be retried: either it is explicitly
// marked as [ErrUpstreamUnavailable], or it is a context deadline expiry
// (an adapter call that outlived its per-call budget).
func Transient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
