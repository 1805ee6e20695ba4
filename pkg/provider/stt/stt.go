// Package stt defines the Transcriber interface for the speech-to-text stage
// of the session pipeline.
//
// A Transcriber turns one complete user utterance — an opaque finite audio
// buffer whose format was negotiated at the transport boundary — into text.
// Unlike a live-captioning system there is no streaming session here: the
// pipeline hands over a whole utterance and waits for its transcript, so the
// interface is a single batch call.
//
// Implementations must be safe for concurrent use and must not retain the
// audio buffer after returning. Failures are classified per pkg/fault:
// empty or corrupt audio is [fault.ErrInvalidInput] (never retried), while
// timeouts and rate limits are [fault.ErrUpstreamUnavailable] (retried once).
package stt

import "context"

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts audio to text. locale is a BCP-47 language tag
	// (e.g. "en-US"); an empty locale lets the backend auto-detect, if
	// supported.
	Transcribe(ctx context.Context, audio []byte, locale string) (string, error)
}
