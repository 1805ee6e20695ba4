// Package mock provides a test double for the stt.Transcriber interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxatar/voxatar/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the audio buffer passed to Transcribe.
	Audio []byte
	// Locale is the locale passed to Transcribe.
	Locale string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned from Transcribe on success.
	Text string

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// FailTimes makes the first N calls return Err before succeeding.
	// Zero means Err applies to every call.
	FailTimes int

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall
}

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, locale string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]byte, len(audio))
	copy(cp, audio)
	t.Calls = append(t.Calls, TranscribeCall{Ctx: ctx, Audio: cp, Locale: locale})

	if t.Err != nil && (t.FailTimes == 0 || len(t.Calls) <= t.FailTimes) {
		return "", t.Err
	}
	return t.Text, nil
}

// CallCount returns the number of recorded Transcribe calls.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
