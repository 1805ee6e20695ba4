// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled audio chunks to consumers and to verify
// the text and VoiceConfig passed to the synthesis backend.
package mock

import (
	"context"
	"sync"

	"github.com/voxatar/voxatar/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the utterance text passed to Synthesize.
	Text string
	// Voice is the VoiceConfig passed to Synthesize.
	Voice tts.VoiceConfig
}

// Synthesizer is a mock implementation of tts.Synthesizer. The zero value
// streams no chunks and succeeds.
type Synthesizer struct {
	mu    sync.Mutex
	fails int

	// --- Configurable responses ---

	// Chunks is the sequence emitted on the channel returned by Synthesize.
	Chunks []tts.Chunk

	// Err, if non-nil, is returned as the error from Synthesize instead of
	// starting a stream. If FailTimes is positive only the first FailTimes
	// calls fail and later calls succeed; otherwise every call fails.
	Err       error
	FailTimes int

	// StreamErr, if non-nil, is delivered as a final error chunk after
	// Chunks, simulating a mid-stream failure.
	StreamErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and, unless configured to fail, returns a
// channel that emits Chunks (and StreamErr, if set) then closes.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (<-chan tts.Chunk, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if s.Err != nil && (s.FailTimes <= 0 || s.fails < s.FailTimes) {
		s.fails++
		err := s.Err
		s.mu.Unlock()
		return nil, err
	}
	chunks := make([]tts.Chunk, len(s.Chunks))
	copy(chunks, s.Chunks)
	streamErr := s.StreamErr
	s.mu.Unlock()

	ch := make(chan tts.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if streamErr != nil {
			ch <- tts.Chunk{Err: streamErr}
		}
	}()
	return ch, nil
}

// CallCount reports how many times Synthesize was invoked. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// Reset clears all recorded calls and failure counters. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
	s.fails = 0
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
