package openai

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/tts"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") did not fail")
	}
	if _, err := New("key", WithModel("tts-1"), WithBaseURL("http://localhost:1")); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	t.Parallel()

	s, err := New("key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.Synthesize(t.Context(), "", tts.VoiceConfig{VoiceID: "alloy"}); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("empty text: %v, want ErrInvalidInput", err)
	}
	if _, err := s.Synthesize(t.Context(), "hi", tts.VoiceConfig{}); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("empty voice: %v, want ErrInvalidInput", err)
	}
}

func TestRechunk(t *testing.T) {
	t.Parallel()

	// Body longer than one chunk so the split path is exercised.
	body := bytes.Repeat([]byte{0x01, 0x02}, chunkBytes) // 2 full chunks
	out := make(chan tts.Chunk, 8)
	go rechunk(t.Context(), io.NopCloser(bytes.NewReader(body)), out)

	var total, totalMs int
	for c := range out {
		if c.Err != nil {
			t.Fatalf("unexpected stream error: %v", c.Err)
		}
		total += len(c.Audio)
		totalMs += c.DurationMs
	}
	if total != len(body) {
		t.Errorf("streamed %d bytes, want %d", total, len(body))
	}
	if want := len(body) / bytesPerMilli; totalMs != want {
		t.Errorf("total duration %d ms, want %d", totalMs, want)
	}
}

func TestRechunkShortBody(t *testing.T) {
	t.Parallel()

	body := make([]byte, 96) // 2 ms, below one chunk
	out := make(chan tts.Chunk, 1)
	go rechunk(t.Context(), io.NopCloser(bytes.NewReader(body)), out)

	c, ok := <-out
	if !ok {
		t.Fatal("channel closed without chunks")
	}
	if len(c.Audio) != 96 || c.DurationMs != 2 {
		t.Errorf("chunk = %d bytes / %d ms, want 96 / 2", len(c.Audio), c.DurationMs)
	}
	if _, ok := <-out; ok {
		t.Error("expected channel to close after final chunk")
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }
func (r failingReader) Close() error             { return nil }

func TestRechunkReadError(t *testing.T) {
	t.Parallel()

	out := make(chan tts.Chunk, 1)
	go rechunk(t.Context(), failingReader{err: errors.New("conn reset")}, out)

	c := <-out
	if c.Err == nil || !errors.Is(c.Err, fault.ErrUpstreamUnavailable) {
		t.Fatalf("error chunk = %v, want ErrUpstreamUnavailable", c.Err)
	}
	if _, ok := <-out; ok {
		t.Error("expected channel to close after error chunk")
	}
}
