package elevenlabs

import (
	"errors"
	"strings"
	"testing"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/tts"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); !errors.Is(err, fault.ErrInvalidInput) {
		t.Fatalf("New(\"\") error = %v, want ErrInvalidInput", err)
	}
	s, err := New("key", WithModel("eleven_turbo_v2_5"), WithBaseURL("wss://example.test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.model != "eleven_turbo_v2_5" {
		t.Errorf("model = %q", s.model)
	}
	if s.baseURL != "wss://example.test" {
		t.Errorf("baseURL = %q", s.baseURL)
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	s, err := New("key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got := s.streamURL("voice-123")
	if !strings.HasPrefix(got, "wss://api.elevenlabs.io/v1/text-to-speech/voice-123/stream-input?") {
		t.Errorf("streamURL path = %q", got)
	}
	for _, param := range []string{"model_id=" + defaultModel, "output_format=pcm_16000", "sync_alignment=true"} {
		if !strings.Contains(got, param) {
			t.Errorf("streamURL missing %q in %q", param, got)
		}
	}
}

func TestMarkersFromAlignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   *alignment
		want []string
		ts   []int
	}{
		{
			name: "nil alignment",
			in:   nil,
		},
		{
			name: "collapses viseme runs",
			in: &alignment{
				Chars:            []string{"h", "e", "l", "l", "o"},
				CharStartTimesMs: []int{0, 40, 80, 120, 160},
			},
			want: []string{"T", "E", "L", "O"},
			ts:   []int{0, 40, 80, 160},
		},
		{
			name: "skips silent characters",
			in: &alignment{
				Chars:            []string{" ", ",", "a"},
				CharStartTimesMs: []int{0, 10, 20},
			},
			want: []string{"A"},
			ts:   []int{20},
		},
		{
			name: "truncated start times",
			in: &alignment{
				Chars:            []string{"a", "e", "o"},
				CharStartTimesMs: []int{0, 50},
			},
			want: []string{"A", "E"},
			ts:   []int{0, 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := markersFromAlignment(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d markers %v, want %d", len(got), got, len(tt.want))
			}
			for i, m := range got {
				if m.Viseme != tt.want[i] || m.TimestampMs != tt.ts[i] {
					t.Errorf("marker[%d] = {%d %s}, want {%d %s}", i, m.TimestampMs, m.Viseme, tt.ts[i], tt.want[i])
				}
			}
		})
	}
}

func TestClassifyHTTP(t *testing.T) {
	t.Parallel()

	if err := classifyHTTP(500, nil); !errors.Is(err, fault.ErrUpstreamUnavailable) {
		t.Errorf("status 500: %v, want ErrUpstreamUnavailable", err)
	}
	if err := classifyHTTP(429, nil); !errors.Is(err, fault.ErrUpstreamUnavailable) {
		t.Errorf("status 429: %v, want ErrUpstreamUnavailable", err)
	}
	if err := classifyHTTP(401, nil); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("status 401: %v, want ErrInvalidInput", err)
	}
	if err := classifyHTTP(404, nil); errors.Is(err, fault.ErrUpstreamUnavailable) || errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("status 404 should stay unclassified, got %v", err)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	t.Parallel()

	s, err := New("key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := t.Context()
	if _, err := s.Synthesize(ctx, "", tts.VoiceConfig{VoiceID: "v"}); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("empty text: %v, want ErrInvalidInput", err)
	}
	if _, err := s.Synthesize(ctx, "hi", tts.VoiceConfig{}); !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("empty voice: %v, want ErrInvalidInput", err)
	}
}
