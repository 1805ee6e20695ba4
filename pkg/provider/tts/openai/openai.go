// Package openai synthesizes speech through the OpenAI speech endpoint.
//
// The endpoint returns the full utterance as one HTTP body; the adapter
// re-chunks it so downstream consumers see the same lazy stream shape as the
// WebSocket-based providers. No alignment data is available, so chunks carry
// no markers and lip-sync falls back to text-based estimation.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/tts"
)

const (
	defaultModel = oai.SpeechModelGPT4oMiniTTS

	// The pcm response format is 24 kHz 16-bit mono, 48 bytes per millisecond.
	bytesPerMilli = 48

	// chunkBytes keeps chunks near 500 ms of audio.
	chunkBytes = 24_000
)

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*config)

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the speech model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  oai.SpeechModel
}

// New constructs a Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Synthesizer{client: oai.NewClient(reqOpts...), model: oai.SpeechModel(cfg.model)}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (<-chan tts.Chunk, error) {
	if text == "" {
		return nil, fault.Invalid("openai tts: text is empty")
	}
	if voice.VoiceID == "" {
		return nil, fault.Invalid("openai tts: voice id is required")
	}

	params := oai.AudioSpeechNewParams{
		Model:          s.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.VoiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1.0 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	out := make(chan tts.Chunk, 8)
	go rechunk(ctx, resp.Body, out)
	return out, nil
}

// rechunk copies the response body onto the chunk channel in play-order
// pieces. It owns body and out.
func rechunk(ctx context.Context, body io.ReadCloser, out chan<- tts.Chunk) {
	defer close(out)
	defer body.Close()

	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			audio := make([]byte, n)
			copy(audio, buf[:n])
			select {
			case out <- tts.Chunk{Audio: audio, DurationMs: n / bytesPerMilli}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				out <- tts.Chunk{Err: fault.Upstream(fmt.Errorf("openai tts: read body: %w", err))}
			}
			return
		}
	}
}

// classify maps an OpenAI API error onto the pkg/fault taxonomy. Rate limits,
// server errors, and network failures are transient; bad input and auth
// errors are fatal to the turn.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return fault.Upstream(err)
		default:
			return fmt.Errorf("%w: %w", fault.ErrInvalidInput, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fault.Upstream(err)
}
