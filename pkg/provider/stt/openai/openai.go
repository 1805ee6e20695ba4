// Package openai provides a Transcriber backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/stt"
)

// defaultModel is the transcription model used unless overridden.
const defaultModel = oai.AudioModelWhisper1

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
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

// WithModel selects the transcription model (default whisper-1).
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  string
}

// New constructs a Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
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

	return &Transcriber{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, locale string) (string, error) {
	if len(audio) == 0 {
		return "", fault.Invalid("openai stt: empty audio buffer")
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), "utterance.wav", "audio/wav"),
		Model: t.model,
	}
	if locale != "" {
		// The API wants a bare ISO-639-1 code, not a full BCP-47 tag.
		params.Language = oai.String(primaryLanguage(locale))
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// classify maps an OpenAI API error onto the pkg/fault taxonomy. Rate limits,
// server errors, and timeouts are transient; everything else (bad audio,
// unsupported format, auth) is fatal to the turn.
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
	// Network-level failures without an API status are transient.
	return fault.Upstream(err)
}

// primaryLanguage extracts the language subtag from a BCP-47 locale
// ("en-US" → "en").
func primaryLanguage(locale string) string {
	if i := strings.IndexByte(locale, '-'); i > 0 {
		return locale[:i]
	}
	return locale
}
