// Package whisper provides a Transcriber backed by the whisper.cpp CGO
// bindings, running inference in-process with no network hop. The whisper.cpp
// static library (libwhisper.a) and headers (whisper.h) must be available at
// link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once at construction and shared across all sessions;
// each Transcribe call creates its own whisper context, so concurrent calls
// do not interfere.
//
// Unlike hosted backends, this Transcriber requires a known input format:
// 16-bit signed little-endian PCM. Sample rate and channel count are fixed at
// construction (defaults 16 kHz mono, what whisper.cpp expects).
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultChannels = 1
)

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using whisper.cpp in-process.
type Transcriber struct {
	model    whisperlib.Model
	language string
	channels int
}

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the default ISO-639-1 language code used when the caller
// passes an empty locale. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithChannels sets the channel count of incoming PCM buffers. Multi-channel
// audio is down-mixed to mono before inference. Defaults to 1.
func WithChannels(n int) Option {
	return func(t *Transcriber) { t.channels = n }
}

// New creates a Transcriber that loads the whisper.cpp model from modelPath.
// The caller must call Close when the Transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
		channels: defaultChannels,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. The audio buffer must contain 16-bit
// little-endian PCM; an empty or odd-length buffer is rejected as invalid
// input.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, locale string) (string, error) {
	if len(audio) == 0 {
		return "", fault.Invalid("whisper: empty audio buffer")
	}
	if len(audio)%2 != 0 {
		return "", fault.Invalid("whisper: audio buffer is not 16-bit aligned")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	samples := pcmToFloat32Mono(audio, t.channels)

	// Each context is not thread-safe, but the model can be shared.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fault.Upstream(fmt.Errorf("whisper: create context: %w", err))
	}

	lang := t.language
	if locale != "" {
		lang = primaryLanguage(locale)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fault.Upstream(fmt.Errorf("whisper: process audio: %w", err))
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fault.Upstream(fmt.Errorf("whisper: read segment: %w", err))
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// primaryLanguage extracts the language subtag from a BCP-47 locale
// ("en-US" → "en").
func primaryLanguage(locale string) string {
	if i := strings.IndexByte(locale, '-'); i > 0 {
		return locale[:i]
	}
	return locale
}
