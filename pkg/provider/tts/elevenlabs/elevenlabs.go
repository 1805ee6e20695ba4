// Package elevenlabs synthesizes speech through the ElevenLabs stream-input
// WebSocket API.
//
// Each Synthesize call opens its own WebSocket to the multi-stream endpoint,
// sends the utterance text, and converts the incoming base64 audio frames to
// [tts.Chunk] values. Requesting character-level alignment lets the adapter
// attach viseme markers derived from the characters spoken in each frame, so
// lip-sync tracks the actual synthesis timing instead of an estimate.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/tts"
)

const (
	defaultBaseURL = "wss://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"

	// outputFormat is raw 16 kHz 16-bit mono PCM, 32 bytes per millisecond.
	outputFormat  = "pcm_16000"
	bytesPerMilli = 32
)

// Synthesizer streams speech synthesis from ElevenLabs.
type Synthesizer struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithBaseURL overrides the WebSocket endpoint, e.g. to target a regional
// cluster or a test server.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

// WithModel selects the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithTimeout bounds the WebSocket dial and each read.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

// WithLogger sets the logger for per-stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New creates an ElevenLabs Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fault.Invalid("elevenlabs: api key is required")
	}
	s := &Synthesizer{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// beginMessage opens a stream-input connection.
type beginMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XIAPIKey      string         `json:"xi_api_key"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type textMessage struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

type audioResponse struct {
	Audio     string     `json:"audio"`
	IsFinal   bool       `json:"isFinal"`
	Alignment *alignment `json:"alignment"`
	Error     string     `json:"error"`
	Message   string     `json:"message"`
}

// alignment carries per-character timing for the audio in the same frame.
// Start times are relative to the beginning of the whole utterance.
type alignment struct {
	Chars            []string `json:"chars"`
	CharStartTimesMs []int    `json:"charStartTimesMs"`
	CharDurationsMs  []int    `json:"charDurationsMs"`
}

// Synthesize implements [tts.Synthesizer].
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (<-chan tts.Chunk, error) {
	if text == "" {
		return nil, fault.Invalid("elevenlabs: text is empty")
	}
	if voice.VoiceID == "" {
		return nil, fault.Invalid("elevenlabs: voice id is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.streamURL(voice.VoiceID), nil)
	if err != nil {
		return nil, fault.Upstream(fmt.Errorf("elevenlabs: dial: %w", err))
	}
	conn.SetReadLimit(1 << 22)

	if err := s.sendUtterance(ctx, conn, text, voice); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, fault.Upstream(fmt.Errorf("elevenlabs: send: %w", err))
	}

	out := make(chan tts.Chunk, 8)
	go s.receive(ctx, conn, out)
	return out, nil
}

func (s *Synthesizer) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", s.model)
	q.Set("output_format", outputFormat)
	q.Set("sync_alignment", "true")
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", s.baseURL, url.PathEscape(voiceID), q.Encode())
}

// sendUtterance writes the begin-of-stream message, the utterance text and
// the end-of-stream flush. The whole reply is one utterance, so all writes
// happen up front and the connection then only produces audio frames.
func (s *Synthesizer) sendUtterance(ctx context.Context, conn *websocket.Conn, text string, voice tts.VoiceConfig) error {
	settings := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.8}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1.0 {
		settings.Speed = voice.SpeedFactor
	}
	begin, err := json.Marshal(beginMessage{Text: " ", VoiceSettings: settings, XIAPIKey: s.apiKey})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, begin); err != nil {
		return err
	}
	body, err := json.Marshal(textMessage{Text: text, Flush: true})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		return err
	}
	// Empty text closes the input side; the server finishes with isFinal.
	eos, err := json.Marshal(textMessage{Text: ""})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, eos)
}

// receive reads audio frames until the server signals completion, the
// context is cancelled, or the connection fails. It owns conn and out.
func (s *Synthesizer) receive(ctx context.Context, conn *websocket.Conn, out chan<- tts.Chunk) {
	defer close(out)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		readCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			out <- tts.Chunk{Err: fault.Upstream(fmt.Errorf("elevenlabs: read: %w", err))}
			return
		}

		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Warn("elevenlabs: skipping malformed frame", "error", err)
			continue
		}
		if resp.Error != "" {
			out <- tts.Chunk{Err: fault.Upstream(fmt.Errorf("elevenlabs: server error %s: %s", resp.Error, resp.Message))}
			return
		}
		if resp.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				s.logger.Warn("elevenlabs: undecodable audio frame", "error", err)
			} else if len(audio) > 0 {
				select {
				case out <- tts.Chunk{
					Audio:      audio,
					DurationMs: len(audio) / bytesPerMilli,
					Markers:    markersFromAlignment(resp.Alignment),
				}:
				case <-ctx.Done():
					return
				}
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// markersFromAlignment converts per-character timing to viseme markers,
// dropping characters with no mouth shape and collapsing runs of the same
// viseme into one marker at the run's start.
func markersFromAlignment(a *alignment) []tts.Marker {
	if a == nil {
		return nil
	}
	var markers []tts.Marker
	last := ""
	for i, ch := range a.Chars {
		if i >= len(a.CharStartTimesMs) {
			break
		}
		if len(ch) == 0 {
			continue
		}
		v := tts.VisemeForRune([]rune(ch)[0])
		if v == "" || v == last {
			continue
		}
		markers = append(markers, tts.Marker{TimestampMs: a.CharStartTimesMs[i], Viseme: v})
		last = v
	}
	return markers
}

// Voice describes one voice available to the account.
type Voice struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// ListVoices fetches the voices available for the configured API key. Used
// at startup to validate the configured voice ID.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]Voice, error) {
	endpoint := "https://api.elevenlabs.io/v1/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build voices request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fault.Upstream(fmt.Errorf("elevenlabs: list voices: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(resp.StatusCode, nil)
	}
	var parsed voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	return parsed.Voices, nil
}

// classifyHTTP maps REST status codes to the shared fault taxonomy. The
// voice listing endpoint reports errors over plain HTTP.
func classifyHTTP(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: elevenlabs: status %d: %v", fault.ErrInvalidInput, status, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return fault.Upstream(fmt.Errorf("elevenlabs: status %d: %v", status, err))
	default:
		return fmt.Errorf("elevenlabs: status %d: %v", status, err)
	}
}
