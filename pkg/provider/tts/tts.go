// Package tts defines the Synthesizer interface for the speech-synthesis
// stage of the session pipeline.
//
// A Synthesizer turns reply text into a lazy stream of audio chunks plus
// time-aligned viseme markers. Chunks are emitted once, in generation order,
// so the pipeline can start consuming audio before synthesis of the full
// reply completes. Marker timestamps are relative to the start of the
// concatenated audio and strictly increasing across the stream — this
// alignment is the property avatar lip-sync depends on.
//
// Implementations must be safe for concurrent use: one Synthesizer instance
// is shared read-only across all sessions.
package tts

import (
	"context"
	"unicode"
)

// Marker is a single lip-sync marker: which mouth shape is active at a given
// point in the synthesized audio.
type Marker struct {
	// TimestampMs is the marker's position in milliseconds from the start of
	// the concatenated audio stream.
	TimestampMs int

	// Viseme is the mouth-shape class, one of the identifiers produced by
	// [VisemeForRune].
	Viseme string
}

// Chunk is one unit of synthesized audio.
type Chunk struct {
	// Audio is the raw audio payload. Encoding is provider-specific and
	// negotiated at the transport boundary.
	Audio []byte

	// DurationMs is the play duration of Audio.
	DurationMs int

	// Markers are the lip-sync markers that fall within this chunk, with
	// timestamps relative to the start of the whole utterance.
	Markers []Marker

	// Err, when non-nil, reports a mid-stream synthesis failure. A chunk
	// carrying Err is the last one on the channel and carries no audio.
	Err error
}

// VoiceConfig selects the voice identity for synthesis.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string

	// Locale is the BCP-47 language tag of the voice.
	Locale string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	SpeedFactor float64
}

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize converts text to speech. The returned channel is closed by
	// the implementation when synthesis completes, fails (final chunk carries
	// Err), or ctx is cancelled. Callers must drain the channel.
	//
	// The initial error return is non-nil only for failures that prevent the
	// stream from starting; it is classified per the pkg/fault taxonomy.
	Synthesize(ctx context.Context, text string, voice VoiceConfig) (<-chan Chunk, error)
}

// VisemeForRune maps a character of spoken text to a coarse viseme class.
// The nine classes cover the vowel mouth shapes A/E/I/O/U plus the closed
// (M), lateral (L), sibilant (S), and stop (T) consonant shapes. Characters
// with no mouth shape (punctuation, space) map to the empty string.
func VisemeForRune(r rune) string {
	switch unicode.ToLower(r) {
	case 'a':
		return "A"
	case 'e':
		return "E"
	case 'i', 'y':
		return "I"
	case 'o':
		return "O"
	case 'u', 'w':
		return "U"
	case 'm', 'p', 'b':
		return "M"
	case 'l', 'r':
		return "L"
	case 's', 'z', 'c', 'j', 'x':
		return "S"
	case 't', 'd', 'k', 'g', 'q', 'n', 'f', 'v', 'h':
		return "T"
	default:
		return ""
	}
}
