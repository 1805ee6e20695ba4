// Package event defines the shared value types exchanged between the session
// pipeline and the transport boundary: inbound message envelopes, outbound
// events, and finalized conversation turns.
//
// OutboundEvents are produced only by the session pipeline and are forwarded
// as-is by the transport layer. Within one turn they are delivered in
// non-decreasing TimestampMs order, with the transcript text preceding any
// audio, viseme, or gesture event.
package event

import "time"

// Kind identifies the payload carried by an [Outbound] event.
type Kind string

const (
	// KindTranscript carries the final transcription of the user's utterance.
	KindTranscript Kind = "transcript-text"

	// KindReplyDelta carries an incremental fragment of the assistant's reply
	// text, emitted as the language model streams its output.
	KindReplyDelta Kind = "reply-text-delta"

	// KindAudioChunk carries a chunk of synthesized reply audio.
	KindAudioChunk Kind = "audio-chunk"

	// KindViseme carries a lip-sync marker aligned to the reply audio.
	KindViseme Kind = "viseme-marker"

	// KindGesture carries a gesture trigger with playback-relative timing.
	KindGesture Kind = "gesture-trigger"

	// KindError carries a user-safe error report. Severity distinguishes a
	// failed turn from a degraded one.
	KindError Kind = "error"
)

// Severity grades an error event.
type Severity string

const (
	// SeverityWarning marks a degraded turn: the reply was still delivered,
	// but with reduced fidelity (e.g. text-only, or without gesture timing).
	SeverityWarning Severity = "warning"

	// SeverityFatal marks a failed turn. The session itself remains usable.
	SeverityFatal Severity = "fatal"
)

// Outbound is a single unit of pipeline output destined for the transport
// layer. Exactly one payload field is populated, selected by Kind.
type Outbound struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// Turn is the session's monotonically increasing turn counter, tagged on
	// every event so the transport can discard or reorder defensively.
	Turn uint64 `json:"turn"`

	// Kind selects the payload.
	Kind Kind `json:"kind"`

	// TimestampMs is the event's playback-schedule time in milliseconds
	// relative to reply-generation start. Text events carry 0.
	TimestampMs int `json:"timestamp_ms"`

	// Text holds the payload for transcript, reply-delta, and error events.
	Text string `json:"text,omitempty"`

	// Audio holds the payload for audio-chunk events.
	Audio []byte `json:"audio,omitempty"`

	// Viseme is the mouth-shape identifier for viseme-marker events.
	Viseme string `json:"viseme,omitempty"`

	// Gesture is the gesture name for gesture-trigger events.
	Gesture string `json:"gesture,omitempty"`

	// DurationMs is the gesture play duration for gesture-trigger events.
	DurationMs int `json:"duration_ms,omitempty"`

	// Mood is the conversation mood active when a gesture fires.
	Mood string `json:"mood,omitempty"`

	// Severity grades error events; empty for all other kinds.
	Severity Severity `json:"severity,omitempty"`
}

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is a single role-tagged message inside a [Turn].
type Utterance struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one user input and its resulting assistant reply. A Turn is
// immutable once finalized: it is appended to the session transcript only
// after every outbound event for it has been handed to the transport.
type Turn struct {
	// Counter is the session-scoped turn number, strictly increasing.
	Counter uint64 `json:"counter"`

	// User is the user's utterance (transcribed text for audio input).
	User Utterance `json:"user"`

	// Assistant is the assistant's reply, possibly a fallback line when
	// generation failed persistently.
	Assistant Utterance `json:"assistant"`

	// Degraded reports that the turn completed with reduced fidelity.
	Degraded bool `json:"degraded,omitempty"`
}

// InboundKind identifies the payload of an inbound [Envelope].
type InboundKind string

const (
	// InboundText is a complete textual user message.
	InboundText InboundKind = "text"

	// InboundAudioChunk is a fragment of user audio. Chunks accumulate until
	// an audio-end envelope arrives.
	InboundAudioChunk InboundKind = "audio-chunk"

	// InboundAudioEnd marks the end of a user utterance and triggers a turn.
	InboundAudioEnd InboundKind = "audio-end"
)

// Envelope is the inbound message frame consumed from the transport layer.
type Envelope struct {
	SessionID string      `json:"session_id"`
	Kind      InboundKind `json:"kind"`

	// Text is the message text for [InboundText] envelopes.
	Text string `json:"text,omitempty"`

	// Audio is the audio payload for [InboundAudioChunk] envelopes. The bytes
	// are treated as an opaque buffer; format is negotiated at the transport
	// boundary.
	Audio []byte `json:"audio,omitempty"`
}

// Accept is the synchronous outcome of handing an [Envelope] to a session.
type Accept string

const (
	// Accepted means the envelope started (or contributed to) a turn.
	Accepted Accept = "accepted"

	// Queued means a turn is in flight and the envelope waits its turn.
	// A later envelope may supersede a queued-but-not-started one.
	Queued Accept = "queued"

	// RejectedBusy means a turn is in flight and the wait queue is full.
	RejectedBusy Accept = "rejected-session-busy"
)
