// Package llm defines the Generator interface for the reply-generation
// stage of the session pipeline, plus the persona configuration that biases
// prompt construction.
//
// A Generator turns a bounded conversation history and a new user utterance
// into streamed assistant reply text. Implementations must be safe for
// concurrent use: one Generator instance is shared across all sessions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/voxatar/voxatar/pkg/fault"
)

// Message is one prior conversation message, oldest first in a history
// slice. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// PersonaConfig biases prompt construction. Unrecognized Options keys are
// ignored, not errors.
type PersonaConfig struct {
	// Name is the persona's display name, woven into the system prompt.
	Name string

	// Tone is a free-form register hint such as "professional" or "casual".
	Tone string

	// MaxReplyLength bounds the reply in tokens. Zero means provider
	// default.
	MaxReplyLength int

	// DomainContext is a set of free-form key→value facts the persona
	// should know. Keys are rendered in sorted order so prompts are stable.
	DomainContext map[string]string

	// Options carries provider-specific extras. Implementations pick out
	// the keys they understand.
	Options map[string]any
}

// ReplyRequest is the input to one generation call. History is already
// windowed by the caller; the Generator never truncates it further.
type ReplyRequest struct {
	History  []Message
	UserText string
	Persona  PersonaConfig
}

// Chunk is one streamed fragment of the reply. A non-empty FinishReason
// marks the final chunk: "stop" for normal completion, "error" when the
// stream failed mid-way (Text then holds the error message).
type Chunk struct {
	Text         string
	FinishReason string
}

// Generator is the abstraction over any language-model backend.
type Generator interface {
	// StreamReply generates the assistant reply for req as a stream of
	// chunks. The channel is closed by the implementation when generation
	// completes, fails, or ctx is cancelled. The initial error return covers
	// failures that prevent the stream from starting, classified per the
	// pkg/fault taxonomy.
	StreamReply(ctx context.Context, req ReplyRequest) (<-chan Chunk, error)
}

// Collect drains a reply stream into the full reply text. A mid-stream
// "error" chunk is surfaced as a transient upstream failure.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var b strings.Builder
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return strings.TrimSpace(b.String()), nil
			}
			if chunk.FinishReason == "error" {
				return "", fault.Upstream(errors.New(chunk.Text))
			}
			b.WriteString(chunk.Text)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// BuildSystemPrompt renders the persona into a system prompt. DomainContext
// keys are emitted in sorted order to keep prompts deterministic.
func BuildSystemPrompt(p PersonaConfig) string {
	var b strings.Builder
	name := p.Name
	if name == "" {
		name = "an assistant"
	}
	fmt.Fprintf(&b, "You are %s, a conversational avatar. Reply with natural spoken language suitable for speech synthesis.", name)
	if p.Tone != "" {
		fmt.Fprintf(&b, " Keep a %s tone.", p.Tone)
	}
	if len(p.DomainContext) > 0 {
		b.WriteString("\n\nContext:")
		keys := make([]string, 0, len(p.DomainContext))
		for k := range p.DomainContext {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.DomainContext[k])
		}
	}
	return b.String()
}
