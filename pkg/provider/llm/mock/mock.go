// Package mock provides a test double for the llm.Generator interface.
//
// Use Generator to feed a scripted reply to consumers and to verify the
// history, user text, and persona passed to the backend.
package mock

import (
	"context"
	"sync"

	"github.com/voxatar/voxatar/pkg/provider/llm"
)

// StreamReplyCall records a single invocation of StreamReply.
type StreamReplyCall struct {
	// Ctx is the context passed to StreamReply.
	Ctx context.Context
	// Req is the request passed to StreamReply.
	Req llm.ReplyRequest
}

// Generator is a mock implementation of llm.Generator.
// The zero value streams an empty reply; configure fields before use.
type Generator struct {
	mu sync.Mutex

	// ReplyChunks is the sequence of text fragments streamed back, each as
	// its own chunk. The final chunk carries FinishReason "stop".
	ReplyChunks []string

	// Err, if non-nil, is returned from StreamReply instead of a channel.
	Err error

	// StreamErr, if non-nil, is surfaced as a mid-stream "error" chunk after
	// ReplyChunks are delivered.
	StreamErr error

	// FailTimes makes the first N calls return Err (or StreamErr mid-stream)
	// before succeeding. Zero means the configured errors apply to every call.
	FailTimes int

	// Calls records every StreamReply invocation in order.
	Calls []StreamReplyCall
}

// StreamReply implements llm.Generator.
func (g *Generator) StreamReply(ctx context.Context, req llm.ReplyRequest) (<-chan llm.Chunk, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, StreamReplyCall{Ctx: ctx, Req: req})
	n := len(g.Calls)
	failing := g.FailTimes == 0 || n <= g.FailTimes
	err := g.Err
	streamErr := g.StreamErr
	chunks := make([]string, len(g.ReplyChunks))
	copy(chunks, g.ReplyChunks)
	g.mu.Unlock()

	if err != nil && failing {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for i, text := range chunks {
			out := llm.Chunk{Text: text}
			if i == len(chunks)-1 && streamErr == nil {
				out.FinishReason = "stop"
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil && failing {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: streamErr.Error()}:
			case <-ctx.Done():
			}
			return
		}
		if len(chunks) == 0 {
			select {
			case ch <- llm.Chunk{FinishReason: "stop"}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
