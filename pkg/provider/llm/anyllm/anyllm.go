// Package anyllm provides a Generator backed by github.com/mozilla-ai/any-llm-go,
// a unified multi-provider interface supporting OpenAI, Anthropic, Gemini,
// Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	g, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	g, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/provider/llm"
)

// Compile-time assertion that Generator satisfies llm.Generator.
var _ llm.Generator = (*Generator)(nil)

// Generator implements llm.Generator by wrapping any-llm-go.
type Generator struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Generator backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model to use (e.g., "gpt-4o-mini", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option, the backend falls back
// to the relevant environment variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Generator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Generator{backend: backend, model: model}, nil
}

// StreamReply implements llm.Generator.
func (g *Generator) StreamReply(ctx context.Context, req llm.ReplyRequest) (<-chan llm.Chunk, error) {
	if strings.TrimSpace(req.UserText) == "" {
		return nil, fault.Invalid("anyllm: empty user text")
	}

	params := g.buildParams(req)
	backendChunks, backendErrs := g.backend.CompletionStream(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel drains.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams converts a ReplyRequest into any-llm CompletionParams.
func (g *Generator) buildParams(req llm.ReplyRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.History)+2)
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleSystem,
		Content: llm.BuildSystemPrompt(req.Persona),
	})
	for _, m := range req.History {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.UserText,
	})

	params := anyllmlib.CompletionParams{
		Model:    g.model,
		Messages: messages,
	}
	if req.Persona.MaxReplyLength > 0 {
		mt := req.Persona.MaxReplyLength
		params.MaxTokens = &mt
	}
	return params
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}
