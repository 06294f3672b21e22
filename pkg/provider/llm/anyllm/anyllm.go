// Package anyllm provides an llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. The enrichment worker is expected to point this at a local
// Ollama-compatible endpoint, but any backend any-llm-go supports works
// identically through this adapter.
//
// Usage:
//
//	p, err := anyllm.NewOllama()
//	text, err := p.Generate(ctx, llm.GenerateRequest{Model: "llama3.1:8b", Prompt: "..."})
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

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (e.g., OPENAI_API_KEY).
func New(providerName string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend}, nil
}

// NewOllama creates a Provider backed by Ollama (local inference), the
// reference LLM adapter target. Without options, it connects to
// http://localhost:11434.
func NewOllama(opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", opts...)
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", opts...)
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", opts...)
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
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

// Generate implements llm.Provider as a single-shot, non-streaming
// completion: one user-turn prompt plus an optional system instruction, no
// conversation history and no tool calling.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	var messages []anyllmlib.Message
	if req.System != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.System})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: req.Prompt})

	params := anyllmlib.CompletionParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.Format != "" {
		params.ResponseFormat = &anyllmlib.ResponseFormat{Type: req.Format}
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: generate: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// Embed implements llm.Provider. any-llm-go's embedding call mirrors its
// completion call (a Model plus Input, returning per-input vectors); this
// provider only ever embeds one string at a time so it takes the first
// returned vector.
func (p *Provider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := p.backend.Embedding(ctx, anyllmlib.EmbeddingParams{
		Model: model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("anyllm: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("anyllm: embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// ListModels implements llm.Provider.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	models, err := p.backend.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("anyllm: list models: %w", err)
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids, nil
}

// Health implements llm.Provider by issuing a ListModels call and treating
// any error as unhealthy; any-llm-go does not expose a dedicated health
// endpoint across all of its backends.
func (p *Provider) Health(ctx context.Context) bool {
	_, err := p.backend.ListModels(ctx)
	return err == nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
