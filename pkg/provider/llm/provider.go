// Package llm defines the Provider interface for Large Language Model
// backends used by the enrichment worker's LLM-backed handlers (intent and
// keyword extraction).
//
// The contract is deliberately small: a single-shot text generation call, an
// embedding call, a model listing call, and a health probe. There is no
// streaming, no tool calling, and no chat-style message history — every
// enrichment prompt is a single-shot instruction over a fixed window of
// transcript context, so the richer multi-turn contract the earlier
// conversational engine used has no home here.
//
// Implementors must be safe for concurrent use: the enrichment worker may
// call Generate from multiple goroutines across concurrently processed
// task-type buckets.
package llm

import "context"

// GenerateRequest carries everything Generate needs to produce a response.
type GenerateRequest struct {
	// Model is the model identifier to use for this call (e.g.,
	// "llama3.1:8b"). Must not be empty.
	Model string

	// Prompt is the user-turn instruction text. Must not be empty.
	Prompt string

	// System is an optional system-role instruction injected ahead of
	// Prompt. Empty means no system instruction.
	System string

	// Format, if set, requests a structured output mode from providers that
	// support one (e.g., "json"). Providers that do not support format
	// constraints may ignore this field.
	Format string

	// Temperature controls output randomness. Enrichment handlers that need
	// deterministic parsing (intent/keywords) use a low value.
	Temperature float64
}

// Provider is the abstraction over any LLM backend used for enrichment.
type Provider interface {
	// Generate sends req to the model and returns the full text of its
	// response. Returns an error if the request fails or ctx is cancelled.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Embed computes the embedding vector for text using model. This exists
	// alongside pkg/provider/embeddings so that a single any-llm-go-backed
	// endpoint can serve both the enrichment worker's LLM calls and the
	// idea/exchange embedding calls without running two separate clients.
	Embed(ctx context.Context, model, text string) ([]float32, error)

	// ListModels returns the model identifiers currently available from the
	// backend. Used by the model manager to verify a configured model_id
	// actually exists before the first enrichment batch is dispatched.
	ListModels(ctx context.Context) ([]string, error)

	// Health reports whether the backend is currently reachable and
	// responding. The enrichment worker does not call it; the resilience
	// package's LLM fallback forwards it to its primary provider.
	Health(ctx context.Context) bool
}
