package resilience

import (
	"context"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (string, error) {
		return p.Generate(ctx, req)
	})
}

// Embed delegates to the first healthy provider's embedding call.
func (f *LLMFallback) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) ([]float32, error) {
		return p.Embed(ctx, model, text)
	})
}

// ListModels delegates to the first healthy provider's model list.
func (f *LLMFallback) ListModels(ctx context.Context) ([]string, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) ([]string, error) {
		return p.ListModels(ctx)
	})
}

// Health reports whether the primary provider is healthy. This does not
// participate in failover since it is a probe, not a request to be retried.
func (f *LLMFallback) Health(ctx context.Context) bool {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Health(ctx)
	}
	return false
}
