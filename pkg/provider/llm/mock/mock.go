// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the enrichment worker sends
// correct GenerateRequests and to feed controlled responses without a live
// LLM backend. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{GenerateText: "intent: question"}
//	text, err := p.Generate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the GenerateRequest passed to Generate.
	Req llm.GenerateRequest
}

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Model string
	Text  string
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and
// nil errors. Set the Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateText is returned by Generate.
	GenerateText string
	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// EmbedVector is returned by Embed.
	EmbedVector []float32
	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// Models is returned by ListModels.
	Models []string
	// ListModelsErr, if non-nil, is returned as the error from ListModels.
	ListModelsErr error

	// Healthy is returned by Health.
	Healthy bool

	// --- Call records (read after test) ---

	GenerateCalls   []GenerateCall
	EmbedCalls      []EmbedCall
	ListModelsCalls int
	HealthCalls     int
}

// Generate records the call and returns GenerateText, GenerateErr.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	if p.GenerateErr != nil {
		return "", p.GenerateErr
	}
	return p.GenerateText, nil
}

// Embed records the call and returns EmbedVector, EmbedErr.
func (p *Provider) Embed(_ context.Context, model, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Model: model, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedVector, nil
}

// ListModels records the call and returns Models, ListModelsErr.
func (p *Provider) ListModels(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListModelsCalls++
	if p.ListModelsErr != nil {
		return nil, p.ListModelsErr
	}
	return p.Models, nil
}

// Health records the call and returns Healthy.
func (p *Provider) Health(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HealthCalls++
	return p.Healthy
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
	p.EmbedCalls = nil
	p.ListModelsCalls = 0
	p.HealthCalls = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
