package enrichment

import (
	"context"
	"fmt"
	"sync"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
)

// ModelManager verifies a configured model_id is actually available from
// the LLM backend before an enrichment handler's first batch is dispatched
// against it (spec.md §4.9), caching a positive result so repeated ticks
// don't re-list models on every poll.
type ModelManager struct {
	provider llm.Provider

	mu   sync.Mutex
	warm map[string]bool
}

// NewModelManager creates a ModelManager over provider.
func NewModelManager(provider llm.Provider) *ModelManager {
	return &ModelManager{
		provider: provider,
		warm:     make(map[string]bool),
	}
}

// Ensure verifies modelID is listed by the backend, caching the result.
// Returns an error if the backend is unreachable or does not list modelID.
func (m *ModelManager) Ensure(ctx context.Context, modelID string) error {
	m.mu.Lock()
	if m.warm[modelID] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	models, err := m.provider.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("model manager: list models: %w", err)
	}
	for _, id := range models {
		if id == modelID {
			m.mu.Lock()
			m.warm[modelID] = true
			m.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("model manager: model %q not available from provider", modelID)
}

// Forget clears modelID's cached warm status, forcing the next Ensure call
// to re-check the backend. Used after a provider hot-swap.
func (m *ModelManager) Forget(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.warm, modelID)
}
