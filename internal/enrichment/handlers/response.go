package handlers

import (
	"context"
	"fmt"

	"github.com/JasonMadeSomething/voxscribe/internal/config"
	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// ResponseMapping links an idea to the most recent different-speaker idea
// it plausibly responds to (spec.md §4.9 `[FULL]`). An idea only classifies
// as a response when the gap to the previous idea is within
// ResponseMappingTimeThresholdMs, AND either the previous idea's prosody
// read as complete, or the gap is under the tighter
// ResponseMappingQuickLatencyMs (a fast reply counts even mid-sentence).
type ResponseMapping struct {
	ideas     memory.IdeaStore
	cfg       config.ExchangeConfig
	batchSize int
}

// NewResponseMapping creates a ResponseMapping handler.
func NewResponseMapping(ideas memory.IdeaStore, cfg config.ExchangeConfig, batchSize int) *ResponseMapping {
	return &ResponseMapping{ideas: ideas, cfg: cfg, batchSize: batchSize}
}

func (h *ResponseMapping) TaskType() string      { return "response_mapping" }
func (h *ResponseMapping) TargetTypes() []string { return []string{"idea"} }
func (h *ResponseMapping) ModelID() string       { return "" }
func (h *ResponseMapping) BatchSize() int        { return h.batchSize }

func (h *ResponseMapping) Process(ctx context.Context, tasks []memory.EnrichmentTask) []enrichment.Result {
	results := make([]enrichment.Result, 0, len(tasks))

	for _, task := range tasks {
		idea, err := h.ideas.GetIdea(ctx, task.TargetID)
		if err != nil || idea == nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: fmt.Errorf("response mapping: load idea %s: %w", task.TargetID, err)})
			continue
		}

		fields := map[string]any{
			"enrichment_status.response_mapping": "complete",
		}

		prev, err := h.ideas.GetPreviousIdea(ctx, idea.SessionID, idea.StartedAt, idea.UserID)
		if err == nil && prev != nil {
			if latencyMs, ok := responseLatency(idea, prev, h.cfg); ok {
				fields["is_response_to_idea_id"] = prev.ID
				fields["response_latency_ms"] = latencyMs
			}
		}

		if err := h.ideas.UpdateEnrichments(ctx, idea.ID, fields); err != nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: err})
			continue
		}
		results = append(results, enrichment.Result{TaskID: task.ID})
	}
	return results
}

func responseLatency(idea, prev *memory.Idea, cfg config.ExchangeConfig) (float64, bool) {
	gapMs := float64(idea.StartedAt.Sub(prev.EndedAt).Milliseconds())
	if gapMs < 0 {
		// Overlapping speech: not a sequential response.
		return 0, false
	}
	if gapMs > float64(cfg.ResponseMappingTimeThresholdMs) {
		return 0, false
	}
	prevComplete := prev.ProsodyInterpretation != nil &&
		prev.ProsodyInterpretation.IsComplete != nil &&
		*prev.ProsodyInterpretation.IsComplete
	if prevComplete || gapMs < float64(cfg.ResponseMappingQuickLatencyMs) {
		return gapMs, true
	}
	return 0, false
}
