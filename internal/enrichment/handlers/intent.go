package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
)

const intentKeywordsPrompt = `Classify the speaker's intent and list the key topical words for the
following utterance. Respond with exactly two lines, nothing else:

INTENT: <a one or two word intent label, e.g. question, request, agreement>
KEYWORDS: <comma-separated keywords>

Utterance: %s`

// IntentKeywords classifies an idea's intent and extracts keywords via a
// single-shot, low-temperature LLM call, parsing the response by
// `INTENT:`/`KEYWORDS:` line prefixes (spec.md §4.9).
type IntentKeywords struct {
	ideas     memory.IdeaStore
	llm       llm.Provider
	model     string
	batchSize int
}

// NewIntentKeywords creates an IntentKeywords handler using model for every
// Generate call.
func NewIntentKeywords(ideas memory.IdeaStore, provider llm.Provider, model string, batchSize int) *IntentKeywords {
	return &IntentKeywords{ideas: ideas, llm: provider, model: model, batchSize: batchSize}
}

func (h *IntentKeywords) TaskType() string      { return "intent_keywords" }
func (h *IntentKeywords) TargetTypes() []string { return []string{"idea"} }
func (h *IntentKeywords) ModelID() string       { return h.model }
func (h *IntentKeywords) BatchSize() int        { return h.batchSize }

func (h *IntentKeywords) Process(ctx context.Context, tasks []memory.EnrichmentTask) []enrichment.Result {
	results := make([]enrichment.Result, 0, len(tasks))

	for _, task := range tasks {
		idea, err := h.ideas.GetIdea(ctx, task.TargetID)
		if err != nil || idea == nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: fmt.Errorf("intent/keywords: load idea %s: %w", task.TargetID, err)})
			continue
		}

		resp, err := h.llm.Generate(ctx, llm.GenerateRequest{
			Model:       h.model,
			Prompt:      fmt.Sprintf(intentKeywordsPrompt, idea.Text),
			Temperature: 0.1,
		})
		if err != nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: fmt.Errorf("intent/keywords: generate: %w", err)})
			continue
		}

		intent, keywords := parseIntentKeywords(resp)

		fields := map[string]any{
			"intent":                            intent,
			"keywords":                          keywords,
			"enrichment_status.intent_keywords": "complete",
		}
		if err := h.ideas.UpdateEnrichments(ctx, idea.ID, fields); err != nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: err})
			continue
		}
		results = append(results, enrichment.Result{TaskID: task.ID})
	}
	return results
}

// parseIntentKeywords scans resp line by line for INTENT:/KEYWORDS:
// prefixes. A malformed or missing INTENT line defaults to "unknown" rather
// than failing the task — a best-effort classification is preferable to
// discarding an otherwise-usable idea.
func parseIntentKeywords(resp string) (intent string, keywords []string) {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "INTENT:"):
			intent = strings.TrimSpace(line[len("INTENT:"):])
		case strings.HasPrefix(upper, "KEYWORDS:"):
			raw := strings.TrimSpace(line[len("KEYWORDS:"):])
			for _, kw := range strings.Split(raw, ",") {
				kw = strings.TrimSpace(kw)
				if kw != "" {
					keywords = append(keywords, kw)
				}
			}
		}
	}
	if intent == "" {
		intent = "unknown"
	}
	return intent, keywords
}
