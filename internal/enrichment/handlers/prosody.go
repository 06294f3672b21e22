package handlers

import (
	"context"
	"fmt"

	"github.com/JasonMadeSomething/voxscribe/internal/config"
	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// ProsodyInterpretation derives a semantic reading (complete/trailing,
// question intonation, confidence indicators) from an idea's final
// utterance's acoustic features, against fixed named thresholds
// (spec.md §4.9 `[FULL]`).
type ProsodyInterpretation struct {
	ideas      memory.IdeaStore
	utterances memory.UtteranceStore
	cfg        config.ProsodyConfig
	batchSize  int
}

// NewProsodyInterpretation creates a ProsodyInterpretation handler.
func NewProsodyInterpretation(ideas memory.IdeaStore, utterances memory.UtteranceStore, cfg config.ProsodyConfig, batchSize int) *ProsodyInterpretation {
	return &ProsodyInterpretation{ideas: ideas, utterances: utterances, cfg: cfg, batchSize: batchSize}
}

func (h *ProsodyInterpretation) TaskType() string      { return "prosody_interpretation" }
func (h *ProsodyInterpretation) TargetTypes() []string { return []string{"idea"} }
func (h *ProsodyInterpretation) ModelID() string       { return "" }
func (h *ProsodyInterpretation) BatchSize() int        { return h.batchSize }

func (h *ProsodyInterpretation) Process(ctx context.Context, tasks []memory.EnrichmentTask) []enrichment.Result {
	results := make([]enrichment.Result, 0, len(tasks))

	for _, task := range tasks {
		idea, err := h.ideas.GetIdea(ctx, task.TargetID)
		if err != nil || idea == nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: fmt.Errorf("prosody interpretation: load idea %s: %w", task.TargetID, err)})
			continue
		}

		fields := map[string]any{
			"enrichment_status.prosody_interpretation": "complete",
		}

		if len(idea.UtteranceIDs) > 0 {
			lastID := idea.UtteranceIDs[len(idea.UtteranceIDs)-1]
			utt, err := h.utterances.GetUtterance(ctx, lastID)
			if err == nil && utt != nil && utt.Prosody != nil {
				fields["prosody_interpretation"] = interpretProsody(utt.Prosody, h.cfg)
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

func interpretProsody(p *memory.Prosody, cfg config.ProsodyConfig) *memory.ProsodyInterpretation {
	out := &memory.ProsodyInterpretation{ConfidenceIndicators: map[string]string{}}

	if p.FinalPitchSlope != nil {
		isQuestion := *p.FinalPitchSlope > cfg.QuestionPitchSlope
		out.IsQuestionProsody = &isQuestion
	}
	if p.FinalPitchSlope != nil && p.FinalIntensitySlope != nil {
		isComplete := *p.FinalPitchSlope < cfg.CompletePitchSlope && *p.FinalIntensitySlope < cfg.CompleteIntensitySlope
		out.IsComplete = &isComplete
	}
	if p.HNRDb != nil {
		if *p.HNRDb < cfg.MinHNRDb {
			out.ConfidenceIndicators["hnr"] = "low"
		} else {
			out.ConfidenceIndicators["hnr"] = "ok"
		}
	}
	if p.JitterLocal != nil {
		if *p.JitterLocal > cfg.MaxJitter {
			out.ConfidenceIndicators["jitter"] = "high"
		} else {
			out.ConfidenceIndicators["jitter"] = "ok"
		}
	}
	if p.IntensityMeanDB != nil {
		if *p.IntensityMeanDB < cfg.MinIntensityMeanDb {
			out.ConfidenceIndicators["intensity"] = "low"
		} else {
			out.ConfidenceIndicators["intensity"] = "ok"
		}
	}

	return out
}
