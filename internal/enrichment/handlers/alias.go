package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/internal/transcript/phonetic"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// AliasDetection resolves mentions inside an idea's text to user ids: an
// exact (case-insensitive) match against the known alias map first, falling
// back to the phonetic matcher for misheard names (spec.md §4.9).
type AliasDetection struct {
	ideas     memory.IdeaStore
	aliases   memory.AliasStore
	matcher   *phonetic.Matcher
	batchSize int
}

// NewAliasDetection creates an AliasDetection handler.
func NewAliasDetection(ideas memory.IdeaStore, aliases memory.AliasStore, matcher *phonetic.Matcher, batchSize int) *AliasDetection {
	return &AliasDetection{ideas: ideas, aliases: aliases, matcher: matcher, batchSize: batchSize}
}

func (h *AliasDetection) TaskType() string      { return "alias_detection" }
func (h *AliasDetection) TargetTypes() []string { return []string{"idea"} }
func (h *AliasDetection) ModelID() string       { return "" }
func (h *AliasDetection) BatchSize() int        { return h.batchSize }

// Process resolves mentions for each claimed idea and flips its
// enrichment_status.alias_detection to complete in the same write.
func (h *AliasDetection) Process(ctx context.Context, tasks []memory.EnrichmentTask) []enrichment.Result {
	aliasMap, err := h.aliases.AllAliases(ctx)
	if err != nil {
		return failAll(tasks, fmt.Errorf("alias detection: load alias map: %w", err))
	}
	entities := make([]string, 0, len(aliasMap))
	for alias := range aliasMap {
		entities = append(entities, alias)
	}

	results := make([]enrichment.Result, 0, len(tasks))
	for _, task := range tasks {
		idea, err := h.ideas.GetIdea(ctx, task.TargetID)
		if err != nil || idea == nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: fmt.Errorf("alias detection: load idea %s: %w", task.TargetID, err)})
			continue
		}

		mentions := detectMentions(idea.Text, idea.UserID, aliasMap, entities, h.matcher)

		fields := map[string]any{
			"mentions":                          mentions,
			"enrichment_status.alias_detection": "complete",
		}
		if err := h.ideas.UpdateEnrichments(ctx, idea.ID, fields); err != nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: err})
			continue
		}
		results = append(results, enrichment.Result{TaskID: task.ID})
	}
	return results
}

// detectMentions resolves alias mentions in text, excluding any mention that
// resolves to speakerID — a speaker's own name is not a mention of themself
// (spec.md §4.9).
func detectMentions(text, speakerID string, aliasMap map[string]string, entities []string, matcher *phonetic.Matcher) []memory.Mention {
	words := strings.Fields(text)
	seen := make(map[string]struct{})
	var mentions []memory.Mention

	for _, w := range words {
		clean := strings.Trim(strings.ToLower(w), ".,!?;:\"'")
		if clean == "" {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}

		if userID, ok := aliasMap[clean]; ok {
			seen[clean] = struct{}{}
			if userID == speakerID {
				continue
			}
			mentions = append(mentions, memory.Mention{Alias: clean, ResolvedUserID: userID, Confidence: 1.0})
			continue
		}

		corrected, confidence, matched := matcher.Match(clean, entities)
		if !matched {
			continue
		}
		if _, dup := seen[corrected]; dup {
			continue
		}
		seen[corrected] = struct{}{}
		if resolved := aliasMap[corrected]; resolved != speakerID {
			mentions = append(mentions, memory.Mention{
				Alias:          corrected,
				ResolvedUserID: resolved,
				Confidence:     confidence,
			})
		}
	}
	return mentions
}
