package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
)

const topicExtractionPrompt = `Summarize, in eight words or fewer, the topic of the following
conversation excerpt. Respond with only the topic phrase and nothing else.

Excerpt: %s`

// TopicExtraction labels an exchange with a short topic phrase, joining the
// text of its constituent ideas into one prompt. This handler is not named
// in the original boundary/exchange enrichment task list; it is the
// supplemented fifth handler that consumes the `topic_extraction` task
// already enqueued by the exchange detector.
type TopicExtraction struct {
	exchanges memory.ExchangeStore
	ideas     memory.IdeaStore
	llm       llm.Provider
	model     string
	batchSize int
}

// NewTopicExtraction creates a TopicExtraction handler using model for
// every Generate call.
func NewTopicExtraction(exchanges memory.ExchangeStore, ideas memory.IdeaStore, provider llm.Provider, model string, batchSize int) *TopicExtraction {
	return &TopicExtraction{exchanges: exchanges, ideas: ideas, llm: provider, model: model, batchSize: batchSize}
}

func (h *TopicExtraction) TaskType() string      { return "topic_extraction" }
func (h *TopicExtraction) TargetTypes() []string { return []string{"exchange"} }
func (h *TopicExtraction) ModelID() string       { return h.model }
func (h *TopicExtraction) BatchSize() int        { return h.batchSize }

func (h *TopicExtraction) Process(ctx context.Context, tasks []memory.EnrichmentTask) []enrichment.Result {
	results := make([]enrichment.Result, 0, len(tasks))

	for _, task := range tasks {
		exch, err := h.exchanges.GetExchange(ctx, task.TargetID)
		if err != nil || exch == nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: fmt.Errorf("topic extraction: load exchange %s: %w", task.TargetID, err)})
			continue
		}

		excerpt := h.joinIdeaText(ctx, exch.IdeaIDs)

		topic := "unknown"
		if resp, err := h.llm.Generate(ctx, llm.GenerateRequest{
			Model:       h.model,
			Prompt:      fmt.Sprintf(topicExtractionPrompt, excerpt),
			Temperature: 0.2,
		}); err == nil {
			topic = cleanTopic(resp)
		}

		fields := map[string]any{
			"topic":                             topic,
			"enrichment_status.topic_extraction": "complete",
		}
		if err := h.exchanges.UpdateEnrichments(ctx, exch.ID, fields); err != nil {
			results = append(results, enrichment.Result{TaskID: task.ID, Err: err})
			continue
		}
		results = append(results, enrichment.Result{TaskID: task.ID})
	}
	return results
}

func (h *TopicExtraction) joinIdeaText(ctx context.Context, ideaIDs []string) string {
	texts := make([]string, 0, len(ideaIDs))
	for _, id := range ideaIDs {
		idea, err := h.ideas.GetIdea(ctx, id)
		if err != nil || idea == nil {
			continue
		}
		texts = append(texts, idea.Text)
	}
	return strings.Join(texts, " ")
}

// cleanTopic trims an LLM response down to a bare, <=8-word topic phrase,
// defaulting to "unknown" on an empty or malformed response.
func cleanTopic(resp string) string {
	line := strings.TrimSpace(strings.SplitN(resp, "\n", 2)[0])
	line = strings.Trim(line, "\"'.,")
	words := strings.Fields(line)
	if len(words) == 0 {
		return "unknown"
	}
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}
