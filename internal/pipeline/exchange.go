package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/embeddings"
)

// exchangeSessionState holds one session's sliding window of not-yet-grouped
// ideas, most recent last.
type exchangeSessionState struct {
	mu     sync.Mutex
	window []memory.Idea
}

// ExchangeDetector groups temporally-close ideas into exchanges (spec.md
// §4.6). It implements [IdeaSink].
type ExchangeDetector struct {
	mu       sync.Mutex
	sessions map[string]*exchangeSessionState

	exchanges  memory.ExchangeStore
	queue      memory.QueueStore
	embeddings embeddings.Provider

	gapThreshold time.Duration
}

// NewExchangeDetector creates an ExchangeDetector. gapThreshold is
// exchange.gap_threshold_ms from configuration, used only for the
// semantic-relation rule's inter-idea gap bound.
func NewExchangeDetector(exchanges memory.ExchangeStore, queue memory.QueueStore, emb embeddings.Provider, gapThreshold time.Duration) *ExchangeDetector {
	return &ExchangeDetector{
		sessions:     make(map[string]*exchangeSessionState),
		exchanges:    exchanges,
		queue:        queue,
		embeddings:   emb,
		gapThreshold: gapThreshold,
	}
}

// OnIdea admits a newly-written idea into its session's window and checks
// both grouping rules.
func (ed *ExchangeDetector) OnIdea(ctx context.Context, idea memory.Idea) error {
	st := ed.stateFor(idea.SessionID)

	st.mu.Lock()
	st.window = append(st.window, idea)

	// Temporal join: bounded to the 3 most recent ideas from this idea's
	// speaker (mirrors the reference implementation's `user_ideas[-3:]`).
	userIdeas := filterSpeaker(st.window, idea.UserID)
	if len(userIdeas) > 3 {
		userIdeas = userIdeas[len(userIdeas)-3:]
	}

	var consumed []memory.Idea
	var rule string

	if fire, group := checkTemporalJoin(userIdeas); fire {
		consumed, rule = group, "temporal_join"
	} else {
		// Semantic relation: bounded to the 5 most recent pending ideas
		// overall (mirrors `pending[-5:]`).
		window := st.window
		if len(window) > 5 {
			window = window[len(window)-5:]
		}
		if fire, group := checkSemanticRelation(window, ed.gapThreshold); fire {
			consumed, rule = group, "semantic_relation"
		}
	}

	if consumed != nil {
		st.window = removeIdeas(st.window, consumed)
	}
	st.mu.Unlock()

	if consumed == nil {
		return nil
	}
	return ed.fire(ctx, idea.SessionID, consumed, rule)
}

// FlushSession emits a final session_end exchange if at least two ideas
// remain in the session's window when the session ends.
func (ed *ExchangeDetector) FlushSession(ctx context.Context, sessionID string) error {
	st := ed.stateFor(sessionID)

	st.mu.Lock()
	remaining := st.window
	st.window = nil
	st.mu.Unlock()

	if len(remaining) < 2 {
		return nil
	}
	return ed.fire(ctx, sessionID, remaining, "session_end")
}

func (ed *ExchangeDetector) fire(ctx context.Context, sessionID string, ideas []memory.Idea, rule string) error {
	ids := make([]string, len(ideas))
	texts := make([]string, len(ideas))
	participantSet := make(map[string]struct{})
	for i, idea := range ideas {
		ids[i] = idea.ID
		texts[i] = idea.Text
		participantSet[idea.UserID] = struct{}{}
	}
	participants := make([]string, 0, len(participantSet))
	for p := range participantSet {
		participants = append(participants, p)
	}
	sort.Strings(participants)

	exch := memory.Exchange{
		ID:           uuid.NewString(),
		IdeaIDs:      ids,
		SessionID:    sessionID,
		Participants: participants,
		StartedAt:    ideas[0].StartedAt,
		EndedAt:      ideas[len(ideas)-1].EndedAt,
		EnrichmentStatus: map[string]string{
			"topic_extraction": "pending",
		},
	}

	if ed.embeddings != nil {
		vec, err := ed.embeddings.Embed(ctx, strings.Join(texts, " "))
		if err != nil {
			slog.Warn("exchange: embed text failed", "session_id", sessionID, "rule", rule, "err", err)
		} else {
			exch.Embedding = vec
		}
	}

	if err := ed.exchanges.CreateExchange(ctx, exch); err != nil {
		return fmt.Errorf("exchange: create exchange: %w", err)
	}

	if _, err := ed.queue.Enqueue(ctx, "exchange", exch.ID, "topic_extraction", ideaTaskPriority); err != nil {
		slog.Warn("exchange: enqueue topic_extraction failed", "exchange_id", exch.ID, "err", err)
	}

	slog.Debug("exchange fired", "session_id", sessionID, "rule", rule, "ideas", len(ideas), "exchange_id", exch.ID)
	return nil
}

func (ed *ExchangeDetector) stateFor(sessionID string) *exchangeSessionState {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	st, ok := ed.sessions[sessionID]
	if !ok {
		st = &exchangeSessionState{}
		ed.sessions[sessionID] = st
	}
	return st
}

func filterSpeaker(ideas []memory.Idea, userID string) []memory.Idea {
	var out []memory.Idea
	for _, i := range ideas {
		if i.UserID == userID {
			out = append(out, i)
		}
	}
	return out
}

// gapsWithin reports whether every consecutive inter-idea gap in ideas is
// within maxGap. exclusive controls whether the bound itself counts as a
// violation (semantic relation's "< 10s" vs temporal join's "<= 5s").
func gapsWithin(ideas []memory.Idea, maxGap time.Duration, exclusive bool) bool {
	for i := 1; i < len(ideas); i++ {
		gap := ideas[i].StartedAt.Sub(ideas[i-1].EndedAt)
		if exclusive {
			if gap >= maxGap {
				return false
			}
		} else if gap > maxGap {
			return false
		}
	}
	return true
}

// checkTemporalJoin implements the same-speaker grouping rule: at least two
// consecutive ideas, every gap <= 5s, total span <= 30s.
func checkTemporalJoin(ideas []memory.Idea) (bool, []memory.Idea) {
	if len(ideas) < 2 {
		return false, nil
	}
	if !gapsWithin(ideas, 5*time.Second, false) {
		return false, nil
	}
	span := ideas[len(ideas)-1].EndedAt.Sub(ideas[0].StartedAt)
	if span > 30*time.Second {
		return false, nil
	}
	return true, ideas
}

// checkSemanticRelation implements the multi-speaker grouping rule: at
// least two ideas, every gap < gapThreshold, and at least two distinct
// speakers.
func checkSemanticRelation(ideas []memory.Idea, gapThreshold time.Duration) (bool, []memory.Idea) {
	if len(ideas) < 2 {
		return false, nil
	}
	if !gapsWithin(ideas, gapThreshold, true) {
		return false, nil
	}
	speakers := make(map[string]struct{})
	for _, i := range ideas {
		speakers[i.UserID] = struct{}{}
	}
	if len(speakers) < 2 {
		return false, nil
	}
	return true, ideas
}

func removeIdeas(window []memory.Idea, consumed []memory.Idea) []memory.Idea {
	consumedIDs := make(map[string]struct{}, len(consumed))
	for _, c := range consumed {
		consumedIDs[c.ID] = struct{}{}
	}
	out := make([]memory.Idea, 0, len(window))
	for _, w := range window {
		if _, ok := consumedIDs[w.ID]; !ok {
			out = append(out, w)
		}
	}
	return out
}
