package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/embeddings"
)

// ideaEnrichmentTaskTypes are the four tasks fixed-enqueued against every new
// idea (spec.md §4.5 step 4).
var ideaEnrichmentTaskTypes = []string{
	"alias_detection",
	"prosody_interpretation",
	"response_mapping",
	"intent_keywords",
}

const ideaTaskPriority = 2

// IdeaSink receives a newly-written idea. Implemented by
// [ExchangeDetector.OnIdea].
type IdeaSink interface {
	OnIdea(ctx context.Context, idea memory.Idea) error
}

// boundarySessionState is the per-session FIFO state a [BoundaryDetector]
// tracks: one pending-utterance FIFO per speaker, plus enough cross-speaker
// bookkeeping to detect a speaker change.
type boundarySessionState struct {
	mu                 sync.Mutex
	fifos              map[string][]memory.Utterance
	lastSpeaker        string
	lastSpeakerEndedAt time.Time
}

// BoundaryDetector groups a session's pending utterances into ideas once any
// of the four boundary rules fires (spec.md §4.5).
type BoundaryDetector struct {
	mu       sync.Mutex
	sessions map[string]*boundarySessionState

	ideas      memory.IdeaStore
	queue      memory.QueueStore
	embeddings embeddings.Provider
	next       IdeaSink

	boundarySilence time.Duration
	maxDuration     time.Duration
}

// NewBoundaryDetector creates a BoundaryDetector. embeddings may be nil — an
// idea is still written, just without a search vector. next may be nil in
// tests that don't exercise exchange detection.
func NewBoundaryDetector(ideas memory.IdeaStore, queue memory.QueueStore, emb embeddings.Provider, next IdeaSink, boundarySilence time.Duration, maxDuration time.Duration) *BoundaryDetector {
	return &BoundaryDetector{
		sessions:        make(map[string]*boundarySessionState),
		ideas:           ideas,
		queue:           queue,
		embeddings:      emb,
		next:            next,
		boundarySilence: boundarySilence,
		maxDuration:     maxDuration,
	}
}

// OnUtterance is the transcription stage's synchronous post-commit hook. It
// implements [UtteranceSink].
func (bd *BoundaryDetector) OnUtterance(ctx context.Context, utt memory.Utterance) error {
	st := bd.stateFor(utt.SessionID)

	st.mu.Lock()

	// Rule 4 (speaker change): evaluated — and, if it fires, the previous
	// speaker's FIFO is drained — BEFORE the new utterance is appended to
	// its own speaker's FIFO (spec.md §4.5 tie-break note).
	var (
		changeSpeaker  string
		changePending  []memory.Utterance
	)
	if st.lastSpeaker != "" && st.lastSpeaker != utt.UserID && !st.lastSpeakerEndedAt.IsZero() {
		if utt.StartedAt.Sub(st.lastSpeakerEndedAt) >= bd.boundarySilence {
			if pending := st.fifos[st.lastSpeaker]; len(pending) > 0 {
				changeSpeaker = st.lastSpeaker
				changePending = append([]memory.Utterance(nil), pending...)
				delete(st.fifos, st.lastSpeaker)
			}
		}
	}

	st.fifos[utt.UserID] = append(st.fifos[utt.UserID], utt)
	st.lastSpeaker = utt.UserID
	st.lastSpeakerEndedAt = utt.EndedAt

	var ownPending []memory.Utterance
	if bd.shouldFire(st.fifos[utt.UserID]) {
		ownPending = append([]memory.Utterance(nil), st.fifos[utt.UserID]...)
		delete(st.fifos, utt.UserID)
	}

	st.mu.Unlock()

	var errs []error
	if changeSpeaker != "" {
		if err := bd.fire(ctx, utt.SessionID, changeSpeaker, changePending); err != nil {
			errs = append(errs, err)
		}
	}
	if ownPending != nil {
		if err := bd.fire(ctx, utt.SessionID, utt.UserID, ownPending); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// shouldFire evaluates the three same-speaker boundary rules, in the fixed
// order recorded in spec.md §9's Design Notes (the order is observationally
// irrelevant — any rule firing produces the same idea).
func (bd *BoundaryDetector) shouldFire(pending []memory.Utterance) bool {
	if len(pending) == 0 {
		return false
	}
	span := pending[len(pending)-1].EndedAt.Sub(pending[0].StartedAt)

	if span >= bd.maxDuration {
		return true
	}
	if span >= 15*time.Second && len(pending) >= 2 {
		return true
	}
	if len(pending) >= 3 {
		return true
	}
	return false
}

// FlushSession forces a boundary for every speaker in sessionID with a
// nonempty FIFO, regardless of rules. Called when a session ends.
func (bd *BoundaryDetector) FlushSession(ctx context.Context, sessionID string) error {
	st := bd.stateFor(sessionID)

	st.mu.Lock()
	pendingBySpeaker := st.fifos
	st.fifos = make(map[string][]memory.Utterance)
	st.mu.Unlock()

	var errs []error
	for speaker, pending := range pendingBySpeaker {
		if len(pending) == 0 {
			continue
		}
		if err := bd.fire(ctx, sessionID, speaker, pending); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (bd *BoundaryDetector) fire(ctx context.Context, sessionID, speaker string, pending []memory.Utterance) error {
	ids := make([]int64, len(pending))
	texts := make([]string, len(pending))
	for i, u := range pending {
		ids[i] = u.ID
		texts[i] = u.Text
	}

	idea := memory.Idea{
		ID:           uuid.NewString(),
		UtteranceIDs: ids,
		SessionID:    sessionID,
		UserID:       speaker,
		Text:         strings.Join(texts, " "),
		StartedAt:    pending[0].StartedAt,
		EndedAt:      pending[len(pending)-1].EndedAt,
		EnrichmentStatus: map[string]string{
			"alias_detection":        "pending",
			"prosody_interpretation": "pending",
			"response_mapping":       "pending",
			"intent_keywords":        "pending",
		},
	}

	if bd.embeddings != nil {
		vec, err := bd.embeddings.Embed(ctx, idea.Text)
		if err != nil {
			slog.Warn("boundary: embed idea text failed", "session_id", sessionID, "speaker", speaker, "err", err)
		} else {
			idea.Embedding = vec
		}
	}

	if err := bd.ideas.CreateIdea(ctx, idea); err != nil {
		return fmt.Errorf("boundary: create idea: %w", err)
	}

	for _, taskType := range ideaEnrichmentTaskTypes {
		if _, err := bd.queue.Enqueue(ctx, "idea", idea.ID, taskType, ideaTaskPriority); err != nil {
			slog.Warn("boundary: enqueue task failed", "idea_id", idea.ID, "task_type", taskType, "err", err)
		}
	}

	if bd.next != nil {
		if err := bd.next.OnIdea(ctx, idea); err != nil {
			slog.Warn("boundary: notify exchange detector failed", "idea_id", idea.ID, "err", err)
		}
	}

	return nil
}

func (bd *BoundaryDetector) stateFor(sessionID string) *boundarySessionState {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	st, ok := bd.sessions[sessionID]
	if !ok {
		st = &boundarySessionState{fifos: make(map[string][]memory.Utterance)}
		bd.sessions[sessionID] = st
	}
	return st
}
