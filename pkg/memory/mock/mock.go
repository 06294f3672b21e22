// Package mock provides an in-memory test double for the memory package's
// seven store interfaces, backed by plain Go maps guarded by a single mutex.
//
// Store bundles one sub-store per tier, mirroring [postgres.Store]'s
// Sessions/Utterances/Aliases/Queue/Messages/Ideas/Exchanges accessors, so
// code written against the concrete postgres store can be exercised against
// Store without changes beyond construction.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// state is the shared in-memory data guarded by one mutex; every sub-store
// holds a pointer to the same state.
type state struct {
	mu sync.Mutex

	sessions     map[string]memory.Session
	participants map[string][]memory.Participant // sessionID -> participants
	utterances   map[int64]memory.Utterance
	nextUtt      int64
	sequences    map[string]int64 // sessionID -> counter
	aliases      []memory.SpeakerAlias
	tasks        map[string]memory.EnrichmentTask
	messages     []memory.Message
	nextMsg      int64
	ideas        map[string]memory.Idea
	exchanges    map[string]memory.Exchange
}

// Store is an in-memory implementation of all seven memory store interfaces,
// split into one sub-store type per tier so each can independently satisfy
// its interface. Safe for concurrent use.
type Store struct {
	st *state

	sessions   *sessionStore
	utterances *utteranceStore
	aliases    *aliasStore
	queue      *queueStore
	messages   *messageStore
	ideas      *ideaStore
	exchanges  *exchangeStore
}

// New returns a ready-to-use Store.
func New() *Store {
	st := &state{
		sessions:     map[string]memory.Session{},
		participants: map[string][]memory.Participant{},
		utterances:   map[int64]memory.Utterance{},
		sequences:    map[string]int64{},
		tasks:        map[string]memory.EnrichmentTask{},
		ideas:        map[string]memory.Idea{},
		exchanges:    map[string]memory.Exchange{},
	}
	return &Store{
		st:         st,
		sessions:   &sessionStore{st},
		utterances: &utteranceStore{st},
		aliases:    &aliasStore{st},
		queue:      &queueStore{st},
		messages:   &messageStore{st},
		ideas:      &ideaStore{st},
		exchanges:  &exchangeStore{st},
	}
}

func (s *Store) Sessions() *sessionStore     { return s.sessions }
func (s *Store) Utterances() *utteranceStore { return s.utterances }
func (s *Store) Aliases() *aliasStore        { return s.aliases }
func (s *Store) Queue() *queueStore          { return s.queue }
func (s *Store) Messages() *messageStore     { return s.messages }
func (s *Store) Ideas() *ideaStore           { return s.ideas }
func (s *Store) Exchanges() *exchangeStore   { return s.exchanges }

var (
	_ memory.SessionStore   = (*sessionStore)(nil)
	_ memory.UtteranceStore = (*utteranceStore)(nil)
	_ memory.AliasStore     = (*aliasStore)(nil)
	_ memory.QueueStore     = (*queueStore)(nil)
	_ memory.MessageStore   = (*messageStore)(nil)
	_ memory.IdeaStore      = (*ideaStore)(nil)
	_ memory.ExchangeStore  = (*exchangeStore)(nil)
)

// --- sessionStore ---

type sessionStore struct{ st *state }

func (s *sessionStore) CreateSession(_ context.Context, channel, channelName, guild string) (memory.Session, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	sess := memory.Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		Guild:     guild,
		StartedAt: time.Now(),
		Status:    memory.SessionActive,
	}
	s.st.sessions[sess.ID] = sess
	return sess, nil
}

func (s *sessionStore) GetActiveSessionByChannel(_ context.Context, channel string) (*memory.Session, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var best *memory.Session
	for _, sess := range s.st.sessions {
		if sess.Channel != channel || sess.Status != memory.SessionActive {
			continue
		}
		sess := sess
		if best == nil || sess.StartedAt.After(best.StartedAt) {
			best = &sess
		}
	}
	return best, nil
}

func (s *sessionStore) ListActive(_ context.Context) ([]memory.Session, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []memory.Session
	for _, sess := range s.st.sessions {
		if sess.Status == memory.SessionActive {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *sessionStore) ListParticipants(_ context.Context, sessionID string) ([]memory.Participant, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return append([]memory.Participant{}, s.st.participants[sessionID]...), nil
}

func (s *sessionStore) AddParticipant(_ context.Context, sessionID, userID, username, displayName string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.participants[sessionID] = append(s.st.participants[sessionID], memory.Participant{
		SessionID: sessionID, UserID: userID, Username: username, DisplayName: displayName,
		JoinedAt: time.Now(),
	})
	return nil
}

func (s *sessionStore) RemoveParticipant(_ context.Context, sessionID, userID string) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	ps := s.st.participants[sessionID]
	removed := false
	remaining := 0
	for i := range ps {
		if ps[i].LeftAt != nil {
			continue
		}
		if !removed && ps[i].UserID == userID {
			now := time.Now()
			ps[i].LeftAt = &now
			removed = true
			continue
		}
		remaining++
	}
	return remaining, nil
}

func (s *sessionStore) RecordActivity(_ context.Context, sessionID string, at time.Time) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.sessions[sessionID]; !ok {
		return fmt.Errorf("mock session store: unknown session %s", sessionID)
	}
	return nil
}

func (s *sessionStore) EndSession(_ context.Context, sessionID string, status memory.SessionStatus, endedAt time.Time) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	sess, ok := s.st.sessions[sessionID]
	if !ok {
		return fmt.Errorf("mock session store: unknown session %s", sessionID)
	}
	sess.Status = status
	sess.EndedAt = &endedAt
	s.st.sessions[sessionID] = sess
	return nil
}

// --- utteranceStore ---

type utteranceStore struct{ st *state }

func (s *utteranceStore) CreateUtterance(_ context.Context, u memory.Utterance) (memory.Utterance, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.sequences[u.SessionID]++
	u.SequenceNum = s.st.sequences[u.SessionID]
	s.st.nextUtt++
	u.ID = s.st.nextUtt
	s.st.utterances[u.ID] = u
	return u, nil
}

func (s *utteranceStore) GetUtterance(_ context.Context, id int64) (*memory.Utterance, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	u, ok := s.st.utterances[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *utteranceStore) GetUtterancesByIDs(_ context.Context, ids []int64) ([]memory.Utterance, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := []memory.Utterance{}
	for _, id := range ids {
		if u, ok := s.st.utterances[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// --- aliasStore ---

type aliasStore struct{ st *state }

func (s *aliasStore) AllAliases(_ context.Context) (map[string]string, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := map[string]string{}
	for _, a := range s.st.aliases {
		out[strings.ToLower(a.Alias)] = a.UserID
	}
	return out, nil
}

func (s *aliasStore) AddAlias(_ context.Context, alias memory.SpeakerAlias) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, a := range s.st.aliases {
		if a.UserID == alias.UserID && strings.ToLower(a.Alias) == strings.ToLower(alias.Alias) {
			return nil
		}
	}
	s.st.aliases = append(s.st.aliases, alias)
	return nil
}

func (s *aliasStore) SeedIfAbsent(ctx context.Context, userID, username, displayName string) error {
	s.st.mu.Lock()
	for _, a := range s.st.aliases {
		if a.UserID == userID {
			s.st.mu.Unlock()
			return nil
		}
	}
	s.st.mu.Unlock()

	if username != "" {
		if err := s.AddAlias(ctx, memory.SpeakerAlias{UserID: userID, Alias: username, AliasType: "username", Confidence: 1.0}); err != nil {
			return err
		}
	}
	if displayName != "" && displayName != username {
		if err := s.AddAlias(ctx, memory.SpeakerAlias{UserID: userID, Alias: displayName, AliasType: "display_name", Confidence: 1.0}); err != nil {
			return err
		}
	}
	return nil
}

// --- queueStore ---

type queueStore struct{ st *state }

func (s *queueStore) Enqueue(_ context.Context, targetType, targetID, taskType string, priority int) (string, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, t := range s.st.tasks {
		if t.TargetType == targetType && t.TargetID == targetID && t.TaskType == taskType {
			return t.ID, nil
		}
	}
	task := memory.EnrichmentTask{
		ID: uuid.NewString(), TargetType: targetType, TargetID: targetID, TaskType: taskType,
		Priority: priority, Status: "pending", CreatedAt: time.Now(),
	}
	s.st.tasks[task.ID] = task
	return task.ID, nil
}

func (s *queueStore) Pending(_ context.Context, limit int, taskTypes []string) ([]memory.EnrichmentTask, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	allow := map[string]bool{}
	for _, tt := range taskTypes {
		allow[tt] = true
	}
	var out []memory.EnrichmentTask
	for _, t := range s.st.tasks {
		if t.Status != "pending" {
			continue
		}
		if len(allow) > 0 && !allow[t.TaskType] {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *queueStore) Claim(_ context.Context, id string) (bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	t, ok := s.st.tasks[id]
	if !ok || t.Status != "pending" {
		return false, nil
	}
	now := time.Now()
	t.Status = "processing"
	t.StartedAt = &now
	t.Attempts++
	s.st.tasks[id] = t
	return true, nil
}

func (s *queueStore) Complete(_ context.Context, id string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	t, ok := s.st.tasks[id]
	if !ok {
		return fmt.Errorf("mock queue store: unknown task %s", id)
	}
	now := time.Now()
	t.Status = "complete"
	t.CompletedAt = &now
	s.st.tasks[id] = t
	return nil
}

func (s *queueStore) Fail(_ context.Context, id, errMsg string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	t, ok := s.st.tasks[id]
	if !ok {
		return fmt.Errorf("mock queue store: unknown task %s", id)
	}
	now := time.Now()
	t.Status = "failed"
	t.CompletedAt = &now
	t.Error = errMsg
	s.st.tasks[id] = t
	return nil
}

func (s *queueStore) ResetStale(_ context.Context, maxAge time.Duration, maxAttempts int) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, t := range s.st.tasks {
		if t.Status != "processing" || t.StartedAt == nil || !t.StartedAt.Before(cutoff) {
			continue
		}
		if t.Attempts >= maxAttempts {
			now := time.Now()
			t.Status = "failed"
			t.CompletedAt = &now
			t.Error = "exceeded max attempts while stale"
		} else {
			t.Status = "pending"
			t.StartedAt = nil
		}
		s.st.tasks[id] = t
		n++
	}
	return n, nil
}

func (s *queueStore) GetTask(_ context.Context, id string) (*memory.EnrichmentTask, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	t, ok := s.st.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// --- messageStore ---

type messageStore struct{ st *state }

func (s *messageStore) CreateMessage(_ context.Context, msg memory.Message) (memory.Message, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.nextMsg++
	msg.ID = s.st.nextMsg
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.st.messages = append(s.st.messages, msg)
	return msg, nil
}

func (s *messageStore) GetRecentMessages(_ context.Context, channel string, limit int) ([]memory.Message, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []memory.Message
	for i := len(s.st.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.st.messages[i].Channel == channel {
			out = append(out, s.st.messages[i])
		}
	}
	return out, nil
}

// --- ideaStore ---

type ideaStore struct{ st *state }

func (s *ideaStore) CreateIdea(_ context.Context, idea memory.Idea) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if idea.EnrichmentStatus == nil {
		idea.EnrichmentStatus = map[string]string{}
	}
	s.st.ideas[idea.ID] = idea
	return nil
}

func (s *ideaStore) GetIdea(_ context.Context, id string) (*memory.Idea, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	idea, ok := s.st.ideas[id]
	if !ok {
		return nil, nil
	}
	return &idea, nil
}

func (s *ideaStore) UpdateEnrichments(_ context.Context, id string, fields map[string]any) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	idea, ok := s.st.ideas[id]
	if !ok {
		return fmt.Errorf("mock idea store: unknown idea %s", id)
	}
	if idea.EnrichmentStatus == nil {
		idea.EnrichmentStatus = map[string]string{}
	}
	for key, val := range fields {
		switch {
		case key == "mentions":
			if v, ok := val.([]memory.Mention); ok {
				idea.Mentions = v
			}
		case key == "prosody_interpretation":
			if v, ok := val.(*memory.ProsodyInterpretation); ok {
				idea.ProsodyInterpretation = v
			}
		case key == "is_response_to_idea_id":
			if v, ok := val.(string); ok {
				idea.IsResponseToIdeaID = v
			}
		case key == "response_latency_ms":
			switch v := val.(type) {
			case *float64:
				idea.ResponseLatencyMs = v
			case float64:
				idea.ResponseLatencyMs = &v
			}
		case key == "intent":
			if v, ok := val.(string); ok {
				idea.Intent = v
			}
		case key == "keywords":
			if v, ok := val.([]string); ok {
				idea.Keywords = v
			}
		case strings.HasPrefix(key, "enrichment_status."):
			if v, ok := val.(string); ok {
				idea.EnrichmentStatus[key[len("enrichment_status."):]] = v
			}
		}
	}
	s.st.ideas[id] = idea
	return nil
}

func (s *ideaStore) GetPreviousIdea(_ context.Context, sessionID string, beforeTS time.Time, excludeUserID string) (*memory.Idea, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var best *memory.Idea
	for _, idea := range s.st.ideas {
		if idea.SessionID != sessionID || idea.UserID == excludeUserID || !idea.StartedAt.Before(beforeTS) {
			continue
		}
		idea := idea
		if best == nil || idea.StartedAt.After(best.StartedAt) {
			best = &idea
		}
	}
	return best, nil
}

func (s *ideaStore) Search(_ context.Context, embedding []float32, topK int, filter memory.IdeaFilter) ([]memory.IdeaResult, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []memory.IdeaResult
	for _, idea := range s.st.ideas {
		if filter.SessionID != "" && idea.SessionID != filter.SessionID {
			continue
		}
		if filter.UserID != "" && idea.UserID != filter.UserID {
			continue
		}
		out = append(out, memory.IdeaResult{Idea: idea, Distance: cosineDistance(embedding, idea.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// --- exchangeStore ---

type exchangeStore struct{ st *state }

func (s *exchangeStore) CreateExchange(_ context.Context, exchange memory.Exchange) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if exchange.EnrichmentStatus == nil {
		exchange.EnrichmentStatus = map[string]string{}
	}
	s.st.exchanges[exchange.ID] = exchange
	return nil
}

func (s *exchangeStore) GetExchange(_ context.Context, id string) (*memory.Exchange, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	ex, ok := s.st.exchanges[id]
	if !ok {
		return nil, nil
	}
	return &ex, nil
}

func (s *exchangeStore) UpdateEnrichments(_ context.Context, id string, fields map[string]any) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	ex, ok := s.st.exchanges[id]
	if !ok {
		return fmt.Errorf("mock exchange store: unknown exchange %s", id)
	}
	if ex.EnrichmentStatus == nil {
		ex.EnrichmentStatus = map[string]string{}
	}
	for key, val := range fields {
		switch {
		case key == "topic":
			if v, ok := val.(string); ok {
				ex.Topic = v
			}
		case strings.HasPrefix(key, "enrichment_status."):
			if v, ok := val.(string); ok {
				ex.EnrichmentStatus[key[len("enrichment_status."):]] = v
			}
		}
	}
	s.st.exchanges[id] = ex
	return nil
}



func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

