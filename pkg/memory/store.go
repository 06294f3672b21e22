// Package memory defines the two-tier storage contract for Voxscribe.
//
// The relational tier (see [SessionStore], [UtteranceStore], [AliasStore],
// [QueueStore], [MessageStore]) owns sessions, participants, utterances,
// speaker aliases, the enrichment queue, and text-chat messages. The vector
// tier (see [IdeaStore], [ExchangeStore]) owns ideas and exchanges, each
// carrying a text embedding for semantic search.
//
// The two tiers are linked only by opaque ids — utterance ids appear inside
// idea payloads, session ids are plain strings — never by a cross-store
// foreign key. A concrete implementation (see the postgres subpackage) may
// back both tiers with the same database, but callers must not assume that.
package memory

import (
	"context"
	"time"
)

// SessionStatus is the lifecycle state of a [Session].
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionAbandoned SessionStatus = "abandoned"
)

// Session is one continuous occupancy of a voice channel.
type Session struct {
	ID        string
	Channel   string
	Guild     string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    SessionStatus
}

// Participant is one user's membership span within a [Session].
type Participant struct {
	SessionID   string
	UserID      string
	Username    string
	DisplayName string
	JoinedAt    time.Time
	LeftAt      *time.Time
}

// Prosody holds the acoustic features extracted from one utterance's audio,
// consumed by the prosody-interpretation enrichment handler. Any field may be
// nil when the extractor could not compute it (e.g. audio too short).
type Prosody struct {
	FinalPitchSlope     *float64
	FinalIntensitySlope *float64
	HNRDb               *float64
	JitterLocal         *float64
	IntensityMeanDB     *float64
}

// Utterance is a single transcription-unit produced from one drain of one
// speaker's audio buffer. Immutable once written.
type Utterance struct {
	ID            int64
	SessionID     string
	UserID        string
	Username      string
	DisplayName   string
	Text          string
	StartedAt     time.Time
	EndedAt       time.Time
	Confidence    float64
	AudioDuration time.Duration
	SequenceNum   int64
	Prosody       *Prosody
}

// Mention is a reference inside an idea's text that resolved, via the alias
// map, to another speaker's user id.
type Mention struct {
	Alias          string
	ResolvedUserID string
	Confidence     float64
}

// ProsodyInterpretation is the derived semantic reading of an idea's final
// utterance's prosody, produced by the prosody-interpretation handler.
type ProsodyInterpretation struct {
	IsComplete           *bool
	IsQuestionProsody    *bool
	ConfidenceIndicators map[string]string
}

// Idea is a contiguous run of one speaker's utterances, grouped under
// boundary rules, and the unit of semantic enrichment.
type Idea struct {
	ID           string
	UtteranceIDs []int64
	SessionID    string
	UserID       string
	Text         string
	StartedAt    time.Time
	EndedAt      time.Time
	Embedding    []float32

	// Enrichment fields. Core fields above never change after creation;
	// these are written by enrichment handlers via UpdateEnrichments.
	Mentions              []Mention
	ProsodyInterpretation *ProsodyInterpretation
	IsResponseToIdeaID    string
	ResponseLatencyMs     *float64
	Intent                string
	Keywords              []string
	EnrichmentStatus      map[string]string
}

// Exchange is a set of temporally-close ideas, either same-speaker joined or
// multi-speaker interleaved.
type Exchange struct {
	ID           string
	IdeaIDs      []string
	SessionID    string
	Participants []string
	StartedAt    time.Time
	EndedAt      time.Time
	Embedding    []float32

	Topic            string
	EnrichmentStatus map[string]string
}

// SpeakerAlias is a string that resolves to a user id.
type SpeakerAlias struct {
	ID         int64
	UserID     string
	Alias      string
	AliasType  string // username, display_name, nickname, mention
	Confidence float64
	CreatedBy  string
}

// EnrichmentTask is a unit of background work against one target.
type EnrichmentTask struct {
	ID          string
	TargetType  string // idea, exchange, session
	TargetID    string
	TaskType    string
	Priority    int
	Status      string // pending, processing, complete, failed
	Attempts    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// Message is a text-channel chat message, distinct from a voice [Utterance].
// No ingress adapter in this module populates this table; it exists so the
// relational schema matches the full surface named for the store.
type Message struct {
	ID        int64
	Channel   string
	UserID    string
	Username  string
	Text      string
	Timestamp time.Time
}

// SessionStore is the relational-tier session/participant lifecycle.
type SessionStore interface {
	CreateSession(ctx context.Context, channel, channelName, guild string) (Session, error)
	GetActiveSessionByChannel(ctx context.Context, channel string) (*Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	AddParticipant(ctx context.Context, sessionID, userID, username, displayName string) error
	RemoveParticipant(ctx context.Context, sessionID, userID string) (remaining int, err error)
	RecordActivity(ctx context.Context, sessionID string, at time.Time) error
	EndSession(ctx context.Context, sessionID string, status SessionStatus, endedAt time.Time) error
}

// UtteranceStore is the relational-tier utterance log.
type UtteranceStore interface {
	// CreateUtterance persists u, allocating a session-scoped, race-free
	// monotone SequenceNum, and returns the stored row (with ID and
	// SequenceNum populated).
	CreateUtterance(ctx context.Context, u Utterance) (Utterance, error)
	GetUtterance(ctx context.Context, id int64) (*Utterance, error)
	GetUtterancesByIDs(ctx context.Context, ids []int64) ([]Utterance, error)
}

// AliasStore is the relational-tier speaker alias map.
type AliasStore interface {
	// AllAliases returns a map of lowercased alias text to user id, for a
	// single batch alias-detection pass.
	AllAliases(ctx context.Context) (map[string]string, error)
	AddAlias(ctx context.Context, alias SpeakerAlias) error
	// SeedIfAbsent auto-seeds username and display-name aliases for userID
	// the first time it is seen; a no-op if aliases already exist for userID.
	SeedIfAbsent(ctx context.Context, userID, username, displayName string) error
}

// QueueStore is the durable, priority-ordered enrichment task queue.
type QueueStore interface {
	// Enqueue upserts a task for the (targetType, targetID, taskType) triple.
	// If a row with that triple already exists, its id is returned unchanged
	// — re-enqueue never resurrects a completed or failed row.
	Enqueue(ctx context.Context, targetType, targetID, taskType string, priority int) (string, error)
	// Pending returns up to limit pending tasks ordered by (priority asc,
	// created_at asc), optionally filtered to taskTypes.
	Pending(ctx context.Context, limit int, taskTypes []string) ([]EnrichmentTask, error)
	// Claim atomically transitions one task from pending to processing.
	// Returns true iff exactly one row changed.
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, errMsg string) error
	// ResetStale reclaims processing rows whose started_at is older than
	// maxAge back to pending, unless attempts has reached maxAttempts, in
	// which case the row is marked failed instead. Returns the number of rows
	// reset or marked failed.
	ResetStale(ctx context.Context, maxAge time.Duration, maxAttempts int) (int, error)
	GetTask(ctx context.Context, id string) (*EnrichmentTask, error)
}

// MessageStore is the relational-tier text-chat message log.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetRecentMessages(ctx context.Context, channel string, limit int) ([]Message, error)
}

// IdeaFilter narrows an [IdeaStore.Search] call.
type IdeaFilter struct {
	SessionID string
	UserID    string
}

// IdeaResult pairs an [Idea] with its cosine distance from the query vector.
type IdeaResult struct {
	Idea     Idea
	Distance float64
}

// IdeaStore is the vector-tier idea store.
type IdeaStore interface {
	CreateIdea(ctx context.Context, idea Idea) error
	GetIdea(ctx context.Context, id string) (*Idea, error)
	// UpdateEnrichments performs a read-modify-write merge of fields into the
	// stored idea's enrichment fields, then persists the result in one
	// point upsert. fields keys are field names ("mentions",
	// "prosody_interpretation", "is_response_to_idea_id",
	// "response_latency_ms", "intent", "keywords") or
	// "enrichment_status.<task_type>" to flip a single status entry.
	UpdateEnrichments(ctx context.Context, id string, fields map[string]any) error
	// GetPreviousIdea returns the most recent idea in sessionID that started
	// before beforeTS and does not belong to excludeUserID, or nil if none.
	GetPreviousIdea(ctx context.Context, sessionID string, beforeTS time.Time, excludeUserID string) (*Idea, error)
	Search(ctx context.Context, embedding []float32, topK int, filter IdeaFilter) ([]IdeaResult, error)
}

// ExchangeStore is the vector-tier exchange store.
type ExchangeStore interface {
	CreateExchange(ctx context.Context, exchange Exchange) error
	GetExchange(ctx context.Context, id string) (*Exchange, error)
	// UpdateEnrichments follows the same read-modify-write contract as
	// [IdeaStore.UpdateEnrichments].
	UpdateEnrichments(ctx context.Context, id string, fields map[string]any) error
}
