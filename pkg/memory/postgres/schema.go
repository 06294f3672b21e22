// Package postgres provides a PostgreSQL-backed implementation of the
// Voxscribe two-tier memory architecture: a relational tier (sessions,
// participants, utterances, speaker aliases, the enrichment queue, and
// text-chat messages) and a vector tier (ideas, exchanges) built on pgvector.
//
// Both tiers share a single [pgxpool.Pool]; the pgvector extension must be
// available in the target database, and [Migrate] installs it automatically
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	sess, _ := store.Sessions().CreateSession(ctx, channel, name, guild)
//	_ = store.Ideas().CreateIdea(ctx, idea)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Relational tier DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    channel       TEXT         NOT NULL,
    channel_name  TEXT         NOT NULL DEFAULT '',
    guild         TEXT         NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at      TIMESTAMPTZ,
    status        TEXT         NOT NULL DEFAULT 'active',
    last_activity TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_channel_status
    ON sessions (channel, status);
`

const ddlParticipants = `
CREATE TABLE IF NOT EXISTS participants (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    user_id      TEXT         NOT NULL,
    username     TEXT         NOT NULL DEFAULT '',
    display_name TEXT         NOT NULL DEFAULT '',
    joined_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    left_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_participants_session
    ON participants (session_id, user_id);
`

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id                BIGSERIAL    PRIMARY KEY,
    session_id        TEXT         NOT NULL,
    user_id           TEXT         NOT NULL,
    username          TEXT         NOT NULL DEFAULT '',
    display_name      TEXT         NOT NULL DEFAULT '',
    text              TEXT         NOT NULL,
    started_at        TIMESTAMPTZ  NOT NULL,
    ended_at          TIMESTAMPTZ  NOT NULL,
    confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
    audio_duration_ns BIGINT       NOT NULL DEFAULT 0,
    sequence_num      BIGINT       NOT NULL,
    prosody           JSONB,
    UNIQUE (session_id, sequence_num)
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_started
    ON utterances (session_id, started_at);

CREATE INDEX IF NOT EXISTS idx_utterances_user_started
    ON utterances (user_id, started_at);

-- Per-session monotone counter backing race-free sequence_num allocation.
-- A plain MAX(sequence_num)+1 is not safe under concurrent inserts from
-- different speakers in the same session; this table's primary key gives
-- Postgres a row to serialise the increment on via ON CONFLICT DO UPDATE.
CREATE TABLE IF NOT EXISTS utterance_sequences (
    session_id TEXT   PRIMARY KEY,
    counter    BIGINT NOT NULL DEFAULT 0
);
`

const ddlSpeakerAliases = `
CREATE TABLE IF NOT EXISTS speaker_aliases (
    id          BIGSERIAL    PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    alias       TEXT         NOT NULL,
    alias_type  TEXT         NOT NULL DEFAULT 'username',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    created_by  TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_speaker_aliases_user_alias_ci
    ON speaker_aliases (user_id, lower(alias));
`

const ddlEnrichmentQueue = `
CREATE TABLE IF NOT EXISTS enrichment_queue (
    id           TEXT         PRIMARY KEY,
    target_type  TEXT         NOT NULL,
    target_id    TEXT         NOT NULL,
    task_type    TEXT         NOT NULL,
    priority     INT          NOT NULL DEFAULT 2,
    status       TEXT         NOT NULL DEFAULT 'pending',
    attempts     INT          NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    error        TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichment_queue_triple
    ON enrichment_queue (target_type, target_id, task_type);

CREATE INDEX IF NOT EXISTS idx_enrichment_queue_claim
    ON enrichment_queue (status, priority, created_at);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id        BIGSERIAL    PRIMARY KEY,
    channel   TEXT         NOT NULL,
    user_id   TEXT         NOT NULL DEFAULT '',
    username  TEXT         NOT NULL DEFAULT '',
    text      TEXT         NOT NULL,
    timestamp TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_timestamp
    ON messages (channel, timestamp);
`

// ─────────────────────────────────────────────────────────────────────────────
// Vector tier DDL
// ─────────────────────────────────────────────────────────────────────────────

// ddlVector returns the idea/exchange DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlVector(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS ideas (
    id                     TEXT         PRIMARY KEY,
    utterance_ids          BIGINT[]     NOT NULL,
    session_id             TEXT         NOT NULL,
    user_id                TEXT         NOT NULL,
    text                   TEXT         NOT NULL,
    embedding              vector(%d),
    started_at             TIMESTAMPTZ  NOT NULL,
    ended_at               TIMESTAMPTZ  NOT NULL,
    mentions               JSONB        NOT NULL DEFAULT '[]',
    prosody_interpretation JSONB,
    is_response_to_idea_id TEXT         NOT NULL DEFAULT '',
    response_latency_ms    DOUBLE PRECISION,
    intent                 TEXT         NOT NULL DEFAULT '',
    keywords               TEXT[]       NOT NULL DEFAULT '{}',
    enrichment_status      JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_ideas_session_started
    ON ideas (session_id, started_at);

CREATE INDEX IF NOT EXISTS idx_ideas_session_user_started
    ON ideas (session_id, user_id, started_at);

CREATE INDEX IF NOT EXISTS idx_ideas_embedding
    ON ideas USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS exchanges (
    id                TEXT         PRIMARY KEY,
    idea_ids          TEXT[]       NOT NULL,
    session_id        TEXT         NOT NULL,
    participants      TEXT[]       NOT NULL,
    embedding         vector(%d),
    started_at        TIMESTAMPTZ  NOT NULL,
    ended_at          TIMESTAMPTZ  NOT NULL,
    topic             TEXT         NOT NULL DEFAULT '',
    enrichment_status JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_started
    ON exchanges (session_id, started_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_embedding
    ON exchanges USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions, embeddingDimensions)
}

// Migrate creates or ensures all required database tables, indexes, and
// extensions exist. It is idempotent and safe to call on every application
// start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g. 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlParticipants,
		ddlUtterances,
		ddlSpeakerAliases,
		ddlEnrichmentQueue,
		ddlMessages,
		ddlVector(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
