package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// UtteranceStoreImpl is the relational-tier utterance log, backed by the
// utterances table and the utterance_sequences counter table.
type UtteranceStoreImpl struct {
	pool *pgxpool.Pool
}

// CreateUtterance implements [memory.UtteranceStore]. It allocates u's
// SequenceNum from the per-session utterance_sequences counter inside the
// same transaction as the insert, so two drains racing on the same session
// never collide — a plain SELECT MAX(sequence_num)+1 would.
func (s *UtteranceStoreImpl) CreateUtterance(ctx context.Context, u memory.Utterance) (memory.Utterance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memory.Utterance{}, fmt.Errorf("utterance store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const bump = `
		INSERT INTO utterance_sequences (session_id, counter)
		VALUES ($1, 1)
		ON CONFLICT (session_id) DO UPDATE SET counter = utterance_sequences.counter + 1
		RETURNING counter`
	var seq int64
	if err := tx.QueryRow(ctx, bump, u.SessionID).Scan(&seq); err != nil {
		return memory.Utterance{}, fmt.Errorf("utterance store: allocate sequence: %w", err)
	}
	u.SequenceNum = seq

	var prosody any
	if u.Prosody != nil {
		prosody = u.Prosody
	}

	const insert = `
		INSERT INTO utterances
		    (session_id, user_id, username, display_name, text, started_at, ended_at,
		     confidence, audio_duration_ns, sequence_num, prosody)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := tx.QueryRow(ctx, insert,
		u.SessionID, u.UserID, u.Username, u.DisplayName, u.Text, u.StartedAt, u.EndedAt,
		u.Confidence, u.AudioDuration.Nanoseconds(), u.SequenceNum, prosody,
	).Scan(&u.ID); err != nil {
		return memory.Utterance{}, fmt.Errorf("utterance store: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return memory.Utterance{}, fmt.Errorf("utterance store: commit: %w", err)
	}
	return u, nil
}

// GetUtterance implements [memory.UtteranceStore].
func (s *UtteranceStoreImpl) GetUtterance(ctx context.Context, id int64) (*memory.Utterance, error) {
	const q = `
		SELECT id, session_id, user_id, username, display_name, text, started_at,
		       ended_at, confidence, audio_duration_ns, sequence_num, prosody
		FROM   utterances
		WHERE  id = $1`

	u, err := scanUtterance(s.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("utterance store: get: %w", err)
	}
	return &u, nil
}

// GetUtterancesByIDs implements [memory.UtteranceStore]. Order is not
// guaranteed to match ids; callers needing a specific order must re-sort.
func (s *UtteranceStoreImpl) GetUtterancesByIDs(ctx context.Context, ids []int64) ([]memory.Utterance, error) {
	if len(ids) == 0 {
		return []memory.Utterance{}, nil
	}

	const q = `
		SELECT id, session_id, user_id, username, display_name, text, started_at,
		       ended_at, confidence, audio_duration_ns, sequence_num, prosody
		FROM   utterances
		WHERE  id = ANY($1)`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("utterance store: get by ids: %w", err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Utterance, error) {
		return scanUtterance(row)
	})
	if err != nil {
		return nil, fmt.Errorf("utterance store: scan by ids: %w", err)
	}
	if out == nil {
		out = []memory.Utterance{}
	}
	return out, nil
}

func scanUtterance(row pgx.Row) (memory.Utterance, error) {
	var u memory.Utterance
	var audioDurationNs int64
	var prosody *memory.Prosody
	err := row.Scan(
		&u.ID, &u.SessionID, &u.UserID, &u.Username, &u.DisplayName, &u.Text, &u.StartedAt,
		&u.EndedAt, &u.Confidence, &audioDurationNs, &u.SequenceNum, &prosody,
	)
	u.AudioDuration = time.Duration(audioDurationNs)
	u.Prosody = prosody
	return u, err
}
