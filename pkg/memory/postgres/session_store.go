package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// SessionStoreImpl is the relational-tier session/participant lifecycle,
// backed by the sessions and participants tables.
//
// Obtain one via [Store.Sessions] rather than constructing directly.
type SessionStoreImpl struct {
	pool *pgxpool.Pool
}

// CreateSession implements [memory.SessionStore].
func (s *SessionStoreImpl) CreateSession(ctx context.Context, channel, channelName, guild string) (memory.Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	const q = `
		INSERT INTO sessions (id, channel, channel_name, guild, started_at, status, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $5)`

	if _, err := s.pool.Exec(ctx, q, id, channel, channelName, guild, now, memory.SessionActive); err != nil {
		return memory.Session{}, fmt.Errorf("session store: create session: %w", err)
	}

	return memory.Session{
		ID:        id,
		Channel:   channel,
		Guild:     guild,
		StartedAt: now,
		Status:    memory.SessionActive,
	}, nil
}

// GetActiveSessionByChannel implements [memory.SessionStore]. It returns the
// most recently started active session for channel, or nil if none exists.
func (s *SessionStoreImpl) GetActiveSessionByChannel(ctx context.Context, channel string) (*memory.Session, error) {
	const q = `
		SELECT id, channel, guild, started_at, ended_at, status
		FROM   sessions
		WHERE  channel = $1 AND status = $2
		ORDER  BY started_at DESC
		LIMIT  1`

	row := s.pool.QueryRow(ctx, q, channel, memory.SessionActive)
	sess, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get active by channel: %w", err)
	}
	return &sess, nil
}

// ListActive implements [memory.SessionStore]. It returns every session whose
// status is active. The session manager's idle-timeout reaper does not call
// it; the reaper works from its own in-memory activity times.
func (s *SessionStoreImpl) ListActive(ctx context.Context) ([]memory.Session, error) {
	const q = `
		SELECT id, channel, guild, started_at, ended_at, status
		FROM   sessions
		WHERE  status = $1`

	rows, err := s.pool.Query(ctx, q, memory.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("session store: list active: %w", err)
	}
	defer rows.Close()

	var out []memory.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("session store: scan active: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListParticipants implements [memory.SessionStore].
func (s *SessionStoreImpl) ListParticipants(ctx context.Context, sessionID string) ([]memory.Participant, error) {
	const q = `
		SELECT session_id, user_id, username, display_name, joined_at, left_at
		FROM   participants
		WHERE  session_id = $1
		ORDER  BY joined_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: list participants: %w", err)
	}
	defer rows.Close()

	participants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Participant, error) {
		var p memory.Participant
		err := row.Scan(&p.SessionID, &p.UserID, &p.Username, &p.DisplayName, &p.JoinedAt, &p.LeftAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan participants: %w", err)
	}
	if participants == nil {
		participants = []memory.Participant{}
	}
	return participants, nil
}

// AddParticipant implements [memory.SessionStore]. It appends a participant
// row unconditionally; callers are expected to check ListParticipants first
// if "already present" de-duplication is required at the session-manager
// level.
func (s *SessionStoreImpl) AddParticipant(ctx context.Context, sessionID, userID, username, displayName string) error {
	const q = `
		INSERT INTO participants (session_id, user_id, username, display_name, joined_at)
		VALUES ($1, $2, $3, $4, now())`

	if _, err := s.pool.Exec(ctx, q, sessionID, userID, username, displayName); err != nil {
		return fmt.Errorf("session store: add participant: %w", err)
	}
	return nil
}

// RemoveParticipant implements [memory.SessionStore]. It marks the most
// recent non-left participant row for userID as left, and returns the count
// of participants in the session still without a left_at.
func (s *SessionStoreImpl) RemoveParticipant(ctx context.Context, sessionID, userID string) (int, error) {
	const update = `
		UPDATE participants
		SET    left_at = now()
		WHERE  id = (
		    SELECT id FROM participants
		    WHERE  session_id = $1 AND user_id = $2 AND left_at IS NULL
		    ORDER  BY joined_at DESC
		    LIMIT 1
		)`
	if _, err := s.pool.Exec(ctx, update, sessionID, userID); err != nil {
		return 0, fmt.Errorf("session store: remove participant: %w", err)
	}

	const count = `
		SELECT count(*) FROM participants
		WHERE  session_id = $1 AND left_at IS NULL`
	var remaining int
	if err := s.pool.QueryRow(ctx, count, sessionID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("session store: count remaining participants: %w", err)
	}
	return remaining, nil
}

// RecordActivity implements [memory.SessionStore].
func (s *SessionStoreImpl) RecordActivity(ctx context.Context, sessionID string, at time.Time) error {
	const q = `UPDATE sessions SET last_activity = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID, at); err != nil {
		return fmt.Errorf("session store: record activity: %w", err)
	}
	return nil
}

// EndSession implements [memory.SessionStore].
func (s *SessionStoreImpl) EndSession(ctx context.Context, sessionID string, status memory.SessionStatus, endedAt time.Time) error {
	const q = `UPDATE sessions SET status = $2, ended_at = $3 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID, status, endedAt); err != nil {
		return fmt.Errorf("session store: end session: %w", err)
	}
	return nil
}

// LastActivity returns the last_activity timestamp for sessionID. Not part
// of [memory.SessionStore], and nothing in this module calls it: the session
// manager's idle-timeout reaper uses its own in-memory activity times.
func (s *SessionStoreImpl) LastActivity(ctx context.Context, sessionID string) (time.Time, error) {
	const q = `SELECT last_activity FROM sessions WHERE id = $1`
	var t time.Time
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("session store: last activity: %w", err)
	}
	return t, nil
}

func scanSession(row pgx.Row) (memory.Session, error) {
	var sess memory.Session
	err := row.Scan(&sess.ID, &sess.Channel, &sess.Guild, &sess.StartedAt, &sess.EndedAt, &sess.Status)
	return sess, err
}
