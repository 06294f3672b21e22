package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// MessageStoreImpl is the relational-tier text-chat message log, backed by
// the messages table.
type MessageStoreImpl struct {
	pool *pgxpool.Pool
}

// CreateMessage implements [memory.MessageStore].
func (s *MessageStoreImpl) CreateMessage(ctx context.Context, msg memory.Message) (memory.Message, error) {
	const q = `
		INSERT INTO messages (channel, user_id, username, text, timestamp)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		RETURNING id, timestamp`

	var ts any
	if !msg.Timestamp.IsZero() {
		ts = msg.Timestamp
	}

	if err := s.pool.QueryRow(ctx, q, msg.Channel, msg.UserID, msg.Username, msg.Text, ts).
		Scan(&msg.ID, &msg.Timestamp); err != nil {
		return memory.Message{}, fmt.Errorf("message store: create: %w", err)
	}
	return msg, nil
}

// GetRecentMessages implements [memory.MessageStore].
func (s *MessageStoreImpl) GetRecentMessages(ctx context.Context, channel string, limit int) ([]memory.Message, error) {
	const q = `
		SELECT id, channel, user_id, username, text, timestamp
		FROM   messages
		WHERE  channel = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("message store: get recent: %w", err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Message, error) {
		var m memory.Message
		err := row.Scan(&m.ID, &m.Channel, &m.UserID, &m.Username, &m.Text, &m.Timestamp)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("message store: scan recent: %w", err)
	}
	if out == nil {
		out = []memory.Message{}
	}
	return out, nil
}
