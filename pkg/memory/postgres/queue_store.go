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

// QueueStoreImpl is the durable, priority-ordered enrichment task queue,
// backed by the enrichment_queue table.
type QueueStoreImpl struct {
	pool *pgxpool.Pool
}

// Enqueue implements [memory.QueueStore]. The (target_type, target_id,
// task_type) unique index means a second enqueue of the same triple is a
// no-op that returns the existing row's id — re-running enrichment for an
// idea never creates a duplicate task, even if it already completed or
// failed.
func (s *QueueStoreImpl) Enqueue(ctx context.Context, targetType, targetID, taskType string, priority int) (string, error) {
	const existing = `
		SELECT id FROM enrichment_queue
		WHERE  target_type = $1 AND target_id = $2 AND task_type = $3`
	var id string
	err := s.pool.QueryRow(ctx, existing, targetType, targetID, taskType).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("queue store: check existing: %w", err)
	}

	id = uuid.NewString()
	const insert = `
		INSERT INTO enrichment_queue (id, target_type, target_id, task_type, priority, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (target_type, target_id, task_type) DO NOTHING
		RETURNING id`
	var inserted string
	err = s.pool.QueryRow(ctx, insert, id, targetType, targetID, taskType, priority).Scan(&inserted)
	if err == nil {
		return inserted, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("queue store: enqueue: %w", err)
	}

	// Lost the race to a concurrent enqueue of the same triple; fetch the
	// row that won.
	if err := s.pool.QueryRow(ctx, existing, targetType, targetID, taskType).Scan(&id); err != nil {
		return "", fmt.Errorf("queue store: re-fetch after race: %w", err)
	}
	return id, nil
}

// Pending implements [memory.QueueStore].
func (s *QueueStoreImpl) Pending(ctx context.Context, limit int, taskTypes []string) ([]memory.EnrichmentTask, error) {
	q := `
		SELECT id, target_type, target_id, task_type, priority, status, attempts,
		       created_at, started_at, completed_at, error
		FROM   enrichment_queue
		WHERE  status = 'pending'`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(taskTypes) > 0 {
		q += fmt.Sprintf(" AND task_type = ANY(%s)", next(taskTypes))
	}
	q += fmt.Sprintf(" ORDER BY priority ASC, created_at ASC LIMIT %s", next(limit))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("queue store: pending: %w", err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.EnrichmentTask, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, fmt.Errorf("queue store: scan pending: %w", err)
	}
	if out == nil {
		out = []memory.EnrichmentTask{}
	}
	return out, nil
}

// Claim implements [memory.QueueStore]. The conditional WHERE status =
// 'pending' makes this safe for multiple worker loops polling the same
// queue: only the first claim to reach Postgres wins the row.
func (s *QueueStoreImpl) Claim(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE enrichment_queue
		SET    status = 'processing', started_at = now(), attempts = attempts + 1
		WHERE  id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("queue store: claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete implements [memory.QueueStore].
func (s *QueueStoreImpl) Complete(ctx context.Context, id string) error {
	const q = `UPDATE enrichment_queue SET status = 'complete', completed_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("queue store: complete: %w", err)
	}
	return nil
}

// Fail implements [memory.QueueStore].
func (s *QueueStoreImpl) Fail(ctx context.Context, id, errMsg string) error {
	const q = `UPDATE enrichment_queue SET status = 'failed', completed_at = now(), error = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, errMsg); err != nil {
		return fmt.Errorf("queue store: fail: %w", err)
	}
	return nil
}

// ResetStale implements [memory.QueueStore]. A processing row whose attempts
// have already reached maxAttempts is marked failed instead of being
// requeued, so a task that keeps crashing its worker doesn't loop forever.
func (s *QueueStoreImpl) ResetStale(ctx context.Context, maxAge time.Duration, maxAttempts int) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	const failExhausted = `
		UPDATE enrichment_queue
		SET    status = 'failed', completed_at = now(), error = 'exceeded max attempts while stale'
		WHERE  status = 'processing' AND started_at < $1 AND attempts >= $2`
	failedTag, err := s.pool.Exec(ctx, failExhausted, cutoff, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("queue store: fail exhausted stale: %w", err)
	}

	const resetStale = `
		UPDATE enrichment_queue
		SET    status = 'pending', started_at = NULL
		WHERE  status = 'processing' AND started_at < $1 AND attempts < $2`
	resetTag, err := s.pool.Exec(ctx, resetStale, cutoff, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("queue store: reset stale: %w", err)
	}

	return int(failedTag.RowsAffected() + resetTag.RowsAffected()), nil
}

// GetTask implements [memory.QueueStore].
func (s *QueueStoreImpl) GetTask(ctx context.Context, id string) (*memory.EnrichmentTask, error) {
	const q = `
		SELECT id, target_type, target_id, task_type, priority, status, attempts,
		       created_at, started_at, completed_at, error
		FROM   enrichment_queue
		WHERE  id = $1`

	task, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue store: get task: %w", err)
	}
	return &task, nil
}

func scanTask(row pgx.Row) (memory.EnrichmentTask, error) {
	var t memory.EnrichmentTask
	err := row.Scan(
		&t.ID, &t.TargetType, &t.TargetID, &t.TaskType, &t.Priority, &t.Status, &t.Attempts,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.Error,
	)
	return t, err
}
