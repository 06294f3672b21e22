package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// ExchangeStoreImpl is the vector-tier exchange store, backed by a
// PostgreSQL exchanges table with a pgvector HNSW index.
//
// Obtain one via [Store.Exchanges] rather than constructing directly.
type ExchangeStoreImpl struct {
	pool *pgxpool.Pool
}

const exchangeSelectColumns = `
		SELECT id, idea_ids, session_id, participants, embedding, started_at, ended_at,
		       topic, enrichment_status`

// CreateExchange implements [memory.ExchangeStore].
func (s *ExchangeStoreImpl) CreateExchange(ctx context.Context, exchange memory.Exchange) error {
	const q = `
		INSERT INTO exchanges
		    (id, idea_ids, session_id, participants, embedding, started_at, ended_at,
		     topic, enrichment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if exchange.EnrichmentStatus == nil {
		exchange.EnrichmentStatus = map[string]string{}
	}

	var vec any
	if exchange.Embedding != nil {
		vec = pgvector.NewVector(exchange.Embedding)
	}

	_, err := s.pool.Exec(ctx, q,
		exchange.ID, exchange.IdeaIDs, exchange.SessionID, exchange.Participants, vec,
		exchange.StartedAt, exchange.EndedAt, exchange.Topic, exchange.EnrichmentStatus,
	)
	if err != nil {
		return fmt.Errorf("exchange store: create: %w", err)
	}
	return nil
}

// GetExchange implements [memory.ExchangeStore].
func (s *ExchangeStoreImpl) GetExchange(ctx context.Context, id string) (*memory.Exchange, error) {
	q := exchangeSelectColumns + `
		FROM   exchanges
		WHERE  id = $1`

	exchange, err := scanExchange(s.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exchange store: get: %w", err)
	}
	return &exchange, nil
}

// UpdateEnrichments implements [memory.ExchangeStore]. Supported field keys
// are "topic" and "enrichment_status.<task_type>".
func (s *ExchangeStoreImpl) UpdateEnrichments(ctx context.Context, id string, fields map[string]any) error {
	sel := exchangeSelectColumns + `
		FROM   exchanges
		WHERE  id = $1
		FOR    UPDATE`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("exchange store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	exchange, err := scanExchange(tx.QueryRow(ctx, sel, id))
	if err != nil {
		return fmt.Errorf("exchange store: update enrichments: load: %w", err)
	}

	if exchange.EnrichmentStatus == nil {
		exchange.EnrichmentStatus = map[string]string{}
	}

	for key, val := range fields {
		switch {
		case key == "topic":
			if v, ok := val.(string); ok {
				exchange.Topic = v
			}
		case strings.HasPrefix(key, "enrichment_status."):
			taskType := strings.TrimPrefix(key, "enrichment_status.")
			if v, ok := val.(string); ok {
				exchange.EnrichmentStatus[taskType] = v
			}
		}
	}

	const update = `
		UPDATE exchanges SET
		    topic             = $2,
		    enrichment_status = $3
		WHERE id = $1`

	if _, err := tx.Exec(ctx, update, id, exchange.Topic, exchange.EnrichmentStatus); err != nil {
		return fmt.Errorf("exchange store: update enrichments: write: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("exchange store: update enrichments: commit: %w", err)
	}
	return nil
}

func scanExchange(row pgx.Row) (memory.Exchange, error) {
	var (
		ex  memory.Exchange
		vec pgvector.Vector
	)
	if err := row.Scan(
		&ex.ID, &ex.IdeaIDs, &ex.SessionID, &ex.Participants, &vec,
		&ex.StartedAt, &ex.EndedAt, &ex.Topic, &ex.EnrichmentStatus,
	); err != nil {
		return memory.Exchange{}, err
	}
	ex.Embedding = vec.Slice()
	return ex, nil
}
