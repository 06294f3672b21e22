package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// IdeaStoreImpl is the vector-tier idea store, backed by a PostgreSQL ideas
// table with a pgvector HNSW index for cosine-similarity search.
//
// Obtain one via [Store.Ideas] rather than constructing directly.
type IdeaStoreImpl struct {
	pool *pgxpool.Pool
}

// CreateIdea implements [memory.IdeaStore]. Enrichment fields are written
// with their zero values; they are filled in later via UpdateEnrichments as
// the enrichment queue processes the idea.
func (s *IdeaStoreImpl) CreateIdea(ctx context.Context, idea memory.Idea) error {
	const q = `
		INSERT INTO ideas
		    (id, utterance_ids, session_id, user_id, text, embedding, started_at, ended_at,
		     mentions, prosody_interpretation, is_response_to_idea_id, response_latency_ms,
		     intent, keywords, enrichment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	if idea.Mentions == nil {
		idea.Mentions = []memory.Mention{}
	}
	if idea.Keywords == nil {
		idea.Keywords = []string{}
	}
	if idea.EnrichmentStatus == nil {
		idea.EnrichmentStatus = map[string]string{}
	}

	var vec any
	if idea.Embedding != nil {
		vec = pgvector.NewVector(idea.Embedding)
	}

	_, err := s.pool.Exec(ctx, q,
		idea.ID, idea.UtteranceIDs, idea.SessionID, idea.UserID, idea.Text, vec,
		idea.StartedAt, idea.EndedAt, idea.Mentions, idea.ProsodyInterpretation,
		idea.IsResponseToIdeaID, idea.ResponseLatencyMs, idea.Intent, idea.Keywords,
		idea.EnrichmentStatus,
	)
	if err != nil {
		return fmt.Errorf("idea store: create: %w", err)
	}
	return nil
}

// GetIdea implements [memory.IdeaStore].
func (s *IdeaStoreImpl) GetIdea(ctx context.Context, id string) (*memory.Idea, error) {
	const q = ideaSelectColumns + `
		FROM   ideas
		WHERE  id = $1`

	idea, err := scanIdea(s.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idea store: get: %w", err)
	}
	return &idea, nil
}

// UpdateEnrichments implements [memory.IdeaStore]. It loads the current row,
// applies fields to the corresponding in-memory struct fields, and writes
// every enrichment column back in one UPDATE. Concurrent UpdateEnrichments
// calls for the same idea (from different enrichment handlers racing) may
// lose one writer's change to a field the other one also touched; in
// practice each handler claims a distinct task_type and writes disjoint
// fields, so this does not occur in the worker's normal operation.
func (s *IdeaStoreImpl) UpdateEnrichments(ctx context.Context, id string, fields map[string]any) error {
	const sel = ideaSelectColumns + `
		FROM   ideas
		WHERE  id = $1
		FOR    UPDATE`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("idea store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	idea, err := scanIdea(tx.QueryRow(ctx, sel, id))
	if err != nil {
		return fmt.Errorf("idea store: update enrichments: load: %w", err)
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
			taskType := strings.TrimPrefix(key, "enrichment_status.")
			if v, ok := val.(string); ok {
				idea.EnrichmentStatus[taskType] = v
			}
		}
	}

	const update = `
		UPDATE ideas SET
		    mentions               = $2,
		    prosody_interpretation = $3,
		    is_response_to_idea_id = $4,
		    response_latency_ms    = $5,
		    intent                 = $6,
		    keywords               = $7,
		    enrichment_status      = $8
		WHERE id = $1`

	if _, err := tx.Exec(ctx, update, id,
		idea.Mentions, idea.ProsodyInterpretation, idea.IsResponseToIdeaID,
		idea.ResponseLatencyMs, idea.Intent, idea.Keywords, idea.EnrichmentStatus,
	); err != nil {
		return fmt.Errorf("idea store: update enrichments: write: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("idea store: update enrichments: commit: %w", err)
	}
	return nil
}

// GetPreviousIdea implements [memory.IdeaStore], backing the
// response-mapping handler's search for the idea a new idea might be
// responding to: the most recent idea in sessionID, from a different
// speaker, that started before beforeTS.
func (s *IdeaStoreImpl) GetPreviousIdea(ctx context.Context, sessionID string, beforeTS time.Time, excludeUserID string) (*memory.Idea, error) {
	q := ideaSelectColumns + `
		FROM   ideas
		WHERE  session_id = $1 AND started_at < $2 AND user_id != $3
		ORDER  BY started_at DESC
		LIMIT  1`

	idea, err := scanIdea(s.pool.QueryRow(ctx, q, sessionID, beforeTS, excludeUserID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idea store: get previous: %w", err)
	}
	return &idea, nil
}

// Search implements [memory.IdeaStore]. Results are ordered by ascending
// cosine distance (most similar first).
func (s *IdeaStoreImpl) Search(ctx context.Context, embedding []float32, topK int, filter memory.IdeaFilter) ([]memory.IdeaResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+next(filter.UserID))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		%s,
		       embedding <=> $1 AS distance
		FROM   ideas
		%s
		ORDER  BY distance
		LIMIT  %s`, strings.TrimSuffix(ideaSelectColumns, "\n"), whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("idea store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.IdeaResult, error) {
		idea, vec, distance, err := scanIdeaWithDistance(row)
		if err != nil {
			return memory.IdeaResult{}, err
		}
		idea.Embedding = vec.Slice()
		return memory.IdeaResult{Idea: idea, Distance: distance}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("idea store: scan search results: %w", err)
	}
	if results == nil {
		results = []memory.IdeaResult{}
	}
	return results, nil
}

const ideaSelectColumns = `
		SELECT id, utterance_ids, session_id, user_id, text, embedding, started_at, ended_at,
		       mentions, prosody_interpretation, is_response_to_idea_id, response_latency_ms,
		       intent, keywords, enrichment_status`

func scanIdea(row pgx.Row) (memory.Idea, error) {
	var (
		idea memory.Idea
		vec  pgvector.Vector
	)
	if err := row.Scan(
		&idea.ID, &idea.UtteranceIDs, &idea.SessionID, &idea.UserID, &idea.Text, &vec,
		&idea.StartedAt, &idea.EndedAt, &idea.Mentions, &idea.ProsodyInterpretation,
		&idea.IsResponseToIdeaID, &idea.ResponseLatencyMs, &idea.Intent, &idea.Keywords,
		&idea.EnrichmentStatus,
	); err != nil {
		return memory.Idea{}, err
	}
	idea.Embedding = vec.Slice()
	return idea, nil
}

func scanIdeaWithDistance(row pgx.Row) (memory.Idea, pgvector.Vector, float64, error) {
	var (
		idea     memory.Idea
		vec      pgvector.Vector
		distance float64
	)
	if err := row.Scan(
		&idea.ID, &idea.UtteranceIDs, &idea.SessionID, &idea.UserID, &idea.Text, &vec,
		&idea.StartedAt, &idea.EndedAt, &idea.Mentions, &idea.ProsodyInterpretation,
		&idea.IsResponseToIdeaID, &idea.ResponseLatencyMs, &idea.Intent, &idea.Keywords,
		&idea.EnrichmentStatus, &distance,
	); err != nil {
		return memory.Idea{}, pgvector.Vector{}, 0, err
	}
	return idea, vec, distance, nil
}
