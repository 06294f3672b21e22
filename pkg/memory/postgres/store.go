package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.SessionStore   = (*SessionStoreImpl)(nil)
	_ memory.UtteranceStore = (*UtteranceStoreImpl)(nil)
	_ memory.AliasStore     = (*AliasStoreImpl)(nil)
	_ memory.QueueStore     = (*QueueStoreImpl)(nil)
	_ memory.MessageStore   = (*MessageStoreImpl)(nil)
	_ memory.IdeaStore      = (*IdeaStoreImpl)(nil)
	_ memory.ExchangeStore  = (*ExchangeStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed memory store for Voxscribe. It holds
// a single [pgxpool.Pool] and exposes the relational tier (sessions,
// utterances, aliases, queue, messages) and the vector tier (ideas,
// exchanges) as independent sub-stores.
//
// All operations are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	sessions   *SessionStoreImpl
	utterances *UtteranceStoreImpl
	aliases    *AliasStoreImpl
	queue      *QueueStoreImpl
	messages   *MessageStoreImpl
	ideas      *IdeaStoreImpl
	exchanges  *ExchangeStoreImpl
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce idea/exchange embeddings (e.g. 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:       pool,
		sessions:   &SessionStoreImpl{pool: pool},
		utterances: &UtteranceStoreImpl{pool: pool},
		aliases:    &AliasStoreImpl{pool: pool},
		queue:      &QueueStoreImpl{pool: pool},
		messages:   &MessageStoreImpl{pool: pool},
		ideas:      &IdeaStoreImpl{pool: pool},
		exchanges:  &ExchangeStoreImpl{pool: pool},
	}, nil
}

func (s *Store) Sessions() *SessionStoreImpl     { return s.sessions }
func (s *Store) Utterances() *UtteranceStoreImpl { return s.utterances }
func (s *Store) Aliases() *AliasStoreImpl        { return s.aliases }
func (s *Store) Queue() *QueueStoreImpl          { return s.queue }
func (s *Store) Messages() *MessageStoreImpl     { return s.messages }
func (s *Store) Ideas() *IdeaStoreImpl           { return s.ideas }
func (s *Store) Exchanges() *ExchangeStoreImpl   { return s.exchanges }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
