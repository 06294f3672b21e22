package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXSCRIBE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXSCRIBE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXSCRIBE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS exchanges CASCADE",
		"DROP TABLE IF EXISTS ideas CASCADE",
		"DROP TABLE IF EXISTS messages CASCADE",
		"DROP TABLE IF EXISTS enrichment_queue CASCADE",
		"DROP TABLE IF EXISTS speaker_aliases CASCADE",
		"DROP TABLE IF EXISTS utterance_sequences CASCADE",
		"DROP TABLE IF EXISTS utterances CASCADE",
		"DROP TABLE IF EXISTS participants CASCADE",
		"DROP TABLE IF EXISTS sessions CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Sessions().CreateSession(ctx, "chan-1", "general", "guild-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Status != memory.SessionActive {
		t.Fatalf("expected active session, got %s", sess.Status)
	}

	got, err := store.Sessions().GetActiveSessionByChannel(ctx, "chan-1")
	if err != nil {
		t.Fatalf("GetActiveSessionByChannel: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Fatalf("expected to find session %s, got %+v", sess.ID, got)
	}

	if err := store.Sessions().AddParticipant(ctx, sess.ID, "user-1", "alice", "Alice"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := store.Sessions().AddParticipant(ctx, sess.ID, "user-2", "bob", "Bob"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	participants, err := store.Sessions().ListParticipants(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}

	remaining, err := store.Sessions().RemoveParticipant(ctx, sess.ID, "user-1")
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 remaining participant, got %d", remaining)
	}

	if err := store.Sessions().EndSession(ctx, sess.ID, memory.SessionEnded, time.Now()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got, err := store.Sessions().GetActiveSessionByChannel(ctx, "chan-1"); err != nil || got != nil {
		t.Fatalf("expected no active session after EndSession, got %+v (err %v)", got, err)
	}
}

func TestUtteranceSequenceNumIsRaceFree(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Sessions().CreateSession(ctx, "chan-2", "general", "guild-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const n = 20
	seqCh := make(chan int64, n)
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			u, err := store.Utterances().CreateUtterance(ctx, memory.Utterance{
				SessionID: sess.ID,
				UserID:    "user-1",
				Text:      "hello",
				StartedAt: time.Now(),
				EndedAt:   time.Now(),
			})
			if err != nil {
				errCh <- err
				return
			}
			seqCh <- u.SequenceNum
		}()
	}

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		select {
		case err := <-errCh:
			t.Fatalf("CreateUtterance: %v", err)
		case seq := <-seqCh:
			if seen[seq] {
				t.Fatalf("duplicate sequence_num %d allocated", seq)
			}
			seen[seq] = true
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct sequence numbers, got %d", n, len(seen))
	}
}

func TestAliasStoreSeedAndResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Aliases().SeedIfAbsent(ctx, "user-1", "alice_w", "Alice Wonder"); err != nil {
		t.Fatalf("SeedIfAbsent: %v", err)
	}
	// Second call must be a no-op: re-seeding shouldn't duplicate rows or
	// clobber an explicitly taught alias added in between.
	if err := store.Aliases().AddAlias(ctx, memory.SpeakerAlias{
		UserID: "user-1", Alias: "ally", AliasType: "nickname", Confidence: 0.9,
	}); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}
	if err := store.Aliases().SeedIfAbsent(ctx, "user-1", "alice_w", "Alice Wonder"); err != nil {
		t.Fatalf("SeedIfAbsent (second call): %v", err)
	}

	aliases, err := store.Aliases().AllAliases(ctx)
	if err != nil {
		t.Fatalf("AllAliases: %v", err)
	}
	for _, want := range []string{"alice_w", "alice wonder", "ally"} {
		if aliases[want] != "user-1" {
			t.Fatalf("expected alias %q to resolve to user-1, got %q", want, aliases[want])
		}
	}
	if len(aliases) != 3 {
		t.Fatalf("expected exactly 3 aliases (no duplicate seeding), got %d: %v", len(aliases), aliases)
	}
}

func TestQueueStoreClaimCompleteFail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Queue().Enqueue(ctx, "idea", "idea-1", "alias_detection", 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Re-enqueuing the same triple must return the same id, not a new row.
	again, err := store.Queue().Enqueue(ctx, "idea", "idea-1", "alias_detection", 2)
	if err != nil {
		t.Fatalf("Enqueue (again): %v", err)
	}
	if again != id {
		t.Fatalf("expected re-enqueue to return existing id %s, got %s", id, again)
	}

	pending, err := store.Queue().Pending(ctx, 10, nil)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(pending))
	}

	claimed, err := store.Queue().Claim(ctx, id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to succeed")
	}

	// A second claim attempt on the same (now processing) row must fail.
	claimedAgain, err := store.Queue().Claim(ctx, id)
	if err != nil {
		t.Fatalf("Claim (again): %v", err)
	}
	if claimedAgain {
		t.Fatalf("expected second claim to fail, task already processing")
	}

	if err := store.Queue().Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	task, err := store.Queue().GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task == nil || task.Status != "complete" {
		t.Fatalf("expected task complete, got %+v", task)
	}
}

func TestQueueStoreResetStaleRespectsMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Queue().Enqueue(ctx, "idea", "idea-2", "prosody_interpretation", 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Queue().Claim(ctx, id); err != nil {
			t.Fatalf("Claim attempt %d: %v", i, err)
		}
		if i < 2 {
			// Simulate a crash mid-task: reset back to pending via ResetStale
			// with an immediate cutoff, then re-claim on the next loop.
			if _, err := store.Queue().ResetStale(ctx, 0, 5); err != nil {
				t.Fatalf("ResetStale: %v", err)
			}
		}
	}

	n, err := store.Queue().ResetStale(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ResetStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row affected by ResetStale, got %d", n)
	}

	task, err := store.Queue().GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != "failed" {
		t.Fatalf("expected task marked failed after exceeding max attempts, got %s", task.Status)
	}
}

func TestIdeaStoreCreateAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Sessions().CreateSession(ctx, "chan-3", "general", "guild-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	idea := memory.Idea{
		ID:        "idea-1",
		SessionID: sess.ID,
		UserID:    "user-1",
		Text:      "we should ship the release today",
		Embedding: []float32{1, 0, 0, 0},
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}
	if err := store.Ideas().CreateIdea(ctx, idea); err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}

	other := memory.Idea{
		ID:        "idea-2",
		SessionID: sess.ID,
		UserID:    "user-2",
		Text:      "the weather is nice",
		Embedding: []float32{0, 1, 0, 0},
		StartedAt: idea.StartedAt.Add(time.Second),
		EndedAt:   idea.EndedAt.Add(time.Second),
	}
	if err := store.Ideas().CreateIdea(ctx, other); err != nil {
		t.Fatalf("CreateIdea (other): %v", err)
	}

	results, err := store.Ideas().Search(ctx, []float32{1, 0, 0, 0}, 1, memory.IdeaFilter{SessionID: sess.ID})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Idea.ID != "idea-1" {
		t.Fatalf("expected idea-1 as nearest match, got %+v", results)
	}

	if err := store.Ideas().UpdateEnrichments(ctx, "idea-1", map[string]any{
		"intent":                            "plan",
		"keywords":                          []string{"release", "ship"},
		"enrichment_status.intent_keywords": "complete",
	}); err != nil {
		t.Fatalf("UpdateEnrichments: %v", err)
	}

	got, err := store.Ideas().GetIdea(ctx, "idea-1")
	if err != nil {
		t.Fatalf("GetIdea: %v", err)
	}
	if got.Intent != "plan" {
		t.Fatalf("expected intent 'plan', got %q", got.Intent)
	}
	if got.EnrichmentStatus["intent_keywords"] != "complete" {
		t.Fatalf("expected enrichment_status[intent_keywords]=complete, got %+v", got.EnrichmentStatus)
	}

	prev, err := store.Ideas().GetPreviousIdea(ctx, sess.ID, other.StartedAt.Add(time.Second), "user-2")
	if err != nil {
		t.Fatalf("GetPreviousIdea: %v", err)
	}
	if prev == nil || prev.ID != "idea-1" {
		t.Fatalf("expected idea-1 as previous idea from a different speaker, got %+v", prev)
	}
}

func TestExchangeStoreEnrichments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Sessions().CreateSession(ctx, "chan-4", "general", "guild-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	exchange := memory.Exchange{
		ID:           "exchange-1",
		SessionID:    sess.ID,
		IdeaIDs:      []string{"idea-1", "idea-2"},
		Participants: []string{"user-1", "user-2"},
		Embedding:    []float32{0.5, 0.5, 0, 0},
		StartedAt:    time.Now(),
		EndedAt:      time.Now(),
	}
	if err := store.Exchanges().CreateExchange(ctx, exchange); err != nil {
		t.Fatalf("CreateExchange: %v", err)
	}

	if err := store.Exchanges().UpdateEnrichments(ctx, exchange.ID, map[string]any{
		"topic": "release planning",
	}); err != nil {
		t.Fatalf("UpdateEnrichments: %v", err)
	}

	got, err := store.Exchanges().GetExchange(ctx, exchange.ID)
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if got.Topic != "release planning" {
		t.Fatalf("expected topic 'release planning', got %q", got.Topic)
	}
}

func TestMessageStoreRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Messages().CreateMessage(ctx, memory.Message{
			Channel: "chan-5", UserID: "user-1", Username: "alice", Text: "hi",
		}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	msgs, err := store.Messages().GetRecentMessages(ctx, "chan-5", 2)
	if err != nil {
		t.Fatalf("GetRecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (limited), got %d", len(msgs))
	}
}
