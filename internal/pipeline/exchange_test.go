package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory/mock"
)

func idea(id, sessionID, userID string, start time.Time, dur time.Duration) memory.Idea {
	return memory.Idea{
		ID: id, SessionID: sessionID, UserID: userID,
		StartedAt: start, EndedAt: start.Add(dur), Text: "text",
	}
}

func TestCheckTemporalJoin(t *testing.T) {
	t.Parallel()

	base := time.Now()

	tests := []struct {
		name    string
		ideas   []memory.Idea
		wantFire bool
	}{
		{
			name:    "fewer than two ideas never fires",
			ideas:   []memory.Idea{idea("1", "s", "alice", base, time.Second)},
			wantFire: false,
		},
		{
			name: "two same-speaker ideas within 5s gap and 30s span fire",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "alice", base.Add(4*time.Second), time.Second),
			},
			wantFire: true,
		},
		{
			name: "gap over 5s does not fire",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "alice", base.Add(10*time.Second), time.Second),
			},
			wantFire: false,
		},
		{
			name: "total span over 30s does not fire",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "alice", base.Add(4*time.Second), 28*time.Second),
			},
			wantFire: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fire, group := checkTemporalJoin(tc.ideas)
			if fire != tc.wantFire {
				t.Errorf("checkTemporalJoin() fire = %v, want %v", fire, tc.wantFire)
			}
			if fire && len(group) != len(tc.ideas) {
				t.Errorf("checkTemporalJoin() group len = %d, want %d", len(group), len(tc.ideas))
			}
		})
	}
}

func TestCheckSemanticRelation(t *testing.T) {
	t.Parallel()

	base := time.Now()

	tests := []struct {
		name         string
		ideas        []memory.Idea
		gapThreshold time.Duration
		wantFire     bool
	}{
		{
			name: "two distinct speakers within gap threshold fire",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "bob", base.Add(3*time.Second), time.Second),
			},
			gapThreshold: 5 * time.Second,
			wantFire:     true,
		},
		{
			name: "same speaker twice does not fire (needs 2 distinct speakers)",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "alice", base.Add(3*time.Second), time.Second),
			},
			gapThreshold: 5 * time.Second,
			wantFire:     false,
		},
		{
			name: "gap at threshold boundary does not fire (exclusive bound)",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "bob", base.Add(1*time.Second+5*time.Second), time.Second),
			},
			gapThreshold: 5 * time.Second,
			wantFire:     false,
		},
		{
			name: "gap within a wider configured threshold fires where the default would not",
			ideas: []memory.Idea{
				idea("1", "s", "alice", base, time.Second),
				idea("2", "s", "bob", base.Add(1*time.Second+12*time.Second), time.Second),
			},
			gapThreshold: 15 * time.Second,
			wantFire:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fire, _ := checkSemanticRelation(tc.ideas, tc.gapThreshold)
			if fire != tc.wantFire {
				t.Errorf("checkSemanticRelation() fire = %v, want %v", fire, tc.wantFire)
			}
		})
	}
}

// TestExchangeDetector_OnIdea_UsesConfiguredGapThreshold confirms the
// detector's wired gap threshold — not a hardcoded literal — governs the
// semantic-relation rule: a gap that the default (10s) would reject but a
// configured wider threshold (20s) accepts must fire when the wider value
// is what's wired in.
func TestExchangeDetector_OnIdea_UsesConfiguredGapThreshold(t *testing.T) {
	t.Parallel()

	store := mock.New()
	ed := NewExchangeDetector(store.Exchanges(), store.Queue(), nil, 20*time.Second)

	ctx := context.Background()
	base := time.Now()

	if err := ed.OnIdea(ctx, idea("1", "s1", "alice", base, time.Second)); err != nil {
		t.Fatalf("OnIdea(1): %v", err)
	}
	// Gap from idea 1's end to idea 2's start is 15s: within the configured
	// 20s threshold, but outside the old hardcoded 10s literal.
	if err := ed.OnIdea(ctx, idea("2", "s1", "bob", base.Add(16*time.Second), time.Second)); err != nil {
		t.Fatalf("OnIdea(2): %v", err)
	}

	exchanges, err := exchangesFor(store, "s1")
	if err != nil {
		t.Fatalf("listing exchanges: %v", err)
	}
	if len(exchanges) != 1 {
		t.Fatalf("got %d exchanges, want 1 (semantic relation should have fired within the configured 20s threshold)", len(exchanges))
	}
}

func TestExchangeDetector_FlushSession_RequiresAtLeastTwoIdeas(t *testing.T) {
	t.Parallel()

	store := mock.New()
	ed := NewExchangeDetector(store.Exchanges(), store.Queue(), nil, 5*time.Second)
	ctx := context.Background()

	st := ed.stateFor("s1")
	st.window = []memory.Idea{idea("1", "s1", "alice", time.Now(), time.Second)}

	if err := ed.FlushSession(ctx, "s1"); err != nil {
		t.Fatalf("FlushSession: %v", err)
	}
	exchanges, err := exchangesFor(store, "s1")
	if err != nil {
		t.Fatalf("listing exchanges: %v", err)
	}
	if len(exchanges) != 0 {
		t.Fatalf("got %d exchanges from a single-idea flush, want 0", len(exchanges))
	}

	st.window = []memory.Idea{
		idea("1", "s1", "alice", time.Now(), time.Second),
		idea("2", "s1", "bob", time.Now().Add(2*time.Second), time.Second),
	}
	if err := ed.FlushSession(ctx, "s1"); err != nil {
		t.Fatalf("FlushSession: %v", err)
	}
	exchanges, err = exchangesFor(store, "s1")
	if err != nil {
		t.Fatalf("listing exchanges: %v", err)
	}
	if len(exchanges) != 1 {
		t.Fatalf("got %d exchanges from a two-idea flush, want 1", len(exchanges))
	}
}

// exchangesFor fetches every exchange in the mock store by scanning the
// tasks it enqueued (the mock has no direct list-by-session accessor, so the
// enqueued exchange ids are the source of truth for "how many exchanges
// exist"). sessionID is not used as a filter; each test's store holds a
// single session.
func exchangesFor(store *mock.Store, sessionID string) ([]memory.EnrichmentTask, error) {
	tasks, err := store.Queue().Pending(context.Background(), 0, []string{"topic_extraction"})
	if err != nil {
		return nil, err
	}
	var out []memory.EnrichmentTask
	for _, t := range tasks {
		if t.TargetType == "exchange" {
			out = append(out, t)
		}
	}
	return out, nil
}
