package handlers

import (
	"testing"
	"time"

	"github.com/JasonMadeSomething/voxscribe/internal/config"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

func boolPtr(b bool) *bool { return &b }

func TestResponseLatency_ANDCondition(t *testing.T) {
	t.Parallel()

	cfg := config.ExchangeConfig{
		ResponseMappingTimeThresholdMs: 3000,
		ResponseMappingQuickLatencyMs:  1000,
	}
	base := time.Now()

	tests := []struct {
		name       string
		gap        time.Duration
		prevIsComplete *bool
		wantIsResponse bool
	}{
		{
			name:           "within threshold and previous idea complete is a response",
			gap:            2500 * time.Millisecond,
			prevIsComplete: boolPtr(true),
			wantIsResponse: true,
		},
		{
			name:           "within threshold, previous incomplete, but gap under quick latency is a response",
			gap:            500 * time.Millisecond,
			prevIsComplete: boolPtr(false),
			wantIsResponse: true,
		},
		{
			name:           "within threshold, previous incomplete, gap at or above quick latency is not a response",
			gap:            2000 * time.Millisecond,
			prevIsComplete: boolPtr(false),
			wantIsResponse: false,
		},
		{
			name:           "gap exceeds the general threshold regardless of prosody",
			gap:            4000 * time.Millisecond,
			prevIsComplete: boolPtr(true),
			wantIsResponse: false,
		},
		{
			name:           "no prosody interpretation at all and slow gap is not a response",
			gap:            2000 * time.Millisecond,
			prevIsComplete: nil,
			wantIsResponse: false,
		},
		{
			name:           "overlapping speech (negative gap) is never a response",
			gap:            -1 * time.Second,
			prevIsComplete: boolPtr(true),
			wantIsResponse: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			prev := &memory.Idea{EndedAt: base}
			if tc.prevIsComplete != nil {
				prev.ProsodyInterpretation = &memory.ProsodyInterpretation{IsComplete: tc.prevIsComplete}
			}
			idea := &memory.Idea{StartedAt: base.Add(tc.gap)}

			gotMs, ok := responseLatency(idea, prev, cfg)
			if ok != tc.wantIsResponse {
				t.Fatalf("responseLatency() ok = %v, want %v", ok, tc.wantIsResponse)
			}
			if ok {
				wantMs := float64(tc.gap.Milliseconds())
				if gotMs != wantMs {
					t.Errorf("responseLatency() latency = %v, want %v", gotMs, wantMs)
				}
			}
		})
	}
}

// TestResponseLatency_CompleteWithoutQuestionProsodyStillCounts guards
// against the earlier defect where a question-prosody fallback, not a
// completeness check, gated the response — a previous idea that reads as
// complete but was never flagged as a question must still count when the
// reply comes back within the general threshold, even above the
// quick-latency bound.
func TestResponseLatency_CompleteWithoutQuestionProsodyStillCounts(t *testing.T) {
	t.Parallel()

	cfg := config.ExchangeConfig{
		ResponseMappingTimeThresholdMs: 3000,
		ResponseMappingQuickLatencyMs:  1000,
	}
	base := time.Now()

	prev := &memory.Idea{
		EndedAt: base,
		ProsodyInterpretation: &memory.ProsodyInterpretation{
			IsComplete:        boolPtr(true),
			IsQuestionProsody: boolPtr(false),
		},
	}
	idea := &memory.Idea{StartedAt: base.Add(2500 * time.Millisecond)}

	_, ok := responseLatency(idea, prev, cfg)
	if !ok {
		t.Error("responseLatency() = false, want true: previous idea is complete and gap is within the general threshold")
	}
}
