package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JasonMadeSomething/voxscribe/internal/observe"
	"github.com/JasonMadeSomething/voxscribe/pkg/audio"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/embeddings"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
)

// UtteranceSink receives a persisted utterance immediately after it commits.
// Implemented by [BoundaryDetector.OnUtterance].
type UtteranceSink interface {
	OnUtterance(ctx context.Context, utt memory.Utterance) error
}

// ProsodyExtractor computes acoustic features over a drained buffer's
// samples. Implementations may return nil when the audio is too short to
// extract a reliable feature set.
type ProsodyExtractor interface {
	Extract(samples []float32, sampleRate int) *memory.Prosody
}

// UtteranceIndexer optionally upserts an utterance's coarse embedding for
// search (spec.md §4.3 step 6). A nil indexer on [TranscriptionStageConfig]
// skips this step entirely — it is explicitly optional.
type UtteranceIndexer interface {
	IndexUtterance(ctx context.Context, utteranceID int64, sessionID string, embedding []float32) error
}

// TranscriptionStageConfig holds every dependency a [TranscriptionStage] needs.
type TranscriptionStageConfig struct {
	Buffers    *audio.Manager
	Sessions   *SessionManager
	Utterances memory.UtteranceStore
	Aliases    memory.AliasStore
	Boundary   UtteranceSink

	Provider     stt.Provider
	ProviderName string

	// Embeddings and Indexer are both optional; either being nil skips the
	// coarse-search upsert step.
	Embeddings embeddings.Provider
	Indexer    UtteranceIndexer
	Prosody    ProsodyExtractor

	MinDuration        time.Duration
	ResidualSilenceRMS float64

	Metrics *observe.Metrics
}

// TranscriptionStage converts a drained buffer into a persisted utterance,
// exactly once per drain (spec.md §4.3). Processing for a given
// (channel, speaker) key is serialised by a per-key lock so a monitor tick
// and an in-band "buffer just became ready" trigger can never race on the
// same key's sequence allocation.
type TranscriptionStage struct {
	buffers    *audio.Manager
	sessions   *SessionManager
	utterances memory.UtteranceStore
	aliases    memory.AliasStore
	boundary   UtteranceSink
	embeddings embeddings.Provider
	indexer    UtteranceIndexer
	prosody    ProsodyExtractor

	minDuration        time.Duration
	residualSilenceRMS float64

	metrics *observe.Metrics

	processMu    sync.Mutex
	processLocks map[audio.Key]*sync.Mutex

	swapMu     sync.Mutex
	providerMu sync.RWMutex
	provider   stt.Provider
	providerName string
}

// NewTranscriptionStage creates a TranscriptionStage from cfg.
func NewTranscriptionStage(cfg TranscriptionStageConfig) *TranscriptionStage {
	return &TranscriptionStage{
		buffers:            cfg.Buffers,
		sessions:           cfg.Sessions,
		utterances:         cfg.Utterances,
		aliases:            cfg.Aliases,
		boundary:           cfg.Boundary,
		embeddings:         cfg.Embeddings,
		indexer:            cfg.Indexer,
		prosody:            cfg.Prosody,
		minDuration:        cfg.MinDuration,
		residualSilenceRMS: cfg.ResidualSilenceRMS,
		metrics:            cfg.Metrics,
		processLocks:       make(map[audio.Key]*sync.Mutex),
		provider:           cfg.Provider,
		providerName:       cfg.ProviderName,
	}
}

// Process drains key's buffer, if nonempty, and runs the full persist
// pipeline over the result.
func (t *TranscriptionStage) Process(ctx context.Context, key audio.Key) error {
	lock := t.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	drained, ok := t.buffers.Drain(key, time.Now())
	if !ok {
		return nil
	}
	return t.processDrained(ctx, key, drained)
}

func (t *TranscriptionStage) processDrained(ctx context.Context, key audio.Key, d audio.Drained) error {
	// Step 1: discard if the channel has no active session.
	sessionID, ok := t.sessions.ActiveSessionID(key.Channel)
	if !ok {
		slog.Debug("transcription: discard, no active session", "channel", key.Channel, "speaker", key.Speaker)
		return nil
	}

	// Step 2: discard sub-minimum-duration or residual-silence drains.
	if d.Duration() < t.minDuration {
		return nil
	}
	if audio.RMS(d.Samples) < t.residualSilenceRMS {
		return nil
	}

	provider, providerName := t.currentProvider()
	if provider == nil {
		return nil
	}

	start := time.Now()
	result, err := provider.Transcribe(ctx, d.Samples, d.SampleRate)
	elapsed := time.Since(start)
	if t.metrics != nil {
		t.metrics.TranscriptionDuration.Record(ctx, elapsed.Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			t.metrics.RecordProviderError(ctx, providerName, "stt")
		}
		t.metrics.RecordProviderRequest(ctx, providerName, "stt", status)
	}
	if err != nil {
		// Provider error: logged, utterance dropped, audio not retried —
		// it is ephemeral (spec.md §7).
		slog.Error("transcription: provider error", "provider", providerName, "channel", key.Channel, "speaker", key.Speaker, "err", err)
		return nil
	}

	// Step 3: discard empty/whitespace-only transcriptions.
	if strings.TrimSpace(result.Text) == "" {
		return nil
	}

	username, displayName, _ := t.sessions.Identity(key.Channel, key.Speaker)

	utt := memory.Utterance{
		SessionID:     sessionID,
		UserID:        key.Speaker,
		Username:      username,
		DisplayName:   displayName,
		Text:          result.Text,
		StartedAt:     d.StartedAt,
		EndedAt:       d.EndedAt,
		Confidence:    result.Confidence,
		AudioDuration: d.Duration(),
	}
	if t.prosody != nil {
		utt.Prosody = t.prosody.Extract(d.Samples, d.SampleRate)
	}

	// Step 4 + 5: persist (the store allocates the race-free sequence
	// number), then synchronously notify the boundary detector.
	stored, err := t.utterances.CreateUtterance(ctx, utt)
	if err != nil {
		return fmt.Errorf("transcription: persist utterance: %w", err)
	}

	if t.aliases != nil {
		if err := t.aliases.SeedIfAbsent(ctx, stored.UserID, stored.Username, stored.DisplayName); err != nil {
			slog.Warn("transcription: seed speaker alias failed", "user_id", stored.UserID, "err", err)
		}
	}

	if err := t.sessions.RecordActivity(ctx, key.Channel); err != nil {
		slog.Warn("transcription: record activity", "channel", key.Channel, "err", err)
	}

	if t.boundary != nil {
		if err := t.boundary.OnUtterance(ctx, stored); err != nil {
			slog.Warn("transcription: boundary detector failed", "utterance_id", stored.ID, "err", err)
		}
	}

	// Step 6: optional coarse-search embedding.
	if t.embeddings != nil && t.indexer != nil {
		vec, err := t.embeddings.Embed(ctx, stored.Text)
		if err != nil {
			slog.Warn("transcription: coarse embedding failed", "utterance_id", stored.ID, "err", err)
		} else if err := t.indexer.IndexUtterance(ctx, stored.ID, sessionID, vec); err != nil {
			slog.Warn("transcription: coarse index upsert failed", "utterance_id", stored.ID, "err", err)
		}
	}

	return nil
}

func (t *TranscriptionStage) currentProvider() (stt.Provider, string) {
	t.providerMu.RLock()
	defer t.providerMu.RUnlock()
	return t.provider, t.providerName
}

// SwapProvider serialises provider hot-swaps: it first drains every
// non-empty buffer using the *current* provider, then atomically replaces
// the provider reference. No buffer can observe a torn swap — chunks
// appended after SwapProvider returns are transcribed by the new provider;
// chunks already drained were transcribed by the old one (spec.md §4.3
// Hot-swap).
func (t *TranscriptionStage) SwapProvider(ctx context.Context, name string, provider stt.Provider) error {
	t.swapMu.Lock()
	defer t.swapMu.Unlock()

	for _, key := range t.buffers.Keys() {
		if err := t.Process(ctx, key); err != nil {
			slog.Warn("transcription: drain before swap", "channel", key.Channel, "speaker", key.Speaker, "err", err)
		}
	}

	t.providerMu.Lock()
	t.provider = provider
	t.providerName = name
	t.providerMu.Unlock()

	slog.Info("transcription: provider swapped", "provider", name)
	return nil
}

func (t *TranscriptionStage) lockFor(key audio.Key) *sync.Mutex {
	t.processMu.Lock()
	defer t.processMu.Unlock()
	l, ok := t.processLocks[key]
	if !ok {
		l = &sync.Mutex{}
		t.processLocks[key] = l
	}
	return l
}
