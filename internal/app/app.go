// Package app wires all Voxscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the main processing loop (stale-buffer monitor,
// session reaper, enrichment worker), and Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithIdeaStore, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JasonMadeSomething/voxscribe/internal/config"
	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/internal/enrichment/handlers"
	"github.com/JasonMadeSomething/voxscribe/internal/observe"
	"github.com/JasonMadeSomething/voxscribe/internal/pipeline"
	"github.com/JasonMadeSomething/voxscribe/internal/prosody"
	"github.com/JasonMadeSomething/voxscribe/internal/resilience"
	"github.com/JasonMadeSomething/voxscribe/internal/transcript/phonetic"
	"github.com/JasonMadeSomething/voxscribe/pkg/audio"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory/postgres"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/embeddings"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/llm"
	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the Voxscribe pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Memory sub-stores — initialised in New, torn down in Shutdown.
	sessionStore   memory.SessionStore
	utteranceStore memory.UtteranceStore
	aliasStore     memory.AliasStore
	queueStore     memory.QueueStore
	messageStore   memory.MessageStore
	ideaStore      memory.IdeaStore
	exchangeStore  memory.ExchangeStore

	// Pipeline subsystems.
	buffers       *audio.Manager
	sessions      *pipeline.SessionManager
	monitor       *pipeline.StaleBufferMonitor
	transcription *pipeline.TranscriptionStage
	boundary      *pipeline.BoundaryDetector
	exchanges     *pipeline.ExchangeDetector

	models *enrichment.ModelManager
	worker *enrichment.Worker

	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.sessionStore = s }
}

// WithUtteranceStore injects an utterance store instead of creating one from config.
func WithUtteranceStore(s memory.UtteranceStore) Option {
	return func(a *App) { a.utteranceStore = s }
}

// WithAliasStore injects an alias store instead of creating one from config.
func WithAliasStore(s memory.AliasStore) Option {
	return func(a *App) { a.aliasStore = s }
}

// WithQueueStore injects an enrichment queue store instead of creating one from config.
func WithQueueStore(s memory.QueueStore) Option {
	return func(a *App) { a.queueStore = s }
}

// WithMessageStore injects a message store instead of creating one from config.
func WithMessageStore(s memory.MessageStore) Option {
	return func(a *App) { a.messageStore = s }
}

// WithIdeaStore injects an idea store instead of creating one from config.
func WithIdeaStore(s memory.IdeaStore) Option {
	return func(a *App) { a.ideaStore = s }
}

// WithExchangeStore injects an exchange store instead of creating one from config.
func WithExchangeStore(s memory.ExchangeStore) Option {
	return func(a *App) { a.exchangeStore = s }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any memory sub-store.
//
// New performs all initialisation synchronously: memory store connection,
// metrics, buffer manager, session manager, transcription stage, boundary
// detector, exchange detector, and the enrichment worker with its handlers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Memory store ──────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 3. Buffer manager ────────────────────────────────────────────────
	a.buffers = audio.NewManager(a.cfg.Audio.VADThreshold)

	// ── 3.5. Wrap each configured provider in a circuit breaker ──────────
	// No fallback is registered — config names at most one provider per
	// kind — but the breaker still protects every downstream call site
	// (transcription, LLM generate/embed, embedding RPCs) from cascading
	// failures on a misbehaving backend, per spec.md §7.
	a.wrapProvidersWithResilience()

	// ── 4. Session manager ───────────────────────────────────────────────
	a.sessions = pipeline.NewSessionManager(a.sessionStore, a.cfg.Session.Timeout)

	// ── 5. Exchange detector (built before boundary, which feeds it) ─────
	a.exchanges = pipeline.NewExchangeDetector(
		a.exchangeStore,
		a.queueStore,
		a.providers.Embeddings,
		time.Duration(a.cfg.Exchange.GapThresholdMs)*time.Millisecond,
	)

	// ── 6. Boundary detector ─────────────────────────────────────────────
	// ExchangeDetector.OnIdea already has the exact [pipeline.IdeaSink]
	// signature, so it can be passed directly as the boundary detector's
	// next sink.
	a.boundary = pipeline.NewBoundaryDetector(
		a.ideaStore,
		a.queueStore,
		a.providers.Embeddings,
		a.exchanges,
		time.Duration(a.cfg.Idea.BoundarySilenceMs)*time.Millisecond,
		time.Duration(a.cfg.Idea.MaxDurationSec)*time.Second,
	)

	// ── 7. Transcription stage ───────────────────────────────────────────
	a.transcription = pipeline.NewTranscriptionStage(pipeline.TranscriptionStageConfig{
		Buffers:            a.buffers,
		Sessions:           a.sessions,
		Utterances:         a.utteranceStore,
		Aliases:            a.aliasStore,
		Boundary:           a.boundary,
		Provider:           a.providers.STT,
		ProviderName:       a.cfg.Providers.STT.Name,
		Embeddings:         a.providers.Embeddings,
		Indexer:            nil, // coarse utterance search is not part of this deployment
		Prosody:            prosody.New(),
		MinDuration:        a.cfg.Audio.MinDuration,
		ResidualSilenceRMS: a.cfg.Audio.VADThreshold,
		Metrics:            a.metrics,
	})

	// ── 8. Enrichment worker + handlers ──────────────────────────────────
	a.initEnrichment()

	// ── 9. HTTP server (healthz + metrics) ───────────────────────────────
	a.initHTTPServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory sets up the PostgreSQL memory store for any sub-store not
// already injected via an Option.
func (a *App) initMemory(ctx context.Context) error {
	if a.sessionStore != nil && a.utteranceStore != nil && a.aliasStore != nil &&
		a.queueStore != nil && a.messageStore != nil && a.ideaStore != nil && a.exchangeStore != nil {
		return nil // fully injected, e.g. under test
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("memory.postgres_dsn is required when memory stores are not injected")
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // sensible default for OpenAI text-embedding-3-small
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}

	if a.sessionStore == nil {
		a.sessionStore = store.Sessions()
	}
	if a.utteranceStore == nil {
		a.utteranceStore = store.Utterances()
	}
	if a.aliasStore == nil {
		a.aliasStore = store.Aliases()
	}
	if a.queueStore == nil {
		a.queueStore = store.Queue()
	}
	if a.messageStore == nil {
		a.messageStore = store.Messages()
	}
	if a.ideaStore == nil {
		a.ideaStore = store.Ideas()
	}
	if a.exchangeStore == nil {
		a.exchangeStore = store.Exchanges()
	}

	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// wrapProvidersWithResilience replaces each non-nil configured provider with
// a circuit-breaker-wrapped version, so a transient backend outage trips
// open instead of retrying into a cascading failure.
func (a *App) wrapProvidersWithResilience() {
	if a.providers.LLM != nil {
		a.providers.LLM = resilience.NewLLMFallback(a.providers.LLM, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	}
	if a.providers.STT != nil {
		a.providers.STT = resilience.NewSTTFallback(a.providers.STT, a.cfg.Providers.STT.Name, resilience.FallbackConfig{})
	}
	if a.providers.Embeddings != nil {
		a.providers.Embeddings = resilience.NewEmbeddingsFallback(a.providers.Embeddings, a.cfg.Providers.Embeddings.Name, resilience.FallbackConfig{})
	}
}

// initEnrichment builds the model manager, the five enrichment handlers, and
// the worker that dispatches claimed tasks to them.
func (a *App) initEnrichment() {
	a.models = enrichment.NewModelManager(a.providers.LLM)

	matcher := phonetic.New(phonetic.WithPhoneticThreshold(a.cfg.Enrichment.PhoneticThreshold))

	batchSize := a.cfg.Enrichment.BatchSize

	handlerList := []enrichment.Handler{
		handlers.NewAliasDetection(a.ideaStore, a.aliasStore, matcher, batchSize),
		handlers.NewProsodyInterpretation(a.ideaStore, a.utteranceStore, a.cfg.Prosody, batchSize),
		handlers.NewResponseMapping(a.ideaStore, a.cfg.Exchange, batchSize),
		handlers.NewIntentKeywords(a.ideaStore, a.providers.LLM, a.cfg.Providers.LLM.Model, batchSize),
		handlers.NewTopicExtraction(a.exchangeStore, a.ideaStore, a.providers.LLM, a.cfg.Providers.LLM.Model, batchSize),
	}

	a.worker = enrichment.NewWorker(
		a.queueStore,
		a.models,
		a.metrics,
		batchSize,
		time.Duration(a.cfg.Enrichment.PollIntervalSec)*time.Second,
		a.cfg.Enrichment.MaxAttempts,
		handlerList...,
	)
}

// initHTTPServer builds the health/metrics HTTP server. It does not start
// listening — that happens in Run — so Shutdown can always close it safely
// even if Run was never called.
func (a *App) initHTTPServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	a.httpServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// SessionManager returns the pipeline session manager, used by an external
// ingress adapter to start sessions and join/leave participants.
func (a *App) SessionManager() *pipeline.SessionManager { return a.sessions }

// Buffers returns the audio buffer manager, used by an external ingress
// adapter to append incoming PCM chunks.
func (a *App) Buffers() *audio.Manager { return a.buffers }

// Transcription returns the transcription stage, used by an external
// ingress adapter to trigger an eager drain when a buffer reports ready.
func (a *App) Transcription() *pipeline.TranscriptionStage { return a.transcription }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background processing loops — the stale-buffer monitor,
// the session reaper, and the enrichment worker — and blocks until ctx is
// cancelled. Audio ingestion itself is driven by an external adapter calling
// [App.Buffers] and [App.Transcription] directly; Run owns only the
// background sweeps.
func (a *App) Run(ctx context.Context) error {
	a.monitor = pipeline.NewStaleBufferMonitor(a.buffers, a.transcription, a.cfg.Audio.SilenceThreshold)

	var wg sync.WaitGroup

	wg.Go(func() {
		a.monitor.Run(ctx, time.Second)
	})

	wg.Go(func() {
		a.sessions.Run(ctx, time.Second)
	})

	if a.cfg.Enrichment.WorkerEnabled {
		wg.Go(func() {
			a.worker.Run(ctx)
		})
	}

	if a.httpServer != nil {
		wg.Go(func() {
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		})
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "worker_enabled", a.cfg.Enrichment.WorkerEnabled)
	<-ctx.Done()

	wg.Wait()
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: stop accepting new HTTP
// connections, drain every buffered (channel, speaker) with the current
// provider so no in-flight audio is lost, then run the remaining closers
// (worker and memory store are stopped implicitly by ctx cancellation in
// Run; the memory store's connection pool is closed last).
//
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		if a.transcription != nil && a.buffers != nil {
			for _, key := range a.buffers.Keys() {
				if err := a.transcription.Process(ctx, key); err != nil {
					slog.Warn("shutdown: drain buffer failed", "channel", key.Channel, "speaker", key.Speaker, "err", err)
				}
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
