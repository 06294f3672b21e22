package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/JasonMadeSomething/voxscribe/internal/app"
	"github.com/JasonMadeSomething/voxscribe/internal/config"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory/mock"
	llmmock "github.com/JasonMadeSomething/voxscribe/pkg/provider/llm/mock"
	sttmock "github.com/JasonMadeSomething/voxscribe/pkg/provider/stt/mock"
)

// testConfig returns a minimal, valid config for wiring tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			LogLevel: config.LogLevelInfo,
		},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "mock", Model: "test-model"},
			STT: config.ProviderEntry{Name: "mock"},
		},
		Audio: config.AudioConfig{
			SampleRate:       16000,
			ChunkDuration:    5 * time.Second,
			SilenceThreshold: 2 * time.Second,
			MinDuration:      200 * time.Millisecond,
			VADThreshold:     0.1,
		},
		Session: config.SessionConfig{
			Timeout: time.Minute,
		},
		Idea: config.IdeaConfig{
			BoundarySilenceMs: 2000,
			MaxDurationSec:    60,
		},
		Exchange: config.ExchangeConfig{
			GapThresholdMs:                 5000,
			ResponseMappingTimeThresholdMs: 3000,
			ResponseMappingQuickLatencyMs:  1000,
		},
		Enrichment: config.EnrichmentConfig{
			BatchSize:         10,
			PollIntervalSec:   1,
			WorkerEnabled:     false,
			MaxAttempts:       3,
			PhoneticThreshold: 0.7,
		},
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{Models: []string{"test-model"}},
		STT: &sttmock.Provider{},
	}
}

func withMockStores(store *mock.Store) []app.Option {
	return []app.Option{
		app.WithSessionStore(store.Sessions()),
		app.WithUtteranceStore(store.Utterances()),
		app.WithAliasStore(store.Aliases()),
		app.WithQueueStore(store.Queue()),
		app.WithMessageStore(store.Messages()),
		app.WithIdeaStore(store.Ideas()),
		app.WithExchangeStore(store.Exchanges()),
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	store := mock.New()

	application, err := app.New(context.Background(), cfg, providers, withMockStores(store)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Buffers() == nil {
		t.Error("Buffers() returned nil")
	}
	if application.SessionManager() == nil {
		t.Error("SessionManager() returned nil")
	}
	if application.Transcription() == nil {
		t.Error("Transcription() returned nil")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	store := mock.New()

	application, err := app.New(context.Background(), cfg, providers, withMockStores(store)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// A second Shutdown call must be a no-op (stopOnce guards it).
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	store := mock.New()

	application, err := app.New(context.Background(), cfg, providers, withMockStores(store)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Let Run's background loops (monitor, session reaper) start.
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
