package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/JasonMadeSomething/voxscribe/internal/config"
)

func TestApplyDefaults_FillsAllSections(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	if cfg.Server.LogLevel != config.LogLevelInfo {
		t.Errorf("Server.LogLevel: got %q, want %q", cfg.Server.LogLevel, config.LogLevelInfo)
	}
	if cfg.Memory.EmbeddingDimensions != 1536 {
		t.Errorf("Memory.EmbeddingDimensions: got %d, want 1536", cfg.Memory.EmbeddingDimensions)
	}
	if cfg.Audio.ChunkDuration != 5*time.Second {
		t.Errorf("Audio.ChunkDuration: got %v, want 5s", cfg.Audio.ChunkDuration)
	}
	if cfg.Exchange.ResponseMappingQuickLatencyMs != 1000 {
		t.Errorf("Exchange.ResponseMappingQuickLatencyMs: got %d, want 1000", cfg.Exchange.ResponseMappingQuickLatencyMs)
	}
	if cfg.Enrichment.PhoneticThreshold != 0.85 {
		t.Errorf("Enrichment.PhoneticThreshold: got %.2f, want 0.85", cfg.Enrichment.PhoneticThreshold)
	}
	if cfg.Prosody.MinHNRDb != 15 {
		t.Errorf("Prosody.MinHNRDb: got %.2f, want 15", cfg.Prosody.MinHNRDb)
	}
}

func TestApplyDefaults_DoesNotOverwriteSetValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Audio.SampleRate = 48000
	cfg.Enrichment.BatchSize = 25
	config.ApplyDefaults(cfg)

	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("Audio.SampleRate was overwritten: got %d, want 48000", cfg.Audio.SampleRate)
	}
	if cfg.Enrichment.BatchSize != 25 {
		t.Errorf("Enrichment.BatchSize was overwritten: got %d, want 25", cfg.Enrichment.BatchSize)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "anyllm" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"anyllm\"")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
unknown_top_level_key: true
memory:
  postgres_dsn: postgres://x
providers:
  stt:
    name: whisper
  embeddings:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}
