package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] checks configured names against it but neither warns about nor
// rejects a name that is not listed.
var ValidProviderNames = map[string][]string{
	"llm":        {"anyllm"},
	"stt":        {"whisper", "vosk"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the defaults named throughout
// spec.md §4 and §9's Design Notes.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogLevelInfo
	}

	if cfg.Memory.EmbeddingDimensions <= 0 {
		cfg.Memory.EmbeddingDimensions = 1536
	}
	if cfg.Memory.IdeaCollection == "" {
		cfg.Memory.IdeaCollection = "ideas"
	}
	if cfg.Memory.ExchangeCollection == "" {
		cfg.Memory.ExchangeCollection = "exchanges"
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.ChunkDuration <= 0 {
		cfg.Audio.ChunkDuration = 5 * time.Second
	}
	if cfg.Audio.SilenceThreshold <= 0 {
		cfg.Audio.SilenceThreshold = 2 * time.Second
	}
	if cfg.Audio.MinDuration <= 0 {
		cfg.Audio.MinDuration = 500 * time.Millisecond
	}
	if cfg.Audio.VADThreshold <= 0 {
		cfg.Audio.VADThreshold = 0.1
	}

	if cfg.Session.Timeout <= 0 {
		cfg.Session.Timeout = 30 * time.Minute
	}

	if cfg.Idea.BoundarySilenceMs <= 0 {
		cfg.Idea.BoundarySilenceMs = 2000
	}
	if cfg.Idea.MaxDurationSec <= 0 {
		cfg.Idea.MaxDurationSec = 60
	}

	if cfg.Exchange.GapThresholdMs <= 0 {
		cfg.Exchange.GapThresholdMs = 10000
	}
	if cfg.Exchange.ResponseMappingTimeThresholdMs <= 0 {
		cfg.Exchange.ResponseMappingTimeThresholdMs = 15000
	}
	if cfg.Exchange.ResponseMappingQuickLatencyMs <= 0 {
		cfg.Exchange.ResponseMappingQuickLatencyMs = 1000
	}

	if cfg.Enrichment.BatchSize <= 0 {
		cfg.Enrichment.BatchSize = 10
	}
	if cfg.Enrichment.PollIntervalSec <= 0 {
		cfg.Enrichment.PollIntervalSec = 5
	}
	if cfg.Enrichment.MaxAttempts <= 0 {
		cfg.Enrichment.MaxAttempts = 5
	}
	if cfg.Enrichment.PhoneticThreshold <= 0 {
		cfg.Enrichment.PhoneticThreshold = 0.85
	}

	if cfg.Prosody.QuestionPitchSlope == 0 {
		cfg.Prosody.QuestionPitchSlope = 5
	}
	if cfg.Prosody.CompletePitchSlope == 0 {
		cfg.Prosody.CompletePitchSlope = -5
	}
	if cfg.Prosody.CompleteIntensitySlope == 0 {
		cfg.Prosody.CompleteIntensitySlope = -1
	}
	if cfg.Prosody.MinHNRDb == 0 {
		cfg.Prosody.MinHNRDb = 15
	}
	if cfg.Prosody.MaxJitter == 0 {
		cfg.Prosody.MaxJitter = 0.02
	}
	if cfg.Prosody.MinIntensityMeanDb == 0 {
		cfg.Prosody.MinIntensityMeanDb = 65
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, fmt.Errorf("providers.embeddings.name is required"))
	}

	if cfg.Memory.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("memory.postgres_dsn is required"))
	}
	if cfg.Memory.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions must be positive"))
	}

	if cfg.Audio.VADThreshold < 0 || cfg.Audio.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.4f is out of range [0, 1]", cfg.Audio.VADThreshold))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	return errors.Join(errs...)
}

// validateProviderName returns an informational error-free check; unknown
// provider names are tolerated since third-party providers outside
// ValidProviderNames are a supported extension point via [Registry].
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	for _, k := range known {
		if k == name {
			return
		}
	}
}
