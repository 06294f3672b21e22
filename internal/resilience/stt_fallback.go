package resilience

import (
	"context"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the samples to the first healthy provider. If the primary
// fails, subsequent fallbacks are tried.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
}

// TranscribeFile delegates to the first healthy provider's file transcription.
func (f *STTFallback) TranscribeFile(ctx context.Context, path string) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.TranscribeFile(ctx, path)
	})
}

// Name returns the primary provider's name. Does not participate in failover
// since it is static metadata, not a request.
func (f *STTFallback) Name() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Name()
	}
	return ""
}
