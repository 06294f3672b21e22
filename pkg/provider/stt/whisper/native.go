// This file contains the Provider implementation backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// durationOf returns the playback duration of n samples at sampleRate Hz.
func durationOf(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using whisper.cpp Go bindings (CGO). It is
// the high-accuracy, GPU-biased reference transcription provider: the model
// is loaded once at startup and a fresh whisper.cpp context is created per
// call, so Transcribe is safe to call concurrently from multiple sessions.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads the whisper.cpp model from the given file path. The model is
// loaded once and shared across all concurrent Transcribe calls. The caller
// must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements stt.Provider. samples are downmixed to mono already;
// whisper.cpp itself only accepts 16 kHz audio, so callers delivering a
// different sampleRate should resample before calling — this provider does
// not resample internally, matching how the teacher's silence-detecting
// sessions always normalised to 16 kHz before buffering.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language %q: %w", p.language, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Result{
		Text:     strings.Join(parts, " "),
		Language: p.language,
		Duration: durationOf(len(samples), sampleRate),
	}, nil
}

// TranscribeFile implements stt.Provider by reading path as raw 16-bit
// signed little-endian mono PCM sampled at defaultSampleRate and delegating
// to Transcribe. Production deployments are expected to front this with a
// decode step (WAV/MP3/Opus) appropriate to their archive format; this
// provider's job ends at the sample boundary.
func (p *Provider) TranscribeFile(ctx context.Context, path string) (stt.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read file %q: %w", path, err)
	}
	samples := pcmToFloat32(data)
	return p.Transcribe(ctx, samples, defaultSampleRate)
}
