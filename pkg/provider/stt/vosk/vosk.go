// Package vosk provides a vosk-api-backed STT provider.
//
// Vosk is the lightweight, finite-state reference transcription provider:
// CPU-only, low-memory, and well suited to edge deployments where a
// whisper.cpp model is too large to load. It trades accuracy for footprint.
package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the vosk-api Go bindings. A single
// vosk.VoskModel is loaded once; each Transcribe call gets its own
// vosk.VoskRecognizer since recognizers carry per-utterance state and are
// not safe to share across concurrent calls.
type Provider struct {
	mu         sync.Mutex // guards model access; vosk's C bindings are not documented as thread-safe for concurrent recognizer creation
	model      *vosk.VoskModel
	sampleRate int
}

// New loads the vosk model from modelPath. sampleRate is the Hz the model
// was trained for (commonly 16000); it must match the sampleRate passed to
// Transcribe or recognition quality degrades.
func New(modelPath string, sampleRate int) (*Provider, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("vosk: modelPath must not be empty")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	slog.Info("loading vosk model", "path", modelPath)
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model %q: %w", modelPath, err)
	}

	return &Provider{model: model, sampleRate: sampleRate}, nil
}

// Close releases the vosk model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		p.model.Free()
	}
	return nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "vosk" }

// Transcribe implements stt.Provider. It opens a fresh recognizer for the
// call, feeds the whole utterance in one AcceptWaveform call, and flushes
// with FinalResult to force vosk to emit whatever it has buffered even if
// its own internal endpointer hasn't already declared the utterance done —
// callers already did that segmentation upstream.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("vosk: context already cancelled: %w", err)
	}

	p.mu.Lock()
	recognizer, err := vosk.NewRecognizer(p.model, float64(sampleRate))
	p.mu.Unlock()
	if err != nil {
		return stt.Result{}, fmt.Errorf("vosk: create recognizer: %w", err)
	}
	defer recognizer.Free()

	pcm := floatsToPCM16LE(samples)
	if recognizer.AcceptWaveform(pcm) == -1 {
		return stt.Result{}, fmt.Errorf("vosk: failed to process audio")
	}

	raw := recognizer.FinalResult()
	var parsed voskResult
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return stt.Result{}, fmt.Errorf("vosk: parse result: %w", err)
	}

	return stt.Result{
		Text:       parsed.Text,
		Confidence: parsed.Confidence,
		Duration:   durationOf(len(samples), sampleRate),
	}, nil
}

// TranscribeFile implements stt.Provider by reading path as raw 16-bit
// signed little-endian mono PCM sampled at the provider's configured
// sampleRate and delegating to Transcribe.
func (p *Provider) TranscribeFile(ctx context.Context, path string) (stt.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stt.Result{}, fmt.Errorf("vosk: read file %q: %w", path, err)
	}
	samples := pcm16LEToFloats(data)
	return p.Transcribe(ctx, samples, p.sampleRate)
}

// voskResult is the subset of vosk's JSON result payload this provider uses.
// Vosk does not report per-word confidence unless word-level output is
// enabled on the recognizer, which this provider does not request.
type voskResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
