// Package mock provides a test double for the stt package interfaces.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Result{Text: "hello world"}}
//	r, _ := p.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Samples    []float32
	SampleRate int
}

// TranscribeFileCall records a single invocation of Provider.TranscribeFile.
type TranscribeFileCall struct {
	Path string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock" if empty.
	ProviderName string

	// Result is returned by every Transcribe and TranscribeFile call unless
	// Err is set.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe and
	// TranscribeFile instead of Result.
	Err error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	// TranscribeFileCalls records every call to TranscribeFile.
	TranscribeFileCalls []TranscribeFileCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(_ context.Context, samples []float32, sampleRate int) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Samples: cp, SampleRate: sampleRate})
	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	return p.Result, nil
}

// TranscribeFile records the call and returns Result, Err.
func (p *Provider) TranscribeFile(_ context.Context, path string) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeFileCalls = append(p.TranscribeFileCalls, TranscribeFileCall{Path: path})
	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	return p.Result, nil
}

// Name returns ProviderName, or "mock" if unset.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.TranscribeFileCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
