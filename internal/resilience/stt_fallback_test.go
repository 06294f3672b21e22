package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt"
	sttmock "github.com/JasonMadeSomething/voxscribe/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: stt.Result{Text: "hello from primary"}}
	secondary := &sttmock.Provider{Result: stt.Result{Text: "hello from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	result, err := fb.Transcribe(context.Background(), []float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello from primary" {
		t.Fatalf("text = %q, want 'hello from primary'", result.Text)
	}
	if len(primary.TranscribeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.TranscribeCalls))
	}
	if len(secondary.TranscribeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.TranscribeCalls))
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: stt.Result{Text: "hello from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	result, err := fb.Transcribe(context.Background(), []float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello from secondary" {
		t.Fatalf("text = %q, want 'hello from secondary'", result.Text)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), []float32{0.1}, 16000)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_TranscribeFile_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: stt.Result{Text: "from file"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	result, err := fb.TranscribeFile(context.Background(), "/tmp/utterance.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "from file" {
		t.Fatalf("text = %q, want 'from file'", result.Text)
	}
}

func TestSTTFallback_Name(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "whisper"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if fb.Name() != "whisper" {
		t.Fatalf("Name() = %q, want whisper", fb.Name())
	}
}
