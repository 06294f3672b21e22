package vosk_test

import (
	"context"
	"os"
	"testing"

	"github.com/JasonMadeSomething/voxscribe/pkg/provider/stt/vosk"
)

// testModelPath returns the path to a vosk model for integration tests. It
// reads from the VOSK_MODEL_PATH environment variable. If unset the test is
// skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("VOSK_MODEL_PATH")
	if p == "" {
		t.Skip("VOSK_MODEL_PATH not set; skipping vosk test")
	}
	return p
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	_, err := vosk.New("", 16000)
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNew_DefaultsSampleRate(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := vosk.New(modelPath, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if p.Name() != "vosk" {
		t.Errorf("Name() = %q, want %q", p.Name(), "vosk")
	}
}

func TestTranscribe_CancelledContext_ReturnsError(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := vosk.New(modelPath, 16000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Transcribe(ctx, make([]float32, 1600), 16000)
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestTranscribe_ConcurrentCallsDoNotPanic(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := vosk.New(modelPath, 16000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	samples := make([]float32, 16000)

	errCh := make(chan error, 4)
	for range 4 {
		go func() {
			_, err := p.Transcribe(context.Background(), samples, 16000)
			errCh <- err
		}()
	}
	for range 4 {
		if err := <-errCh; err != nil {
			t.Errorf("concurrent Transcribe: %v", err)
		}
	}
}
