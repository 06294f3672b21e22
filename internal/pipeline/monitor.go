package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/JasonMadeSomething/voxscribe/pkg/audio"
)

// Processor drains and transcribes one buffer. Implemented by
// [TranscriptionStage.Process]; kept as a narrow interface so the monitor
// can be tested without a full transcription stage.
type Processor interface {
	Process(ctx context.Context, key audio.Key) error
}

// StaleBufferMonitor ticks at a fixed cadence (~1 Hz per spec.md §4.2) and
// triggers transcription for every stale, nonempty buffer. Ordering between
// a tick and a concurrent append is resolved inside the buffer itself — the
// monitor only ever sees a consistent snapshot of which keys are stale.
type StaleBufferMonitor struct {
	buffers          *audio.Manager
	process          Processor
	silenceThreshold time.Duration
}

// NewStaleBufferMonitor creates a monitor over buffers that flushes any
// buffer silent for at least silenceThreshold by invoking process.
func NewStaleBufferMonitor(buffers *audio.Manager, process Processor, silenceThreshold time.Duration) *StaleBufferMonitor {
	return &StaleBufferMonitor{
		buffers:          buffers,
		process:          process,
		silenceThreshold: silenceThreshold,
	}
}

// Run ticks every interval until ctx is cancelled, unwinding cleanly on
// shutdown (it never blocks past the current tick).
func (m *StaleBufferMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(ctx, now)
		}
	}
}

func (m *StaleBufferMonitor) tick(ctx context.Context, now time.Time) {
	for _, key := range m.buffers.StaleKeys(now, m.silenceThreshold) {
		if err := m.process.Process(ctx, key); err != nil {
			slog.Warn("stale buffer monitor: process failed", "channel", key.Channel, "speaker", key.Speaker, "err", err)
		}
	}
}
