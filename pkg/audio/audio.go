// Package audio implements the per-(channel,speaker) sample buffer and
// inline voice-activity gate that feeds the transcription stage (spec.md
// §4.1).
//
// A [Manager] owns one [Buffer] per (channel, speaker) pair. Samples arrive
// already PCM-decoded and participant-tagged from an external ingress
// adapter — this package has no opinion on how audio reaches it, only on how
// it is accumulated until a transcription-worthy unit is assembled.
package audio

import (
	"sync"
	"time"
)

// Key identifies one buffer: a voice channel and the speaker within it.
type Key struct {
	Channel string
	Speaker string
}

// Chunk is one slice of incoming mono PCM samples, normalised to [-1, 1].
type Chunk struct {
	Samples    []float32
	SampleRate int
	// CapturedAt is when the chunk was recorded. Silence gating is applied
	// to this timestamp, never to the sample count, so buffers drain on
	// wall-clock silence regardless of how the ingress adapter chunks audio.
	CapturedAt time.Time
}

// Drained is the result of draining a [Buffer]: the combined samples plus
// the span they cover.
type Drained struct {
	Key        Key
	Samples    []float32
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Duration reports the wall-clock span the drained samples cover.
func (d Drained) Duration() time.Duration {
	if d.EndedAt.Before(d.StartedAt) {
		return 0
	}
	return d.EndedAt.Sub(d.StartedAt)
}

// Buffer accumulates samples for one (channel, speaker) pair. All methods
// are safe for concurrent use; callers never need an external lock.
type Buffer struct {
	mu sync.Mutex

	key          Key
	vadThreshold float64

	samples      []float32
	sampleRate   int
	startedAt    time.Time
	lastVoicedAt time.Time
}

func newBuffer(key Key, vadThreshold float64) *Buffer {
	return &Buffer{key: key, vadThreshold: vadThreshold}
}

// Append records chunk, sets startedAt on the first append into an empty
// buffer, and advances lastVoicedAt only when the chunk's RMS amplitude
// meets the buffer's VAD threshold. Returns true when the buffer has
// accumulated at least chunkDuration of audio, signalling the caller should
// drain it immediately rather than wait for the stale-buffer monitor.
func (b *Buffer) Append(chunk Chunk, chunkDuration time.Duration) (ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		b.startedAt = chunk.CapturedAt
	}
	if b.sampleRate == 0 {
		b.sampleRate = chunk.SampleRate
	}
	b.samples = append(b.samples, chunk.Samples...)
	if RMS(chunk.Samples) >= b.vadThreshold {
		b.lastVoicedAt = chunk.CapturedAt
	}

	return b.durationLocked() >= chunkDuration
}

// Stale reports whether the buffer is nonempty and has gone silenceThreshold
// since its last voiced chunk, as of now.
func (b *Buffer) Stale(now time.Time, silenceThreshold time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 || b.lastVoicedAt.IsZero() {
		return false
	}
	return now.Sub(b.lastVoicedAt) >= silenceThreshold
}

// Empty reports whether the buffer currently holds no samples.
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) == 0
}

// Drain returns the accumulated samples and resets the buffer's internal
// state. Draining an empty buffer is a no-op: it returns a zero-valued
// [Drained] and ok=false.
func (b *Buffer) Drain(now time.Time) (Drained, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return Drained{}, false
	}

	d := Drained{
		Key:        b.key,
		Samples:    b.samples,
		SampleRate: b.sampleRate,
		StartedAt:  b.startedAt,
		EndedAt:    now,
	}

	b.samples = nil
	b.startedAt = time.Time{}
	b.lastVoicedAt = time.Time{}

	return d, true
}

func (b *Buffer) durationLocked() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

// RMS computes the root-mean-square amplitude of samples, the same
// residual-silence measure used both here and by the transcription stage's
// discard check (spec.md §4.3 step 2).
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	mean := sumSq / float64(len(samples))
	return sqrt(mean)
}

// sqrt is a tiny Newton's-method square root, avoiding a math import for a
// single call site; kept here rather than in the prosody extractor since
// both need the same primitive and neither warrants its own package.
func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for range 20 {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// Manager owns one [Buffer] per (channel, speaker) key, guarded by a
// top-level lock that is held only long enough to find-or-create the
// per-key entry — never across an append or drain.
type Manager struct {
	mu           sync.Mutex
	buffers      map[Key]*Buffer
	vadThreshold float64
}

// NewManager creates a Manager whose buffers gate voiced chunks at
// vadThreshold RMS amplitude.
func NewManager(vadThreshold float64) *Manager {
	return &Manager{
		buffers:      make(map[Key]*Buffer),
		vadThreshold: vadThreshold,
	}
}

// Append routes chunk to key's buffer, creating it if this is the first
// chunk seen for that (channel, speaker) pair. Returns true when the buffer
// just became ready for immediate transcription.
func (m *Manager) Append(key Key, chunk Chunk, chunkDuration time.Duration) bool {
	return m.bufferFor(key).Append(chunk, chunkDuration)
}

// Drain drains key's buffer if one exists and is nonempty.
func (m *Manager) Drain(key Key, now time.Time) (Drained, bool) {
	m.mu.Lock()
	b, ok := m.buffers[key]
	m.mu.Unlock()
	if !ok {
		return Drained{}, false
	}
	return b.Drain(now)
}

// StaleKeys returns the keys of every buffer that is nonempty and has gone
// silent for at least silenceThreshold as of now. Used by the stale-buffer
// monitor's ~1 Hz tick.
func (m *Manager) StaleKeys(now time.Time, silenceThreshold time.Duration) []Key {
	m.mu.Lock()
	snapshot := make(map[Key]*Buffer, len(m.buffers))
	for k, b := range m.buffers {
		snapshot[k] = b
	}
	m.mu.Unlock()

	var stale []Key
	for k, b := range snapshot {
		if b.Stale(now, silenceThreshold) {
			stale = append(stale, k)
		}
	}
	return stale
}

// Keys returns the keys of every buffer currently tracked, including empty
// ones. Used for the shutdown and provider-swap drain-everything sweeps.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]Key, 0, len(m.buffers))
	for k := range m.buffers {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) bufferFor(key Key) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[key]
	if !ok {
		b = newBuffer(key, m.vadThreshold)
		m.buffers[key] = b
	}
	return b
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a component closes a channel on
// shutdown but nothing downstream still wants its values.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
