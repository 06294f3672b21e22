// Package prosody implements the supplemented acoustic-feature extractor
// that feeds the prosody-interpretation enrichment handler: per-utterance
// final pitch slope, final intensity slope, harmonics-to-noise ratio,
// jitter, and mean intensity (spec.md §4.9 `[FULL]`).
//
// No acoustic-analysis library appears anywhere in the example pack, so
// this package computes all five features directly from PCM samples using
// only the standard library: framed autocorrelation for pitch, RMS-in-dB
// for intensity, and period-to-period variation for jitter.
package prosody

import (
	"math"

	"github.com/JasonMadeSomething/voxscribe/pkg/audio"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

const (
	frameSize = 1024
	hopSize   = 512

	minFramesForAnalysis = 4

	minF0Hz = 70.0
	maxF0Hz = 400.0

	// slopeWindowFrames bounds how many trailing frames contribute to the
	// "final" pitch/intensity slope — the utterance's closing trend, not
	// its whole span.
	slopeWindowFrames = 6

	silenceFloorDB = -60.0
)

// Extractor computes a [memory.Prosody] from one drained buffer's samples.
// Implements [internal/pipeline.ProsodyExtractor] structurally.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns nil when samples are too short to yield a reliable
// feature set (fewer than [minFramesForAnalysis] frames).
func (e *Extractor) Extract(samples []float32, sampleRate int) *memory.Prosody {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}

	frames := frameify(samples, frameSize, hopSize)
	if len(frames) < minFramesForAnalysis {
		return nil
	}

	intensities := make([]float64, len(frames))
	f0s := make([]float64, len(frames))
	for i, f := range frames {
		intensities[i] = amplitudeToDB(audio.RMS(f))
		f0s[i] = estimateF0(f, sampleRate)
	}

	p := &memory.Prosody{}

	if slope, ok := trailingSlope(intensities, slopeWindowFrames); ok {
		p.FinalIntensitySlope = &slope
	}
	if slope, ok := trailingSlope(voicedOnly(f0s), slopeWindowFrames); ok {
		p.FinalPitchSlope = &slope
	}
	if mean, ok := meanOf(intensities); ok {
		p.IntensityMeanDB = &mean
	}
	if jitter, ok := computeJitter(f0s); ok {
		p.JitterLocal = &jitter
	}
	if hnr, ok := computeHNR(frames, sampleRate); ok {
		p.HNRDb = &hnr
	}

	return p
}

func frameify(samples []float32, size, hop int) [][]float32 {
	if len(samples) < size {
		return nil
	}
	var frames [][]float32
	for start := 0; start+size <= len(samples); start += hop {
		frames = append(frames, samples[start:start+size])
	}
	return frames
}

func amplitudeToDB(rms float64) float64 {
	if rms <= 0 {
		return silenceFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < silenceFloorDB {
		return silenceFloorDB
	}
	return db
}

// estimateF0 finds the fundamental frequency of one frame via normalised
// autocorrelation over the human-voice pitch range, returning 0 for an
// unvoiced (no clear periodicity) frame.
func estimateF0(frame []float32, sampleRate int) float64 {
	minLag := sampleRate / int(maxF0Hz)
	maxLag := sampleRate / int(minF0Hz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(frame) {
		maxLag = len(frame) - 1
	}
	if minLag >= maxLag {
		return 0
	}

	var energy float64
	for _, s := range frame {
		energy += float64(s) * float64(s)
	}
	if energy <= 0 {
		return 0
	}

	bestLag := -1
	bestScore := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i < len(frame)-lag; i++ {
			corr += float64(frame[i]) * float64(frame[i+lag])
		}
		score := corr / energy
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}

	// A weak peak means the frame has no clear periodicity (unvoiced or
	// silent); treat it as having no detectable pitch.
	const voicingThreshold = 0.3
	if bestLag <= 0 || bestScore < voicingThreshold {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}

func voicedOnly(f0s []float64) []float64 {
	out := make([]float64, 0, len(f0s))
	for _, f := range f0s {
		if f > 0 {
			out = append(out, f)
		}
	}
	return out
}

// trailingSlope fits a simple linear regression slope over the last n
// values of series (or all of it, if shorter), reporting ok=false when
// fewer than two points are available.
func trailingSlope(series []float64, n int) (float64, bool) {
	if len(series) > n {
		series = series[len(series)-n:]
	}
	if len(series) < 2 {
		return 0, false
	}

	var sumX, sumY, sumXY, sumXX float64
	count := float64(len(series))
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := count*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	slope := (count*sumXY - sumX*sumY) / denom
	return slope, true
}

func meanOf(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series)), true
}

// computeJitter reports the mean relative period-to-period variation
// across consecutive voiced frames' estimated F0 — the same "local jitter"
// concept prosody-interpretation consumes via cfg.MaxJitter.
func computeJitter(f0s []float64) (float64, bool) {
	voiced := voicedOnly(f0s)
	if len(voiced) < 2 {
		return 0, false
	}

	periods := make([]float64, len(voiced))
	for i, f := range voiced {
		periods[i] = 1.0 / f
	}

	var sumDiff, sumPeriod float64
	for i := 1; i < len(periods); i++ {
		sumDiff += math.Abs(periods[i] - periods[i-1])
	}
	for _, p := range periods {
		sumPeriod += p
	}
	meanPeriod := sumPeriod / float64(len(periods))
	if meanPeriod == 0 {
		return 0, false
	}

	meanDiff := sumDiff / float64(len(periods)-1)
	return meanDiff / meanPeriod, true
}

// computeHNR approximates harmonics-to-noise ratio, in dB, as the mean
// autocorrelation peak strength across voiced frames converted to a power
// ratio: a higher normalised peak means more periodic (harmonic) energy
// relative to noise.
func computeHNR(frames [][]float32, sampleRate int) (float64, bool) {
	minLag := sampleRate / int(maxF0Hz)
	maxLag := sampleRate / int(minF0Hz)
	if minLag < 1 {
		minLag = 1
	}

	var scores []float64
	for _, frame := range frames {
		lagMax := maxLag
		if lagMax >= len(frame) {
			lagMax = len(frame) - 1
		}
		if minLag >= lagMax {
			continue
		}

		var energy float64
		for _, s := range frame {
			energy += float64(s) * float64(s)
		}
		if energy <= 0 {
			continue
		}

		best := 0.0
		for lag := minLag; lag <= lagMax; lag++ {
			var corr float64
			for i := 0; i < len(frame)-lag; i++ {
				corr += float64(frame[i]) * float64(frame[i+lag])
			}
			if score := corr / energy; score > best {
				best = score
			}
		}
		if best > 0 {
			scores = append(scores, best)
		}
	}

	mean, ok := meanOf(scores)
	if !ok || mean <= 0 || mean >= 1 {
		return 0, false
	}
	// mean is the fraction of energy explained by periodicity; convert the
	// harmonic/noise power ratio to dB.
	return 10 * math.Log10(mean/(1-mean)), true
}
