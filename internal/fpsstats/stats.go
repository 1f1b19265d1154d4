// Package fpsstats measures the capture cadence of a worker: mean rate,
// spread of the instantaneous rate, and inter-frame jitter.
package fpsstats

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20
)

// Stats contains cadence statistics over a set of frame timestamps
type Stats struct {
	FramesReceived int           `yaml:"frames_received" json:"frames_received"`
	Duration       time.Duration `yaml:"duration" json:"duration"`
	FPSMean        float64       `yaml:"fps_mean" json:"fps_mean"`
	FPSStdDev      float64       `yaml:"fps_stddev" json:"fps_stddev"`
	FPSMin         float64       `yaml:"fps_min" json:"fps_min"`
	FPSMax         float64       `yaml:"fps_max" json:"fps_max"`
	IsStable       bool          `yaml:"stable" json:"stable"`
	JitterMean     float64       `yaml:"jitter_mean_s" json:"jitter_mean_s"`
	JitterStdDev   float64       `yaml:"jitter_stddev_s" json:"jitter_stddev_s"`
	JitterMax      float64       `yaml:"jitter_max_s" json:"jitter_max_s"`
}

// Calculate computes cadence statistics from frame timestamps.
//
// This function:
//  1. Calculates mean FPS (overall)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter statistics (deviation from the expected interval)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20%)
func Calculate(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	stats := Stats{FramesReceived: n, Duration: totalDuration}

	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}

	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin = instantaneous[0]
	stats.FPSMax = instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expectedInterval := 1.0 / stats.FPSMean

	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		actual := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		j := math.Abs(actual - expectedInterval)
		jitters = append(jitters, j)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSumSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSumSquares / float64(len(jitters)))

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expectedInterval*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

// Window keeps the most recent frame timestamps of one stream.
//
// Safe for one writer and concurrent readers.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow creates a window holding up to size timestamps.
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records a frame timestamp, evicting the oldest when full.
func (w *Window) Add(ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times[w.next] = ts
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
}

// Reset drops all held timestamps.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next = 0
	w.full = false
}

// Len returns the number of timestamps held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.full {
		return len(w.times)
	}
	return w.next
}

// Stats computes cadence statistics over the held timestamps, oldest first.
//
// The duration is measured from the first held frame to the last one plus
// one mean interval, so n frames at exactly f Hz yield FPSMean == f.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	ordered := w.ordered()
	w.mu.Unlock()

	n := len(ordered)
	if n < 2 {
		return Stats{FramesReceived: n}
	}

	span := ordered[n-1].Sub(ordered[0])
	duration := span + span/time.Duration(n-1)
	return Calculate(ordered, duration)
}

func (w *Window) ordered() []time.Time {
	if !w.full {
		return append([]time.Time(nil), w.times[:w.next]...)
	}
	out := make([]time.Time, 0, len(w.times))
	out = append(out, w.times[w.next:]...)
	out = append(out, w.times[:w.next]...)
	return out
}
