// Package cadence measures how regularly a session captures frames.
//
// The scheduler aims for a fixed interval, but every capture waits on the
// render engine, so the real rate drifts with page complexity. Tracker
// keeps the last N capture timestamps and derives rate and jitter from
// them; the numbers surface in session stats and on /readiness.
package cadence

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultWindow is the number of timestamps kept.
	DefaultWindow = 64

	// rateStabilityThreshold is the maximum allowed rate standard deviation
	// as a fraction of the mean rate.
	rateStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a
	// fraction of the mean interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes the capture timestamps in the window.
type Stats struct {
	Captures   uint64        `json:"captures"`
	Window     int           `json:"window"`
	Span       time.Duration `json:"span_ns"`
	RateMean   float64       `json:"rate_mean"`
	RateStdDev float64       `json:"rate_stddev"`
	RateMin    float64       `json:"rate_min"`
	RateMax    float64       `json:"rate_max"`

	JitterMean   float64 `json:"jitter_mean_s"`
	JitterStdDev float64 `json:"jitter_stddev_s"`
	JitterMax    float64 `json:"jitter_max_s"`

	Stable bool `json:"stable"`
}

// Tracker is a fixed-size ring of capture timestamps. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
	total uint64
}

// NewTracker creates a Tracker keeping window timestamps. A window below 2
// uses DefaultWindow.
func NewTracker(window int) *Tracker {
	if window < 2 {
		window = DefaultWindow
	}
	return &Tracker{times: make([]time.Time, window)}
}

// Record adds a capture timestamp.
func (t *Tracker) Record(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times[t.next] = at
	t.next = (t.next + 1) % len(t.times)
	if t.next == 0 {
		t.full = true
	}
	t.total++
}

// Stats computes statistics over the current window.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	var ordered []time.Time
	if t.full {
		ordered = append(ordered, t.times[t.next:]...)
		ordered = append(ordered, t.times[:t.next]...)
	} else {
		ordered = append(ordered, t.times[:t.next]...)
	}
	total := t.total
	t.mu.Unlock()

	s := Calculate(ordered)
	s.Captures = total
	return s
}

// Calculate derives rate and jitter statistics from ordered timestamps.
//
// Rates are instantaneous (1/interval) and compared against the mean rate
// over the whole span; jitter is the absolute deviation of each interval
// from the mean interval. The window is stable when the rate deviation is
// under 15% of the mean rate and the mean jitter under 20% of the mean
// interval.
func Calculate(times []time.Time) Stats {
	n := len(times)
	s := Stats{Captures: uint64(n), Window: n}
	if n < 2 {
		return s
	}

	s.Span = times[n-1].Sub(times[0])
	if s.Span <= 0 {
		return s
	}
	s.RateMean = float64(n-1) / s.Span.Seconds()

	rates := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := times[i].Sub(times[i-1]).Seconds()
		if interval > 0 {
			rates = append(rates, 1.0/interval)
		}
	}
	if len(rates) == 0 {
		return s
	}

	s.RateMin, s.RateMax = rates[0], rates[0]
	var sumSquares float64
	for _, r := range rates {
		s.RateMin = math.Min(s.RateMin, r)
		s.RateMax = math.Max(s.RateMax, r)
		d := r - s.RateMean
		sumSquares += d * d
	}
	s.RateStdDev = math.Sqrt(sumSquares / float64(len(rates)))

	expected := 1.0 / s.RateMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		s.JitterMax = math.Max(s.JitterMax, j)
	}
	s.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		d := j - s.JitterMean
		jitterSquares += d * d
	}
	s.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	s.Stable = s.RateStdDev < s.RateMean*rateStabilityThreshold &&
		s.JitterMean < expected*jitterStabilityThreshold
	return s
}
