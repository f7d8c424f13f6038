// Package metrics exposes Prometheus collectors for the streaming server.
//
// All methods are safe on a nil *Metrics, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagestream"

// Metrics holds every collector.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	capturesTotal    prometheus.Counter
	captureDuration  prometheus.Histogram
	framesTotal      *prometheus.CounterVec
	updateBytesTotal prometheus.Counter
	updateArea       prometheus.Histogram
	frameErrorsTotal *prometheus.CounterVec
	inputTotal       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently streaming sessions",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions by outcome",
		}, []string{"status"}), // status: opened, rejected, failed
		capturesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Total number of capture attempts",
		}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of capture plus pipeline in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of processed frames by outcome",
		}, []string{"outcome"}), // outcome: emitted, unchanged, stale
		updateBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_bytes_total",
			Help:      "Total bytes of framed updates sent",
		}),
		updateArea: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_area_pixels",
			Help:      "Area of the changed region per update",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 9),
		}),
		frameErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total number of per-frame errors by category",
		}, []string{"category"}),
		inputTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_messages_total",
			Help:      "Total number of client input messages by type",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{
		m.sessionsActive,
		m.sessionsTotal,
		m.capturesTotal,
		m.captureDuration,
		m.framesTotal,
		m.updateBytesTotal,
		m.updateArea,
		m.frameErrorsTotal,
		m.inputTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionOpened records a session that started streaming.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.WithLabelValues("opened").Inc()
}

// SessionClosed records the end of an opened session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SessionRejected records a connection refused for bad parameters.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues("rejected").Inc()
}

// SessionFailed records a session whose setup failed.
func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues("failed").Inc()
}

// Capture records one capture attempt and its duration.
func (m *Metrics) Capture(durationSeconds float64) {
	if m == nil {
		return
	}
	m.capturesTotal.Inc()
	m.captureDuration.Observe(durationSeconds)
}

// Frame records the outcome of one processed frame.
func (m *Metrics) Frame(outcome string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(outcome).Inc()
}

// Update records one update sent to a client.
func (m *Metrics) Update(bytes, area int) {
	if m == nil {
		return
	}
	m.updateBytesTotal.Add(float64(bytes))
	m.updateArea.Observe(float64(area))
}

// FrameError records a per-frame error.
func (m *Metrics) FrameError(category string) {
	if m == nil {
		return
	}
	m.frameErrorsTotal.WithLabelValues(category).Inc()
}

// Input records a client input message.
func (m *Metrics) Input(kind string) {
	if m == nil {
		return
	}
	m.inputTotal.WithLabelValues(kind).Inc()
}
