// Package metrics exposes the kiosk's Prometheus gauges and counters,
// grounded on the teacher's internal/metrics collector-variable style
// (package-level promauto registrations, no constructor).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_sessions_total",
		Help: "Total number of capture sessions by terminal outcome",
	}, []string{"outcome"}) // "complete", "error", "cancelled"

	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kiosk_session_duration_seconds",
		Help:    "Wall-clock duration of a capture session, trigger to Idle",
		Buckets: prometheus.LinearBuckets(2, 2, 12),
	})

	PhaseDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kiosk_phase_duration_seconds",
		Help:    "Time spent in each phase",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	ValidationPassingFrames = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kiosk_validation_passing_frames",
		Help:    "Number of liveness-passing frames collected during HumanDetect",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	})

	CameraRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_camera_running",
		Help: "1 if the depth+color pipeline is currently active, else 0",
	})

	BridgeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_bridge_connected",
		Help: "1 if the full-duplex bridge socket is currently open, else 0",
	})

	ErrorsByKind = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_errors_total",
		Help: "Session failures by classified error kind",
	}, []string{"kind"})
)
