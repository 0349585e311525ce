// Package metrics provides Prometheus metrics for still capture.
//
// Labels are limited to small closed sets (capture result, run state, error
// category); frame identifiers and trace IDs never become labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/e7canasta/still-capture/internal/monitor"
)

// Capture results used as the "result" label.
const (
	ResultOK         = "ok"
	ResultNotRunning = "not_running"
	ResultPending    = "already_pending"
	ResultStopped    = "stopped"
	ResultCancelled  = "cancelled"
	ResultError      = "error"
)

var (
	// CapturesTotal counts CaptureOne calls by result.
	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcapture",
		Name:      "captures_total",
		Help:      "Total number of single-frame capture requests, by result.",
	}, []string{"result"})

	// CaptureLatency is the time from request to frame for successful captures.
	CaptureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stillcapture",
		Name:      "capture_latency_seconds",
		Help:      "Time from capture request to frame retrieval.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// CaptureBytes is the payload size of captured frames.
	CaptureBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stillcapture",
		Name:      "capture_bytes",
		Help:      "Payload size of captured frames in bytes.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to 256MiB
	})

	// RunState is the numeric RunState of the most recently transitioned
	// pipeline (0 idle, 1 running, 2 stopped eos, 3 stopped error).
	RunState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stillcapture",
		Name:      "run_state",
		Help:      "Current pipeline run state (0=idle, 1=running, 2=stopped_eos, 3=stopped_error).",
	})

	// TransitionsTotal counts RunState transitions by target state.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcapture",
		Name:      "run_state_transitions_total",
		Help:      "Total number of run state transitions, by target state.",
	}, []string{"to"})

	// PipelineErrorsTotal counts pipeline error notifications by category.
	PipelineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stillcapture",
		Name:      "pipeline_errors_total",
		Help:      "Total number of pipeline error notifications, by category.",
	}, []string{"category"})
)

// ObserveCapture records one capture attempt. latency and size are only
// observed for ResultOK.
func ObserveCapture(result string, latency time.Duration, size int) {
	CapturesTotal.WithLabelValues(result).Inc()
	if result != ResultOK {
		return
	}
	CaptureLatency.Observe(latency.Seconds())
	CaptureBytes.Observe(float64(size))
}

// RecordTransition records a RunState change.
func RecordTransition(to monitor.RunState) {
	RunState.Set(float64(to))
	TransitionsTotal.WithLabelValues(to.String()).Inc()
}

// RecordPipelineError records one error notification.
func RecordPipelineError(category monitor.ErrorCategory) {
	PipelineErrorsTotal.WithLabelValues(category.String()).Inc()
}
