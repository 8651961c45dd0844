// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested counts accepted metric samples.
	SamplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auspex_samples_ingested_total",
			Help: "Total number of metric samples accepted into the window",
		},
	)

	// SamplesRejected counts malformed or oversized ingest payloads.
	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auspex_samples_rejected_total",
			Help: "Total number of ingest payloads dropped",
		},
		[]string{"reason"},
	)

	// WindowSize tracks the current sliding-window length.
	WindowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auspex_window_size",
			Help: "Current number of samples in the sliding window",
		},
	)

	// DetectionCycles counts completed detection cycles.
	DetectionCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auspex_detection_cycles_total",
			Help: "Total number of detection cycles run",
		},
	)

	// DetectionFailures counts aborted detection cycles.
	DetectionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auspex_detection_failures_total",
			Help: "Total number of detection cycles aborted by a fault",
		},
	)

	// DetectionLatency observes detection cycle duration.
	DetectionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auspex_detection_latency_seconds",
			Help:    "Detection cycle duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// AnomaliesDetected counts anomalies by type and severity.
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auspex_anomalies_detected_total",
			Help: "Total number of anomalies that cleared the score threshold",
		},
		[]string{"type", "severity"},
	)

	// ResponseOutcomes counts response channel results.
	ResponseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auspex_response_outcomes_total",
			Help: "Total number of response channel attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// DispatchQueueDepth tracks records waiting for a response worker.
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auspex_dispatch_queue_depth",
			Help: "Current number of anomaly records queued for dispatch",
		},
	)
)
