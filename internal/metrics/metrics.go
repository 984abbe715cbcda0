package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan loop instrumentation.
var (
	FramesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyguard_frames_processed_total",
			Help: "Total number of keyframes scored",
		},
	)

	DetectionsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyguard_detections_total",
			Help: "Total number of scored detections by threat level",
		},
		[]string{"threat_level"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyguard_detector_errors_total",
			Help: "Total number of detector failures",
		},
		[]string{"kind"}, // "logic", "crash"
	)

	DetectorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyguard_detector_latency_seconds",
			Help:    "Time spent in the detector per keyframe",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	ActiveLabels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyguard_active_labels",
			Help: "Number of distinct labels aggregated in the current session",
		},
	)
)

// RecordDetection counts one scored detection.
func RecordDetection(level string) {
	DetectionsObserved.WithLabelValues(level).Inc()
}

// RecordDetectorError counts one detector failure.
func RecordDetectorError(kind string) {
	DetectorErrors.WithLabelValues(kind).Inc()
}
