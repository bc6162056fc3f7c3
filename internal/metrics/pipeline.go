package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineFallbackTotal counts hardware pipelines that were rebuilt in
	// software after filter graph validation failed.
	PipelineFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexa_pipeline_software_fallback_total",
		Help: "Hardware filter pipelines rebuilt in software after validation failure",
	}, []string{"accel"})

	// ProbeDuration tracks how long ffprobe takes per media part.
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexa_probe_duration_seconds",
		Help:    "Time taken to probe a media part",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// IncPipelineFallback records one software fallback for the given accel.
func IncPipelineFallback(accel string) {
	PipelineFallbackTotal.WithLabelValues(accel).Inc()
}
