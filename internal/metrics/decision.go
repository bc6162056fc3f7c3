// Package metrics exposes Prometheus instrumentation shared across the
// playback decision and pipeline layers. Packages that own a single
// subsystem (ffmpeg, hls, throttle) register their metrics locally.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexa_decision_total",
		Help: "Total number of playback decisions by path and leading reason",
	}, []string{"path", "reason"})
)

// RecordDecision records one playback decision outcome. The reason label
// carries only the first reason of a combined set to keep cardinality flat.
func RecordDecision(path, reasons string) {
	decisionTotal.WithLabelValues(
		normalizePathLabel(path),
		leadingReasonLabel(reasons),
	).Inc()
}

func normalizePathLabel(path string) string {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "direct", "remux", "transcode", "reject":
		return strings.ToLower(strings.TrimSpace(path))
	default:
		return "unknown"
	}
}

func leadingReasonLabel(reasons string) string {
	reasons = strings.TrimSpace(reasons)
	if reasons == "" || reasons == "None" {
		return "none"
	}
	if i := strings.IndexByte(reasons, ','); i >= 0 {
		reasons = reasons[:i]
	}
	return strings.ToLower(reasons)
}
