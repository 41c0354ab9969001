package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drift gauges and counters
var (
	DriftFiles = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "drift_files",
		Help:      "Files per drift class from the latest verification",
	}, []string{"class"})

	DriftChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drift_checks_total",
		Help:      "Total number of drift verifications by verdict",
	}, []string{"verdict"})
)

// UpdateDrift publishes the partition sizes of a drift report.
func UpdateDrift(unchanged, modified, added, missing int) {
	DriftFiles.WithLabelValues("unchanged").Set(float64(unchanged))
	DriftFiles.WithLabelValues("modified").Set(float64(modified))
	DriftFiles.WithLabelValues("added").Set(float64(added))
	DriftFiles.WithLabelValues("missing").Set(float64(missing))
}

// RecordDriftCheck records a verification verdict: "clean", "drift", "failed" or "skipped".
func RecordDriftCheck(verdict string) {
	DriftChecksTotal.WithLabelValues(verdict).Inc()
}
