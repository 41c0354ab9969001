// Package metrics provides the Prometheus metrics registry for the reproducible backtest pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "repro"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	FilesFingerprintedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_fingerprinted_total",
		Help:      "Total number of files hashed by the fingerprinter",
	})
	BytesHashedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_hashed_total",
		Help:      "Total number of file bytes hashed",
	})
	ManifestsRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manifests_recorded_total",
		Help:      "Total number of manifests written to the store",
	})
)

// Gauge metrics
var (
	ManifestRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "manifest_records",
		Help:      "Number of file records in the most recently recorded or loaded manifest",
	})
)

// Histogram metrics
var (
	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fingerprint_scan_duration_seconds",
		Help:      "Duration of a full fingerprint scan in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(FilesFingerprintedTotal)
		registry.MustRegister(BytesHashedTotal)
		registry.MustRegister(ManifestsRecordedTotal)
		registry.MustRegister(ManifestRecords)
		registry.MustRegister(ScanDuration)

		registry.MustRegister(DriftFiles)
		registry.MustRegister(DriftChecksTotal)

		registry.MustRegister(BacktestInvocationsTotal)
		registry.MustRegister(BacktestInvocationDuration)
		registry.MustRegister(BacktestRunDuration)
		registry.MustRegister(ResultsRecordedTotal)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordFileFingerprinted records one hashed file.
func RecordFileFingerprinted(size int64) {
	FilesFingerprintedTotal.Inc()
	BytesHashedTotal.Add(float64(size))
}

// RecordScanDuration records a completed scan.
func RecordScanDuration(durationSeconds float64) {
	ScanDuration.Observe(durationSeconds)
}

// RecordManifest records a written manifest and its size.
func RecordManifest(records int) {
	ManifestsRecordedTotal.Inc()
	ManifestRecords.Set(float64(records))
}
