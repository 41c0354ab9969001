// Package metrics defines backtesting-specific metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Backtest counter vectors
var (
	BacktestInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backtest_invocations_total",
		Help:      "Total number of engine invocations by status",
	}, []string{"status"})

	ResultsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_recorded_total",
		Help:      "Total number of recorder calls by outcome",
	}, []string{"outcome"})
)

// Backtest histograms
var (
	BacktestInvocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backtest_invocation_duration_seconds",
		Help:      "Duration of a single engine invocation in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	BacktestRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backtest_run_duration_seconds",
		Help:      "Duration of a full orchestrator run in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	})
)

// RecordInvocation records one engine call.
// status is "success" or a FailedResult error kind.
func RecordInvocation(status string, durationSeconds float64) {
	BacktestInvocationsTotal.WithLabelValues(status).Inc()
	BacktestInvocationDuration.Observe(durationSeconds)
}

// RecordRunDuration records a full orchestrator run.
func RecordRunDuration(durationSeconds float64) {
	BacktestRunDuration.Observe(durationSeconds)
}

// RecordResult records a recorder outcome: "inserted", "unchanged", "overwritten" or "rejected".
func RecordResult(outcome string) {
	ResultsRecordedTotal.WithLabelValues(outcome).Inc()
}
