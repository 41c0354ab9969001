// Package logger provides pipeline lifecycle logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineLogger provides dedicated logging for build and run events.
type PipelineLogger struct {
	*logrus.Entry
}

// NewPipelineLogger creates a new pipeline logger.
func NewPipelineLogger(baseLogger *logrus.Logger) *PipelineLogger {
	return &PipelineLogger{
		Entry: Component(baseLogger, "pipeline"),
	}
}

// LogManifestRecorded logs a completed build.
func (pl *PipelineLogger) LogManifestRecorded(versionID string, roots []string, records int, duration time.Duration) {
	pl.WithFields(logrus.Fields{
		"manifest_version": versionID,
		"scope_roots":      roots,
		"records":          records,
		"duration_ms":      duration.Milliseconds(),
	}).Info("Manifest recorded")
}

// LogRunStarted logs the start of an orchestrator run.
func (pl *PipelineLogger) LogRunStarted(runID, manifestVersion string, strategies, series, pairs, workers int) {
	pl.WithFields(logrus.Fields{
		"run_id":           runID,
		"manifest_version": manifestVersion,
		"strategies":       strategies,
		"series":           series,
		"pairs":            pairs,
		"workers":          workers,
	}).Info("Backtest run started")
}

// LogPairFailed logs one failed (strategy, series) pair.
func (pl *PipelineLogger) LogPairFailed(runID, strategyID, seriesID, errorKind, message string) {
	pl.WithFields(logrus.Fields{
		"run_id":      runID,
		"strategy_id": strategyID,
		"series_id":   seriesID,
		"error_kind":  errorKind,
		"message":     message,
	}).Warn("Backtest pair failed")
}

// LogRunCompleted logs the end of an orchestrator run.
func (pl *PipelineLogger) LogRunCompleted(runID, manifestVersion string, succeeded, failed int, duration time.Duration) {
	pl.WithFields(logrus.Fields{
		"run_id":           runID,
		"manifest_version": manifestVersion,
		"succeeded":        succeeded,
		"failed":           failed,
		"duration_ms":      duration.Milliseconds(),
	}).Info("Backtest run completed")
}
