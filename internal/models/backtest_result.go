package models

import (
	"fmt"
	"math"
	"time"
)

// ResultKey identifies a backtest result
type ResultKey struct {
	StrategyFingerprint Digest `json:"strategy_fingerprint"`
	DataFingerprint     Digest `json:"data_fingerprint"`
	ManifestVersion     string `json:"manifest_version"`
}

// String renders the key as "<strategy>:<data>@<version>".
func (k ResultKey) String() string {
	return fmt.Sprintf("%s:%s@%s", k.StrategyFingerprint, k.DataFingerprint, k.ManifestVersion)
}

// BacktestResult represents a persisted backtest run bound to a manifest
type BacktestResult struct {
	StrategyFingerprint Digest             `db:"strategy_fingerprint" json:"strategy_fingerprint"`
	DataFingerprint     Digest             `db:"data_fingerprint" json:"data_fingerprint"`
	ManifestVersion     string             `db:"manifest_version" json:"manifest_version"`
	StrategyID          string             `db:"strategy_id" json:"strategy_id"`
	SeriesID            string             `db:"series_id" json:"series_id"`
	Metrics             map[string]float64 `db:"metrics" json:"metrics"`
	ProducedAt          time.Time          `db:"produced_at" json:"produced_at"`
}

// Key returns the uniqueness key of the result.
func (r *BacktestResult) Key() ResultKey {
	return ResultKey{
		StrategyFingerprint: r.StrategyFingerprint,
		DataFingerprint:     r.DataFingerprint,
		ManifestVersion:     r.ManifestVersion,
	}
}

// SameMetrics reports whether two metric maps are identical. NaN equals NaN.
func SameMetrics(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for name, av := range a {
		bv, ok := b[name]
		if !ok {
			return false
		}
		if math.IsNaN(av) && math.IsNaN(bv) {
			continue
		}
		if av != bv {
			return false
		}
	}
	return true
}

// Error kinds carried by FailedResult
const (
	ErrorKindTimeout           = "timeout"
	ErrorKindInvalidParameters = "invalid_parameters"
	ErrorKindInsufficientData  = "insufficient_data"
	ErrorKindNumerical         = "numerical"
	ErrorKindData              = "data"
	ErrorKindPanic             = "panic"
	ErrorKindInternal          = "internal"
)

// FailedResult records one (strategy, series) pair whose evaluation failed
type FailedResult struct {
	StrategyFingerprint Digest `json:"strategy_fingerprint"`
	DataFingerprint     Digest `json:"data_fingerprint"`
	StrategyID          string `json:"strategy_id"`
	SeriesID            string `json:"series_id"`
	ErrorKind           string `json:"error_kind"`
	Message             string `json:"message"`
}
