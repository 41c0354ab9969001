package models

import "time"

// StrategyDefinition is a fingerprinted strategy file and its parameters
type StrategyDefinition struct {
	Identifier        string         `json:"identifier"`
	SourcePath        string         `json:"source_path"`
	SourceFingerprint Digest         `json:"source_fingerprint"`
	Engine            string         `json:"engine,omitempty"`
	Parameters        map[string]any `json:"parameters"`
}

// TimeRange bounds a price series. Zero values mean unbounded.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range, both ends inclusive.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// DataSeries is a fingerprinted price-series file
type DataSeries struct {
	Identifier        string    `json:"identifier"`
	SourcePath        string    `json:"source_path"`
	SourceFingerprint Digest    `json:"source_fingerprint"`
	TimeRange         TimeRange `json:"time_range"`
}
