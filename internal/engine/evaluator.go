// Package engine defines the evaluation-engine capability consumed by the
// orchestrator and ships the adapters that implement it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/repro-backtest/internal/models"
)

// Engine kinds accepted in configuration and strategy files
const (
	KindSMACross = "sma_cross"
	KindHTTP     = "http"
)

// Bar is one OHLCV observation.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is a loaded, time-ordered series bound to the fingerprint of
// the file it was read from.
type PriceSeries struct {
	Identifier  string        `json:"identifier"`
	Fingerprint models.Digest `json:"fingerprint"`
	Bars        []Bar         `json:"bars"`
}

// Metrics is the performance report produced by an engine.
type Metrics map[string]float64

// Metric names produced by the built-in engine
const (
	MetricSharpe           = "sharpe"
	MetricSortino          = "sortino"
	MetricMaxDrawdown      = "max_drawdown"
	MetricAnnualizedReturn = "annualized_return"
	MetricTotalReturn      = "total_return"
	MetricTrades           = "trades"
	MetricFinalValue       = "final_value"
)

// Evaluator runs one strategy against one price series. Implementations
// must be safe for concurrent use and must honour ctx cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, params Parameters, series PriceSeries) (Metrics, error)
}

// SeriesLoader materialises a DataSeries into bars.
type SeriesLoader interface {
	Load(ctx context.Context, series models.DataSeries) (PriceSeries, error)
}

// EngineError is an evaluation failure with a classified kind.
type EngineError struct {
	Kind    string
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Errorf builds an EngineError of the given kind.
func Errorf(kind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies an evaluation error into a failed-result kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	var ee *EngineError
	if errors.As(err, &ee) && ee.Kind != "" {
		return ee.Kind
	}
	return models.ErrorKindInternal
}
