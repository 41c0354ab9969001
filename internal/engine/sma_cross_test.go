package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/models"
)

func seriesFromCloses(closes ...float64) PriceSeries {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{
			Time:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		}
	}
	return PriceSeries{Identifier: "test", Bars: bars}
}

// wave produces a deterministic series that trends down, up and down again.
func wave(n int) PriceSeries {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/8)
	}
	return seriesFromCloses(closes...)
}

func TestSMACrossSingleLongEntry(t *testing.T) {
	eng := NewSMACross(SMACrossConfig{InitialCash: 1000})
	series := seriesFromCloses(10, 9, 8, 7, 8, 9, 10, 11)

	metrics, err := eng.Evaluate(context.Background(), Parameters{"short_period": 2, "long_period": 3}, series)
	require.NoError(t, err)

	// The cross on bar 5 fills at bar 6's open (10) and the last close is 11.
	assert.Equal(t, 1.0, metrics[MetricTrades])
	assert.InDelta(t, 1001.0, metrics[MetricFinalValue], 1e-9)
	assert.InDelta(t, 0.001, metrics[MetricTotalReturn], 1e-9)
	assert.Equal(t, 0.0, metrics[MetricMaxDrawdown])
}

func TestSMACrossIsDeterministic(t *testing.T) {
	eng := NewSMACross(DefaultSMACrossConfig())
	params := Parameters{"short_period": 5, "long_period": 15, "commission": 0.0005, "slippage": 0.0001}

	first, err := eng.Evaluate(context.Background(), params, wave(200))
	require.NoError(t, err)
	second, err := eng.Evaluate(context.Background(), params, wave(200))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Greater(t, first[MetricTrades], 1.0)
	for _, name := range []string{MetricSharpe, MetricSortino, MetricMaxDrawdown, MetricAnnualizedReturn, MetricTotalReturn, MetricFinalValue} {
		assert.Contains(t, first, name)
	}
	assert.LessOrEqual(t, first[MetricMaxDrawdown], 0.0)
}

func TestSMACrossEnhancedFilters(t *testing.T) {
	eng := NewSMACross(DefaultSMACrossConfig())
	params := Parameters{
		"short_period":       5,
		"long_period":        15,
		"min_volume_pct_avg": 0.3,
		"min_holding_period": 1,
		"target_vol":         0.10,
		"contract_size":      5.0,
	}

	metrics, err := eng.Evaluate(context.Background(), params, wave(300))
	require.NoError(t, err)
	assert.Greater(t, metrics[MetricTrades], 0.0)

	// A volume floor above every bar suppresses all signals.
	params["min_volume_pct_avg"] = 5.0
	metrics, err = eng.Evaluate(context.Background(), params, wave(300))
	require.NoError(t, err)
	assert.Equal(t, 0.0, metrics[MetricTrades])
	assert.Equal(t, 0.0, metrics[MetricSharpe])
}

func TestSMACrossErrors(t *testing.T) {
	eng := NewSMACross(DefaultSMACrossConfig())

	tests := []struct {
		name     string
		params   Parameters
		series   PriceSeries
		wantKind string
	}{
		{"short not below long", Parameters{"short_period": 20, "long_period": 10}, wave(100), models.ErrorKindInvalidParameters},
		{"fractional period", Parameters{"short_period": 2.5}, wave(100), models.ErrorKindInvalidParameters},
		{"non numeric", Parameters{"cash": "lots"}, wave(100), models.ErrorKindInvalidParameters},
		{"negative cash", Parameters{"cash": -1}, wave(100), models.ErrorKindInvalidParameters},
		{"too few bars", Parameters{"short_period": 2, "long_period": 3}, wave(3), models.ErrorKindInsufficientData},
		{"default periods on short series", nil, wave(20), models.ErrorKindInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Evaluate(context.Background(), tt.params, tt.series)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestSMACrossHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSMACross(DefaultSMACrossConfig()).Evaluate(ctx, nil, wave(100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEquityCurve(t *testing.T) {
	curve := EquityCurve{{Value: 100}, {Value: 120}, {Value: 90}, {Value: 110}}

	returns := curve.Returns()
	require.Len(t, returns, 3)
	assert.InDelta(t, 0.2, returns[0], 1e-12)
	assert.InDelta(t, -0.25, returns[1], 1e-12)
	assert.InDelta(t, -0.25, curve.MaxDrawdown(), 1e-12)

	flat := summarize(EquityCurve{{Value: 100}, {Value: 100}, {Value: 100}}, 0)
	assert.Equal(t, 0.0, flat[MetricSharpe])
	assert.Equal(t, 0.0, flat[MetricSortino])
	assert.Equal(t, 0.0, flat[MetricAnnualizedReturn])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, models.ErrorKindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, models.ErrorKindNumerical, KindOf(Errorf(models.ErrorKindNumerical, "nan")))
	assert.Equal(t, models.ErrorKindInternal, KindOf(errors.New("boom")))

	wrapped := &EngineError{Kind: models.ErrorKindData, Message: "x", Err: context.DeadlineExceeded}
	assert.Equal(t, models.ErrorKindTimeout, KindOf(wrapped))
}

func TestParameters(t *testing.T) {
	p := Parameters{"i": 3, "i64": int64(4), "f": 2.0, "s": "1.5", "bad": []int{1}}

	v, err := p.Int("i", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = p.Int("i64", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	v, err = p.Int("f", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	f, err := p.Float("s", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	f, err = p.Float("absent", 7)
	require.NoError(t, err)
	assert.Equal(t, 7.0, f)

	_, err = p.Float("bad", 0)
	assert.Equal(t, models.ErrorKindInvalidParameters, KindOf(err))
	_, err = p.Int("s", 0)
	assert.Error(t, err)
}
