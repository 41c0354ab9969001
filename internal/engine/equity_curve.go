package engine

import (
	"math"
	"sort"
	"time"
)

// annualization is the number of trading periods per year for daily bars.
const annualization = 252

// EquityPoint is the portfolio value at a bar close.
type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// EquityCurve is a time series of portfolio values.
type EquityCurve []EquityPoint

// Returns computes simple period returns. The first point has no return.
func (e EquityCurve) Returns() []float64 {
	if len(e) < 2 {
		return []float64{}
	}
	returns := make([]float64, 0, len(e)-1)
	for i := 1; i < len(e); i++ {
		prev := e[i-1].Value
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (e[i].Value-prev)/prev)
	}
	return returns
}

// MaxDrawdown returns the most negative (value - peak) / peak, so the result
// is zero or negative.
func (e EquityCurve) MaxDrawdown() float64 {
	maxDD := 0.0
	peak := 0.0
	for _, p := range e {
		if p.Value > peak {
			peak = p.Value
		}
		if peak == 0 {
			continue
		}
		dd := (p.Value - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// summarize turns an equity curve into the standard metric set.
func summarize(curve EquityCurve, trades int) Metrics {
	returns := curve.Returns()
	mean := average(returns)
	std := sampleStddev(returns)

	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std * math.Sqrt(annualization)
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	downsideStd := std
	if len(downside) > 0 {
		downsideStd = sampleStddev(downside)
	}
	sortino := 0.0
	if downsideStd > 0 {
		sortino = mean / downsideStd * math.Sqrt(annualization)
	}

	initial, final := 0.0, 0.0
	if len(curve) > 0 {
		initial = curve[0].Value
		final = curve[len(curve)-1].Value
	}
	totalReturn := 0.0
	if initial != 0 {
		totalReturn = final/initial - 1
	}

	return Metrics{
		MetricSharpe:           sharpe,
		MetricSortino:          sortino,
		MetricMaxDrawdown:      curve.MaxDrawdown(),
		MetricAnnualizedReturn: mean * annualization,
		MetricTotalReturn:      totalReturn,
		MetricTrades:           float64(trades),
		MetricFinalValue:       final,
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev uses the n-1 denominator; fewer than two values yield NaN.
func sampleStddev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	mean := average(values)
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// finite reports whether every metric is a real number.
func finite(m Metrics) (string, bool) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := m[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			return name, false
		}
	}
	return "", true
}
