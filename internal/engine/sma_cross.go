package engine

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/yourusername/repro-backtest/internal/models"
)

// SMACrossConfig holds engine-wide defaults; strategy parameters override them.
type SMACrossConfig struct {
	InitialCash  float64
	Commission   float64
	Slippage     float64
	ContractSize float64
}

// DefaultSMACrossConfig mirrors the baseline bot: 100k cash, no costs.
func DefaultSMACrossConfig() SMACrossConfig {
	return SMACrossConfig{
		InitialCash:  100000,
		ContractSize: 1,
	}
}

// SMACross is the built-in reference engine: a short/long simple moving
// average crossover that is always in the market once the first signal
// fires, reversing between long and short on every cross.
//
// Recognised parameters:
//
//	short_period        fast SMA length (10)
//	long_period         slow SMA length (20)
//	cash                starting cash
//	commission          fraction of traded notional
//	slippage            fraction of the fill price, against the trade
//	contract_size       multiplier per unit of position
//	size                fixed position size when target_vol is 0 (1)
//	target_vol          annual volatility target; enables volatility sizing
//	vol_lookback        bars used to estimate volatility (20)
//	max_leverage        exposure cap for volatility sizing (2)
//	min_volume_pct_avg  skip signals when volume < pct * volume SMA (0 = off)
//	volume_period       volume SMA length (20)
//	min_holding_period  bars that must pass after a closed trade (0)
//
// Orders are filled at the next bar's open. Evaluation is a pure function of
// the parameters and the bars.
type SMACross struct {
	cfg SMACrossConfig
}

// NewSMACross creates the engine.
func NewSMACross(cfg SMACrossConfig) *SMACross {
	if cfg.ContractSize == 0 {
		cfg.ContractSize = 1
	}
	return &SMACross{cfg: cfg}
}

type smaParams struct {
	short, long      int
	cash             float64
	commission       float64
	slippage         float64
	contractSize     float64
	size             float64
	targetVol        float64
	volLookback      int
	maxLeverage      float64
	minVolumePct     float64
	volumePeriod     int
	minHoldingPeriod int
}

func (e *SMACross) parse(p Parameters) (smaParams, error) {
	r := &paramReader{p: p}
	sp := smaParams{
		short:            r.int("short_period", 10),
		long:             r.int("long_period", 20),
		cash:             r.float("cash", e.cfg.InitialCash),
		commission:       r.float("commission", e.cfg.Commission),
		slippage:         r.float("slippage", e.cfg.Slippage),
		contractSize:     r.float("contract_size", e.cfg.ContractSize),
		size:             r.float("size", 1),
		targetVol:        r.float("target_vol", 0),
		volLookback:      r.int("vol_lookback", 20),
		maxLeverage:      r.float("max_leverage", 2),
		minVolumePct:     r.float("min_volume_pct_avg", 0),
		volumePeriod:     r.int("volume_period", 20),
		minHoldingPeriod: r.int("min_holding_period", 0),
	}
	if r.err != nil {
		return sp, r.err
	}

	invalid := func(format string, args ...any) error {
		return Errorf(models.ErrorKindInvalidParameters, format, args...)
	}
	switch {
	case sp.short <= 0 || sp.long <= 0:
		return sp, invalid("periods must be positive (short=%d long=%d)", sp.short, sp.long)
	case sp.short >= sp.long:
		return sp, invalid("short_period %d must be below long_period %d", sp.short, sp.long)
	case sp.cash <= 0:
		return sp, invalid("cash must be positive")
	case sp.commission < 0 || sp.slippage < 0:
		return sp, invalid("commission and slippage must not be negative")
	case sp.contractSize <= 0 || sp.size <= 0:
		return sp, invalid("contract_size and size must be positive")
	case sp.targetVol < 0 || sp.maxLeverage <= 0:
		return sp, invalid("target_vol must not be negative and max_leverage must be positive")
	case sp.targetVol > 0 && sp.volLookback < 2:
		return sp, invalid("vol_lookback must be at least 2")
	case sp.minVolumePct < 0 || sp.volumePeriod <= 0 || sp.minHoldingPeriod < 0:
		return sp, invalid("volume filter and holding period must not be negative")
	}
	return sp, nil
}

// Evaluate runs the crossover simulation over the series.
func (e *SMACross) Evaluate(ctx context.Context, params Parameters, series PriceSeries) (Metrics, error) {
	sp, err := e.parse(params)
	if err != nil {
		return nil, err
	}
	bars := series.Bars
	warmup := sp.long
	if sp.minVolumePct > 0 && sp.volumePeriod > warmup {
		warmup = sp.volumePeriod
	}
	if len(bars) <= warmup {
		return nil, Errorf(models.ErrorKindInsufficientData,
			"series %s has %d bars, need more than %d", series.Identifier, len(bars), warmup)
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	fast := rollingMean(closes, sp.short)
	slow := rollingMean(closes, sp.long)
	var volMA []float64
	if sp.minVolumePct > 0 {
		volMA = rollingMean(volumes, sp.volumePeriod)
	}

	contract := decimal.NewFromFloat(sp.contractSize)
	commission := decimal.NewFromFloat(sp.commission)

	cash := decimal.NewFromFloat(sp.cash)
	position := 0.0
	var pending *float64
	trades := 0
	barsSinceTrade := 0
	curve := make(EquityCurve, 0, len(bars))

	for i, bar := range bars {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if pending != nil {
			target := *pending
			pending = nil
			delta := target - position
			price := bar.Open * (1 + math.Copysign(sp.slippage, delta))
			notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(delta)).Mul(contract)
			cash = cash.Sub(notional).Sub(notional.Abs().Mul(commission))
			if position != 0 {
				barsSinceTrade = 0
			}
			position = target
			trades++
		}
		barsSinceTrade++

		equity := cash.Add(decimal.NewFromFloat(position * bar.Close).Mul(contract)).InexactFloat64()
		if math.IsNaN(equity) || equity <= 0 {
			return nil, Errorf(models.ErrorKindNumerical,
				"portfolio value %v at %s", equity, bar.Time.Format("2006-01-02"))
		}
		curve = append(curve, EquityPoint{Time: bar.Time, Value: equity})

		if i < warmup || i == len(bars)-1 {
			continue
		}
		cross := crossover(fast, slow, i)
		if cross == 0 {
			continue
		}
		if sp.minVolumePct > 0 && !liquidityOK(volumes[i], volMA[i], sp.minVolumePct) {
			continue
		}
		if barsSinceTrade < sp.minHoldingPeriod {
			continue
		}

		size := sp.size
		if sp.targetVol > 0 {
			size = volatilityTargetSize(closes[:i+1], equity, sp)
			if size == 0 {
				continue
			}
		}

		switch {
		case cross > 0 && position <= 0:
			target := size
			pending = &target
		case cross < 0 && position >= 0:
			target := -size
			pending = &target
		}
	}

	metrics := summarize(curve, trades)
	if name, ok := finite(metrics); !ok {
		return nil, Errorf(models.ErrorKindNumerical, "metric %s is not finite", name)
	}
	return metrics, nil
}

// rollingMean returns the trailing simple moving average; entries before the
// window fills are NaN.
func rollingMean(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i+1 < period {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// crossover is +1 when fast crosses above slow at i, -1 when it crosses
// below, 0 otherwise.
func crossover(fast, slow []float64, i int) int {
	if i == 0 || math.IsNaN(slow[i-1]) || math.IsNaN(fast[i-1]) {
		return 0
	}
	prev := fast[i-1] - slow[i-1]
	cur := fast[i] - slow[i]
	switch {
	case prev <= 0 && cur > 0:
		return 1
	case prev >= 0 && cur < 0:
		return -1
	}
	return 0
}

func liquidityOK(volume, avg, minPct float64) bool {
	if math.IsNaN(avg) || avg == 0 {
		return false
	}
	return volume/avg >= minPct
}

// volatilityTargetSize sizes the position so that its annualised volatility
// approaches target_vol, capped by max_leverage. Zero means no trade.
func volatilityTargetSize(closes []float64, equity float64, sp smaParams) float64 {
	n := len(closes)
	if n <= sp.volLookback {
		return 0
	}
	price := closes[n-1]
	if price <= 0 {
		return 0
	}
	window := closes[n-sp.volLookback:]
	rets := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		rets = append(rets, (window[i]-window[i-1])/window[i-1])
	}
	dailyVol := sampleStddev(rets)
	if math.IsNaN(dailyVol) || dailyVol <= 0 {
		return 0
	}
	annVol := dailyVol * math.Sqrt(annualization)
	exposure := math.Max(0, math.Min(sp.maxLeverage, sp.targetVol/annVol))
	size := math.Floor(equity * exposure / (price * sp.contractSize))
	if size < 1 {
		return 0
	}
	return size
}
