package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/config"
	"github.com/yourusername/repro-backtest/internal/engine"
)

// NewEvaluator builds the evaluation engine selected by cfg.Engine.Kind.
// The HTTP engine implements io.Closer.
func NewEvaluator(cfg *config.Config, log *logrus.Logger) (engine.Evaluator, error) {
	switch cfg.Engine.Kind {
	case engine.KindSMACross:
		smaCfg := engine.DefaultSMACrossConfig()
		if cfg.Engine.InitialCash > 0 {
			smaCfg.InitialCash = cfg.Engine.InitialCash
		}
		smaCfg.Commission = cfg.Engine.Commission
		smaCfg.Slippage = cfg.Engine.Slippage
		return engine.NewSMACross(smaCfg), nil
	case engine.KindHTTP:
		ev, err := engine.NewHTTPEvaluator(engine.HTTPEvaluatorConfig{
			URL:               cfg.Engine.URL,
			APIToken:          cfg.Engine.APIToken,
			RequestsPerSecond: cfg.Engine.RequestsPerSecond,
			RetryMax:          cfg.Engine.RetryMax,
			Timeout:           cfg.Engine.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
	}
}
