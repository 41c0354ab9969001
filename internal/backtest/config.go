package backtest

import (
	"fmt"
	"time"

	"github.com/yourusername/repro-backtest/internal/config"
)

// Options controls an orchestrator run
type Options struct {
	Workers     int
	CallTimeout time.Duration
	Overwrite   bool
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{Workers: 4, CallTimeout: 5 * time.Minute}
}

// FromConfig converts app config to orchestrator options
func FromConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{}, fmt.Errorf("config is required")
	}
	opts := Options{
		Workers:     cfg.Orchestrator.Workers,
		CallTimeout: cfg.Orchestrator.CallTimeout,
		Overwrite:   cfg.Results.Overwrite,
	}
	return opts, opts.Validate()
}

// Validate validates orchestrator options
func (o Options) Validate() error {
	if o.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if o.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	return nil
}
