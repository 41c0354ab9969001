package service

import (
	"errors"
	"fmt"

	"github.com/yourusername/repro-backtest/internal/manifest"
	"github.com/yourusername/repro-backtest/internal/models"
)

// Process exit codes
const (
	ExitOK           = 0
	ExitConfig       = 1
	ExitDrift        = 2
	ExitStore        = 3
	ExitUnknownInput = 4
	ExitIntegrity    = 5
	ExitIO           = 6
	ExitPairFailures = 7
)

// ConfigError marks configuration and usage problems.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// PairFailuresError is returned when fail_on_pair_error is set and at least
// one pair failed.
type PairFailuresError struct {
	Failed int
	Total  int
}

func (e *PairFailuresError) Error() string {
	return fmt.Sprintf("%d of %d backtest pair(s) failed", e.Failed, e.Total)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var (
		cfgErr  *ConfigError
		pairErr *PairFailuresError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.Is(err, models.ErrDriftDetected):
		return ExitDrift
	case errors.Is(err, models.ErrUnknownInput):
		return ExitUnknownInput
	case errors.Is(err, models.ErrNonDeterminism),
		errors.Is(err, models.ErrUntrustedResult),
		errors.Is(err, models.ErrContentMismatch):
		return ExitIntegrity
	case errors.Is(err, models.ErrEmptyStore),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrDuplicatePath),
		errors.Is(err, manifest.ErrStoreLocked):
		return ExitStore
	case errors.Is(err, models.ErrIO):
		return ExitIO
	case errors.As(err, &pairErr):
		return ExitPairFailures
	default:
		return ExitConfig
	}
}
