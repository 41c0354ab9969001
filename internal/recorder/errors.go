package recorder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/repro-backtest/internal/models"
)

// UntrustedResultError is returned for a result whose fingerprints do not
// resolve to records of the manifest it names.
type UntrustedResultError struct {
	Key        models.ResultKey
	Unresolved []string
}

func (e *UntrustedResultError) Error() string {
	return fmt.Sprintf("untrusted result %s: unresolved %s", e.Key, strings.Join(e.Unresolved, ", "))
}

// Is matches models.ErrUntrustedResult.
func (e *UntrustedResultError) Is(target error) bool { return target == models.ErrUntrustedResult }

// NonDeterminismError is returned when a stored result for the same key
// carries different metrics.
type NonDeterminismError struct {
	Key      models.ResultKey
	Previous map[string]float64
	Incoming map[string]float64
}

func (e *NonDeterminismError) Error() string {
	var changed []string
	for name, prev := range e.Previous {
		if inc, ok := e.Incoming[name]; !ok || inc != prev {
			changed = append(changed, name)
		}
	}
	for name := range e.Incoming {
		if _, ok := e.Previous[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return fmt.Sprintf("non-deterministic result for %s: metrics differ (%s)", e.Key, strings.Join(changed, ", "))
}

// Is matches models.ErrNonDeterminism.
func (e *NonDeterminismError) Is(target error) bool { return target == models.ErrNonDeterminism }
