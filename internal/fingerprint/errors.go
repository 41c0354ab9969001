package fingerprint

import (
	"fmt"

	"github.com/yourusername/repro-backtest/internal/models"
)

// IOError reports a file that could not be read during a scan.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is matches models.ErrIO.
func (e *IOError) Is(target error) bool { return target == models.ErrIO }
