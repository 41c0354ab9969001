package backtest

import (
	"fmt"
	"strings"

	"github.com/yourusername/repro-backtest/internal/models"
)

// UnknownInputError lists run inputs that are not covered by the manifest
// or pairs that reference identifiers absent from the request.
type UnknownInputError struct {
	Inputs []string
}

func (e *UnknownInputError) Error() string {
	return fmt.Sprintf("%d input(s) not covered by manifest: %s", len(e.Inputs), strings.Join(e.Inputs, ", "))
}

// Is matches models.ErrUnknownInput.
func (e *UnknownInputError) Is(target error) bool { return target == models.ErrUnknownInput }
