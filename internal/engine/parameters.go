package engine

import (
	"math"
	"strconv"

	"github.com/yourusername/repro-backtest/internal/models"
)

// Parameters are the strategy parameters passed to an engine. Values come
// from YAML or JSON, so numbers may arrive as int, int64, uint64 or float64.
type Parameters map[string]any

// Float returns a numeric parameter or def when absent.
func (p Parameters) Float(name string, def float64) (float64, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return def, nil
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case int32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, invalidParam(name, raw)
		}
		v = parsed
	default:
		return 0, invalidParam(name, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalidParam(name, raw)
	}
	return v, nil
}

// Int returns an integral parameter or def when absent.
func (p Parameters) Int(name string, def int) (int, error) {
	v, err := p.Float(name, float64(def))
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, invalidParam(name, p[name])
	}
	return int(v), nil
}

func invalidParam(name string, raw any) error {
	return Errorf(models.ErrorKindInvalidParameters, "parameter %s: unusable value %v", name, raw)
}

// Clone returns a shallow copy.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// paramReader reads several parameters, keeping the first error.
type paramReader struct {
	p   Parameters
	err error
}

func (r *paramReader) int(name string, def int) int {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Int(name, def)
	r.err = err
	return v
}

func (r *paramReader) float(name string, def float64) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Float(name, def)
	r.err = err
	return v
}
