package opt

import (
	"fmt"
	"math"
	"strings"
)

// Bound is the (lower, upper) interval of one parameter.
// math.Inf(-1) / math.Inf(1) mark an open side.
type Bound struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Unbounded returns a bound that is open on both sides
func Unbounded() Bound {
	return Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// HasLower reports whether the lower side is finite
func (b Bound) HasLower() bool { return !math.IsInf(b.Lower, 0) }

// HasUpper reports whether the upper side is finite
func (b Bound) HasUpper() bool { return !math.IsInf(b.Upper, 0) }

// Contains reports whether v lies inside the closed interval
func (b Bound) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// Bounds holds one Bound per dimension. A nil Bounds means the search is unbounded.
type Bounds []Bound

// Clone returns a copy of the bounds (nil stays nil)
func (b Bounds) Clone() Bounds {
	if b == nil {
		return nil
	}
	return append(Bounds{}, b...)
}

// Contains reports whether every coordinate of x lies inside its bound.
// A nil Bounds contains everything.
func (b Bounds) Contains(x []float64) bool {
	if b == nil {
		return true
	}
	if len(b) != len(x) {
		return false
	}
	for i, v := range x {
		if !b[i].Contains(v) {
			return false
		}
	}
	return true
}

// Validate checks that the bounds match dimension dim and that every interval is ordered
func (b Bounds) Validate(dim int) error {
	if b == nil {
		return nil
	}
	if len(b) != dim {
		return fmt.Errorf("bounds have %d entries, expected %d", len(b), dim)
	}
	for i, bd := range b {
		if math.IsNaN(bd.Lower) || math.IsNaN(bd.Upper) {
			return fmt.Errorf("bound %d is NaN", i)
		}
		if bd.Lower >= bd.Upper {
			return fmt.Errorf("bound %d is empty: [%g, %g]", i, bd.Lower, bd.Upper)
		}
	}
	return nil
}

// Options is the call configuration handed to a Minimizer.
// It is a value: every change produces a new Options with a higher Version.
type Options struct {
	// MaxFev caps the number of objective evaluations (0 = minimizer default)
	MaxFev int `json:"maxfev"`
	// Verbose asks the minimizer to log its progress
	Verbose bool `json:"verbose"`
	// Strategy controls how exhaustive the search is (0 = fast, 2 = most careful)
	Strategy int `json:"strategy"`
	// Version counts the derivations from the initial configuration
	Version int `json:"version"`
	// Extra carries method-specific settings (e.g. "popsize", "tol", "span")
	Extra map[string]any `json:"extra,omitempty"`
}

// WithStrategy returns a copy of o using the given strategy level
func (o Options) WithStrategy(level int) Options {
	next := o.clone()
	next.Strategy = level
	next.Version = o.Version + 1
	return next
}

// Merge applies user overrides on top of o. Overrides win on key collision.
// Known keys are maxfev, disp/verbose and strategy; anything else lands in Extra.
func (o Options) Merge(override map[string]any) (Options, error) {
	if len(override) == 0 {
		return o, nil
	}
	next := o.clone()
	for key, raw := range override {
		switch strings.ToLower(key) {
		case "maxfev":
			v, err := toInt(raw)
			if err != nil {
				return o, fmt.Errorf("override %q: %w", key, err)
			}
			next.MaxFev = v
		case "disp", "verbose":
			v, ok := raw.(bool)
			if !ok {
				return o, fmt.Errorf("override %q: expected bool, got %T", key, raw)
			}
			next.Verbose = v
		case "strategy":
			v, err := toInt(raw)
			if err != nil {
				return o, fmt.Errorf("override %q: %w", key, err)
			}
			next.Strategy = v
		default:
			if next.Extra == nil {
				next.Extra = make(map[string]any)
			}
			next.Extra[key] = raw
		}
	}
	next.Version = o.Version + 1
	return next, nil
}

// Float returns Extra[key] as float64, or def when unset
func (o Options) Float(key string, def float64) float64 {
	raw, ok := o.Extra[key]
	if !ok {
		return def
	}
	v, err := toFloat(raw)
	if err != nil {
		return def
	}
	return v
}

// Int returns Extra[key] as int, or def when unset
func (o Options) Int(key string, def int) int {
	raw, ok := o.Extra[key]
	if !ok {
		return def
	}
	v, err := toInt(raw)
	if err != nil {
		return def
	}
	return v
}

func (o Options) clone() Options {
	next := o
	if o.Extra != nil {
		next.Extra = make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			next.Extra[k] = v
		}
	}
	return next
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got %g", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

// Problem is one minimizer invocation: minimize Func starting at X0 inside Bounds
type Problem struct {
	Func    func([]float64) float64
	X0      []float64
	Bounds  Bounds
	Options Options
}

// Outcome is the result of one Minimize call.
// Options records the configuration that produced it, so a retry can derive the next one.
type Outcome struct {
	X       []float64 `json:"x"`
	F       float64   `json:"fun"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	NFev    int       `json:"nfev"`
	Options Options   `json:"options"`
}

// Clone returns a deep copy of the outcome
func (o Outcome) Clone() Outcome {
	next := o
	next.X = append([]float64(nil), o.X...)
	next.Options = o.Options.clone()
	return next
}

// Minimizer defines a bounded minimization algorithm.
// Implementations never panic on a bad objective: failures are reported through
// Outcome.Success = false and a human readable Outcome.Message.
type Minimizer interface {
	// Minimize runs one search
	// p.Func: objective function to minimize
	// p.X0: starting point, len(p.X0) is the dimensionality
	// p.Bounds: per-dimension bounds, nil for an unbounded search
	// p.Options: evaluation budget, verbosity, strategy level
	Minimize(p Problem) Outcome
}

// NewMinimizer returns the minimizer registered under method
func NewMinimizer(method string, seed int64) (Minimizer, error) {
	switch strings.ToLower(method) {
	case "", "gonum", "nelder-mead", "neldermead":
		return NewGonum(), nil
	case "bfgs":
		return &Gonum{ForceGradient: true}, nil
	case "mayfly":
		return NewMayfly(seed), nil
	default:
		return nil, fmt.Errorf("unknown minimization method: %s", method)
	}
}
