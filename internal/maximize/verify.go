package maximize

import (
	"math"

	"github.com/cwbudde/maximizer/internal/model"
	"github.com/cwbudde/maximizer/internal/opt"
)

// Tolerance is an approximate equality test: |a-b| <= ATol + RTol*|b|
type Tolerance struct {
	RTol float64 `json:"rtol"`
	ATol float64 `json:"atol"`
}

// DefaultTolerance matches numpy.allclose
var DefaultTolerance = Tolerance{RTol: 1e-5, ATol: 1e-8}

// Close reports whether a and b agree. Infinities agree only with themselves
// and NaN agrees with nothing.
func (t Tolerance) Close(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= t.ATol+t.RTol*math.Abs(b)
}

// Verified is a point whose objective value was reproduced
type Verified struct {
	X          []float64
	Value      float64
	Evaluation model.Evaluation
}

// Verifier recomputes the density at a minimizer outcome
type Verifier struct {
	Objective Objective
	Tolerance Tolerance
}

// Verify fails with ErrNonConvergence for an unsuccessful outcome and with
// ErrConsistencyFailure when -o.F does not match the recomputed density.
func (v Verifier) Verify(o opt.Outcome) (Verified, error) {
	if !o.Success {
		return Verified{}, nonConvergence(o)
	}

	tol := v.Tolerance
	if tol == (Tolerance{}) {
		tol = DefaultTolerance
	}

	out := o.Clone()
	value, ev, err := v.Objective.Recompute(out.X)
	if err != nil {
		return Verified{}, &Error{Kind: ConsistencyFailure, Point: out.X, Outcome: &out, Recomputed: math.NaN(), Err: err}
	}
	if !tol.Close(-out.F, value) {
		return Verified{}, &Error{Kind: ConsistencyFailure, Point: out.X, Outcome: &out, Recomputed: value}
	}

	return Verified{X: out.X, Value: value, Evaluation: ev}, nil
}
