// Package maximize finds the maximum of a posterior or likelihood with a bounded
// minimizer. A run selects a valid starting point, retries the minimizer with
// stricter settings until it converges, picks the best result among all
// participants, verifies it by recomputation and publishes it.
package maximize

import (
	"fmt"
	"math"

	"github.com/cwbudde/maximizer/internal/model"
)

// Mode selects the maximized density
type Mode int

const (
	// Posterior maximizes log-prior + log-likelihood
	Posterior Mode = iota
	// Likelihood maximizes the sum of log-likelihoods, ignoring the prior
	Likelihood
)

func (m Mode) String() string {
	if m == Likelihood {
		return "likelihood"
	}
	return "posterior"
}

// ModeFor returns Likelihood when the prior is ignored, Posterior otherwise
func ModeFor(ignorePrior bool) Mode {
	if ignorePrior {
		return Likelihood
	}
	return Posterior
}

// Objective turns a density evaluator into the function the minimizer sees
type Objective struct {
	Evaluator model.Evaluator
	Mode      Mode
}

// LogDensity evaluates the density the way the search sees it. In Posterior mode
// the evaluator clips non-finite values; a point the evaluator rejects counts as -Inf.
func (o Objective) LogDensity(x []float64) float64 {
	v, _, err := o.evaluate(x, o.Mode == Posterior)
	if err != nil {
		return math.Inf(-1)
	}
	return v
}

// Func is the negated LogDensity, to be minimized
func (o Objective) Func(x []float64) float64 {
	return -o.LogDensity(x)
}

// Recompute evaluates the density at x without any clipping and returns it with
// the full decomposition.
func (o Objective) Recompute(x []float64) (float64, model.Evaluation, error) {
	return o.evaluate(x, false)
}

func (o Objective) evaluate(x []float64, makeFinite bool) (float64, model.Evaluation, error) {
	ev, err := o.Evaluator.Evaluate(x, model.EvalOptions{MakeFinite: makeFinite})
	if err != nil {
		return math.NaN(), model.Evaluation{}, fmt.Errorf("evaluate %v: %w", x, err)
	}
	if o.Mode == Likelihood {
		return ev.LogLikeSum(), ev, nil
	}
	return ev.LogPost, ev, nil
}
