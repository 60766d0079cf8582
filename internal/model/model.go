// Package model provides the posterior that the maximizer works on: independent priors
// per parameter, a set of likelihood terms, and derived chi-square values.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/maximizer/internal/opt"
)

// EvalOptions selects evaluation behaviour
type EvalOptions struct {
	// MakeFinite clips a non-finite log-posterior to ±math.MaxFloat64 (NaN counts as -Inf)
	MakeFinite bool
	// SkipDerived leaves Evaluation.Derived empty
	SkipDerived bool
}

// Evaluation is the full decomposition of the posterior at one point
type Evaluation struct {
	LogPost   float64   `json:"logpost"`
	LogPriors []float64 `json:"logpriors"`
	LogLikes  []float64 `json:"loglikes"`
	Derived   []float64 `json:"derived,omitempty"`
}

// LogLikeSum returns the sum of all likelihood terms
func (e Evaluation) LogLikeSum() float64 {
	var sum float64
	for _, v := range e.LogLikes {
		sum += v
	}
	return sum
}

// LogPriorSum returns the sum of all prior terms
func (e Evaluation) LogPriorSum() float64 {
	var sum float64
	for _, v := range e.LogPriors {
		sum += v
	}
	return sum
}

// Evaluator computes the posterior decomposition at a point
type Evaluator interface {
	Evaluate(x []float64, opts EvalOptions) (Evaluation, error)
}

// Sampler draws reference points and reports the search region
type Sampler interface {
	// Reference draws a candidate starting point; it may lie outside the prior support
	Reference() []float64
	// Bounds returns the prior support, closing unbounded sides at the given confidence
	Bounds(confidence float64) opt.Bounds
}

// Param is one sampled parameter
type Param struct {
	Name  string
	Prior Prior
	// Ref is the reference distribution for starting points; nil means Prior
	Ref *Prior
}

// Model is a posterior over independent priors and a list of likelihoods.
// Reference draws share one random stream, so a Model must not be used by
// several goroutines at once.
type Model struct {
	params []Param
	likes  []Likelihood
	rng    *rand.Rand
}

// New creates a model seeded for reference draws
func New(params []Param, likes []Likelihood, seed int64) (*Model, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("model needs at least one parameter")
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter name cannot be empty")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Prior.dist == nil {
			return nil, fmt.Errorf("parameter %s has no prior", p.Name)
		}
	}
	names := make(map[string]bool, len(likes))
	for _, l := range likes {
		if names[l.Name()] {
			return nil, fmt.Errorf("duplicate likelihood name: %s", l.Name())
		}
		names[l.Name()] = true
		for _, idx := range l.Indices() {
			if idx < 0 || idx >= len(params) {
				return nil, fmt.Errorf("likelihood %s: parameter index %d out of range for %d parameters", l.Name(), idx, len(params))
			}
		}
	}

	return &Model{
		params: append([]Param(nil), params...),
		likes:  append([]Likelihood(nil), likes...),
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Dim returns the number of sampled parameters
func (m *Model) Dim() int { return len(m.params) }

// ParamNames returns the sampled parameter names in order
func (m *Model) ParamNames() []string {
	names := make([]string, len(m.params))
	for i, p := range m.params {
		names[i] = p.Name
	}
	return names
}

// LikelihoodNames returns the likelihood names in order
func (m *Model) LikelihoodNames() []string {
	names := make([]string, len(m.likes))
	for i, l := range m.likes {
		names[i] = l.Name()
	}
	return names
}

// DerivedNames returns the derived quantity names in order
func (m *Model) DerivedNames() []string {
	names := make([]string, len(m.likes))
	for i, l := range m.likes {
		names[i] = "chi2__" + l.Name()
	}
	return names
}

// Evaluate computes priors, likelihoods and derived values at x.
// A point with the wrong dimension or NaN coordinates is rejected.
func (m *Model) Evaluate(x []float64, opts EvalOptions) (Evaluation, error) {
	if len(x) != len(m.params) {
		return Evaluation{}, fmt.Errorf("point has %d coordinates, model has %d parameters", len(x), len(m.params))
	}
	for i, v := range x {
		if math.IsNaN(v) {
			return Evaluation{}, fmt.Errorf("parameter %s is NaN", m.params[i].Name)
		}
	}

	ev := Evaluation{
		LogPriors: make([]float64, len(m.params)),
		LogLikes:  make([]float64, len(m.likes)),
	}
	for i, p := range m.params {
		ev.LogPriors[i] = p.Prior.LogProb(x[i])
	}
	for i, l := range m.likes {
		ev.LogLikes[i] = l.LogLike(x)
	}
	if !opts.SkipDerived {
		ev.Derived = make([]float64, len(m.likes))
		for i, v := range ev.LogLikes {
			ev.Derived[i] = -2 * v
		}
	}

	ev.LogPost = ev.LogPriorSum() + ev.LogLikeSum()
	if opts.MakeFinite {
		switch {
		case math.IsInf(ev.LogPost, 1):
			ev.LogPost = math.MaxFloat64
		case math.IsNaN(ev.LogPost) || math.IsInf(ev.LogPost, -1):
			ev.LogPost = -math.MaxFloat64
		}
	}
	return ev, nil
}

// Reference draws one point from the reference distributions
func (m *Model) Reference() []float64 {
	x := make([]float64, len(m.params))
	for i, p := range m.params {
		d := p.Prior
		if p.Ref != nil {
			d = *p.Ref
		}
		x[i] = d.Draw(m.rng)
	}
	return x
}

// Bounds returns one bound per parameter at the given confidence
func (m *Model) Bounds(confidence float64) opt.Bounds {
	bounds := make(opt.Bounds, len(m.params))
	for i, p := range m.params {
		bounds[i] = p.Prior.Interval(confidence)
	}
	return bounds
}
