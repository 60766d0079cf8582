package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/maximizer/internal/opt"
	"gonum.org/v1/gonum/stat/distuv"
)

// Prior kinds
const (
	KindUniform = "uniform"
	KindNormal  = "normal"
)

// dist is the part of a gonum univariate distribution the model needs
type dist interface {
	LogProb(x float64) float64
	Quantile(p float64) float64
}

// Prior is a one-dimensional distribution with a known support
type Prior struct {
	kind  string
	dist  dist
	lower float64
	upper float64
}

// NewUniform returns a uniform prior on [min, max]
func NewUniform(min, max float64) (Prior, error) {
	if !(min < max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return Prior{}, fmt.Errorf("uniform prior needs finite min < max, got [%g, %g]", min, max)
	}
	return Prior{
		kind:  KindUniform,
		dist:  distuv.Uniform{Min: min, Max: max},
		lower: min,
		upper: max,
	}, nil
}

// NewNormal returns a normal prior with mean mu and standard deviation sigma
func NewNormal(mu, sigma float64) (Prior, error) {
	if !(sigma > 0) || math.IsInf(sigma, 0) || math.IsNaN(mu) || math.IsInf(mu, 0) {
		return Prior{}, fmt.Errorf("normal prior needs finite mu and sigma > 0, got mu=%g sigma=%g", mu, sigma)
	}
	return Prior{
		kind:  KindNormal,
		dist:  distuv.Normal{Mu: mu, Sigma: sigma},
		lower: math.Inf(-1),
		upper: math.Inf(1),
	}, nil
}

// Kind returns the distribution name
func (p Prior) Kind() string { return p.kind }

// LogProb returns the log density at x, -Inf outside the support
func (p Prior) LogProb(x float64) float64 {
	if x < p.lower || x > p.upper {
		return math.Inf(-1)
	}
	return p.dist.LogProb(x)
}

// Draw samples from the prior by inverse-CDF sampling on rng
func (p Prior) Draw(rng *rand.Rand) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return p.dist.Quantile(u)
}

// Interval returns the support when it is bounded, otherwise the central interval
// holding the given probability mass.
func (p Prior) Interval(confidence float64) opt.Bound {
	b := opt.Bound{Lower: p.lower, Upper: p.upper}
	tail := (1 - confidence) / 2
	if !b.HasLower() {
		b.Lower = p.dist.Quantile(tail)
	}
	if !b.HasUpper() {
		b.Upper = p.dist.Quantile(1 - tail)
	}
	return b
}
