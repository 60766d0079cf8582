package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Likelihood is one named data term of the model
type Likelihood interface {
	Name() string
	// Indices returns the positions of the parameters the likelihood reads
	Indices() []int
	LogLike(x []float64) float64
}

// GaussianLikelihood is a correlated Gaussian over a subset of the parameters
type GaussianLikelihood struct {
	name    string
	indices []int
	normal  *distmv.Normal
	buf     []float64
}

// NewGaussianLikelihood builds a Gaussian with the given mean and covariance over the
// parameters at indices. cov must be symmetric positive definite.
func NewGaussianLikelihood(name string, indices []int, mean []float64, cov [][]float64) (*GaussianLikelihood, error) {
	n := len(indices)
	if n == 0 {
		return nil, fmt.Errorf("likelihood %s: no parameters", name)
	}
	if len(mean) != n {
		return nil, fmt.Errorf("likelihood %s: mean has %d entries, expected %d", name, len(mean), n)
	}
	if len(cov) != n {
		return nil, fmt.Errorf("likelihood %s: covariance has %d rows, expected %d", name, len(cov), n)
	}

	for i, row := range cov {
		if len(row) != n {
			return nil, fmt.Errorf("likelihood %s: covariance row %d has %d entries, expected %d", name, i, len(row), n)
		}
	}

	flat := make([]float64, 0, n*n)
	for i, row := range cov {
		for j, v := range row {
			if v != cov[j][i] {
				return nil, fmt.Errorf("likelihood %s: covariance is not symmetric at (%d,%d)", name, i, j)
			}
		}
		flat = append(flat, row...)
	}

	normal, ok := distmv.NewNormal(append([]float64(nil), mean...), mat.NewSymDense(n, flat), nil)
	if !ok {
		return nil, fmt.Errorf("likelihood %s: covariance is not positive definite", name)
	}

	return &GaussianLikelihood{
		name:    name,
		indices: append([]int(nil), indices...),
		normal:  normal,
		buf:     make([]float64, n),
	}, nil
}

// Name returns the likelihood name
func (g *GaussianLikelihood) Name() string { return g.name }

// Indices returns a copy of the parameter positions
func (g *GaussianLikelihood) Indices() []int { return append([]int(nil), g.indices...) }

// LogLike evaluates the Gaussian log density at the selected parameters of x
func (g *GaussianLikelihood) LogLike(x []float64) float64 {
	for i, idx := range g.indices {
		g.buf[i] = x[idx]
	}
	return g.normal.LogProb(g.buf)
}
