package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopSize is the smallest population mayfly v0.1.0 accepts
const minPopSize = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Minimizer interface.
// The library works on one scalar interval for all dimensions, so the search runs on the
// unit cube and is scaled to the per-dimension bounds on every evaluation.
type MayflyAdapter struct {
	seed   int64
	Logger *slog.Logger
}

// NewMayfly creates a new Mayfly minimizer adapter
func NewMayfly(seed int64) *MayflyAdapter {
	return &MayflyAdapter{seed: seed}
}

// Minimize runs one Mayfly search.
// Extra options: "popsize" (default 20), "span" (half width of the box used for open
// sides of a bound, default 10). Strategy level s multiplies the iteration count by s+1.
func (m *MayflyAdapter) Minimize(p Problem) Outcome {
	dim := len(p.X0)
	out := Outcome{
		X:       append([]float64(nil), p.X0...),
		F:       math.NaN(),
		Options: p.Options,
	}
	if p.Func == nil {
		out.Message = "objective function is nil"
		return out
	}
	if dim == 0 {
		out.Message = "starting point is empty"
		return out
	}
	if err := p.Bounds.Validate(dim); err != nil {
		out.Message = err.Error()
		return out
	}

	box := searchBox(p.X0, p.Bounds, p.Options.Float("span", 10))
	popSize := p.Options.Int("popsize", minPopSize)
	if popSize < minPopSize {
		popSize = minPopSize
	}
	maxfev := p.Options.MaxFev
	if maxfev <= 0 {
		maxfev = defaultMaxFev(dim) * 4
	}
	strategy := p.Options.Strategy
	if strategy < 0 {
		strategy = 0
	}
	maxIters := (maxfev / popSize) * (strategy + 1)
	if maxIters < 1 {
		maxIters = 1
	}

	nfev := 0
	scaled := make([]float64, dim)
	eval := func(u []float64) float64 {
		nfev++
		for i, v := range u {
			scaled[i] = box[i].Lower + clamp(v, 0, 1)*(box[i].Upper-box[i].Lower)
		}
		f := p.Func(append([]float64(nil), scaled...))
		if math.IsNaN(f) {
			return math.Inf(1)
		}
		return f
	}

	// Create config for external Mayfly library
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = maxIters
	config.NPop = popSize
	config.LowerBound = 0
	config.UpperBound = 1
	// Retries get a different but reproducible stream
	config.Rand = rand.New(rand.NewSource(m.seed + int64(p.Options.Version)))

	result, err := mayfly.Optimize(config)
	out.NFev = nfev
	if err != nil {
		out.Message = fmt.Sprintf("mayfly: %v", err)
		return out
	}

	best := make([]float64, dim)
	for i, v := range result.GlobalBest.Position {
		best[i] = box[i].Lower + clamp(v, 0, 1)*(box[i].Upper-box[i].Lower)
	}
	out.X = best
	out.F = result.GlobalBest.Cost
	if math.IsInf(out.F, 0) || math.IsNaN(out.F) {
		out.Message = fmt.Sprintf("non-finite objective at optimum: %g", out.F)
	} else {
		out.Success = true
		out.Message = fmt.Sprintf("completed %d iterations", maxIters)
	}

	m.logger().Debug("Mayfly minimization finished",
		"iterations", maxIters,
		"population", popSize,
		"nfev", nfev,
		"fun", out.F,
		"success", out.Success,
	)
	return out
}

func (m *MayflyAdapter) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// searchBox closes every open side of the bounds with x0 ± span
func searchBox(x0 []float64, bounds Bounds, span float64) Bounds {
	box := make(Bounds, len(x0))
	for i, v := range x0 {
		b := Unbounded()
		if bounds != nil {
			b = bounds[i]
		}
		if !b.HasLower() {
			b.Lower = math.Min(v, b.Upper) - span
		}
		if !b.HasUpper() {
			b.Upper = math.Max(v, b.Lower) + span
		}
		box[i] = b
	}
	return box
}
