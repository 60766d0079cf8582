package opt

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Gonum minimizes with gonum's local methods.
// Strategy 0 runs Nelder-Mead with default tolerances, strategy 1 runs Nelder-Mead with
// tighter function convergence and twice the budget, strategy 2 and above run BFGS on
// central finite-difference gradients with four times the budget.
type Gonum struct {
	// ForceGradient selects BFGS regardless of the strategy level
	ForceGradient bool
	Logger        *slog.Logger
}

// NewGonum creates a gonum-backed minimizer
func NewGonum() *Gonum {
	return &Gonum{}
}

// Minimize runs one gonum search. Bounds are honoured through a change of variables.
func (g *Gonum) Minimize(p Problem) (out Outcome) {
	dim := len(p.X0)
	out = Outcome{
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

	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.Message = fmt.Sprintf("minimizer panicked: %v", r)
		}
	}()

	tr := newTransform(p.Bounds)
	nfev := 0
	fn := func(y []float64) float64 {
		nfev++
		v := p.Func(tr.toExternal(nil, y))
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	strategy := p.Options.Strategy
	if g.ForceGradient && strategy < 2 {
		strategy = 2
	}
	maxfev := p.Options.MaxFev
	if maxfev <= 0 {
		maxfev = defaultMaxFev(dim)
	}

	problem := optimize.Problem{Func: fn}
	settings := &optimize.Settings{}
	var method optimize.Method

	switch {
	case strategy <= 0:
		tol := p.Options.Float("tol", 1e-8)
		settings.FuncEvaluations = maxfev
		settings.Converger = &optimize.FunctionConverge{Absolute: tol, Relative: tol, Iterations: 50 * dim}
		method = &optimize.NelderMead{}
	case strategy == 1:
		tol := p.Options.Float("tol", 1e-10)
		settings.FuncEvaluations = 2 * maxfev
		settings.Converger = &optimize.FunctionConverge{Absolute: tol, Relative: tol, Iterations: 100 * dim}
		method = &optimize.NelderMead{}
	default:
		tol := p.Options.Float("tol", 1e-12)
		problem.Grad = func(grad, y []float64) {
			fd.Gradient(grad, fn, y, &fd.Settings{Formula: fd.Central})
		}
		settings.FuncEvaluations = 4 * maxfev
		settings.GradientThreshold = p.Options.Float("gtol", 1e-6)
		settings.Converger = &optimize.FunctionConverge{Absolute: tol, Relative: tol, Iterations: 20}
		method = &optimize.BFGS{}
	}
	if p.Options.Verbose {
		settings.Recorder = optimize.NewPrinter()
	}

	y0 := tr.toInternal(p.X0)
	result, err := optimize.Minimize(problem, y0, settings, method)
	out.NFev = nfev
	if result != nil && len(result.X) == dim {
		out.X = tr.toExternal(nil, result.X)
		out.F = result.F
	}

	switch {
	case err != nil:
		out.Message = err.Error()
	case result == nil:
		out.Message = "minimizer returned no result"
	case result.Status.Err() != nil:
		out.Message = result.Status.Err().Error()
	case math.IsNaN(out.F) || math.IsInf(out.F, 0):
		out.Message = fmt.Sprintf("non-finite objective at optimum: %g", out.F)
	default:
		out.Success = true
		out.Message = result.Status.String()
	}

	g.logger().Debug("Gonum minimization finished",
		"method", fmt.Sprintf("%T", method),
		"strategy", strategy,
		"nfev", nfev,
		"fun", out.F,
		"success", out.Success,
		"message", out.Message,
	)
	return out
}

func (g *Gonum) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func defaultMaxFev(dim int) int {
	return 500 * (dim + 1)
}
