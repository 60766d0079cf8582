package maximize

import (
	"math"
	"sync"
	"testing"

	"github.com/cwbudde/maximizer/internal/model"
	"github.com/cwbudde/maximizer/internal/opt"
)

// recordingMinimizer remembers every problem it was called with
type recordingMinimizer struct {
	mu       sync.Mutex
	problems []opt.Problem
	minimize func(p opt.Problem) opt.Outcome
}

func (m *recordingMinimizer) Minimize(p opt.Problem) opt.Outcome {
	m.mu.Lock()
	m.problems = append(m.problems, p)
	m.mu.Unlock()
	return m.minimize(p)
}

func (m *recordingMinimizer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.problems)
}

// alwaysFail moves the point a little on every call and never converges
func alwaysFail() *recordingMinimizer {
	return &recordingMinimizer{minimize: func(p opt.Problem) opt.Outcome {
		x := append([]float64(nil), p.X0...)
		for i := range x {
			x[i] += 0.5
		}
		return opt.Outcome{X: x, F: p.Func(x), Options: p.Options, Message: "stub failure"}
	}}
}

// failTimes fails n times before it reports success at the current point
func failTimes(n int) *recordingMinimizer {
	calls := 0
	return &recordingMinimizer{minimize: func(p opt.Problem) opt.Outcome {
		calls++
		x := append([]float64(nil), p.X0...)
		x[0] += 1
		return opt.Outcome{X: x, F: p.Func(x), Success: calls > n, Options: p.Options}
	}}
}

// boundAware returns the analytic minimum at target clipped to the bounds and
// only reports success when no clipping was necessary.
func boundAware(target []float64) *recordingMinimizer {
	return &recordingMinimizer{minimize: func(p opt.Problem) opt.Outcome {
		x := append([]float64(nil), target...)
		clipped := false
		if p.Bounds != nil {
			for i, b := range p.Bounds {
				v := math.Max(b.Lower, math.Min(b.Upper, x[i]))
				if v != x[i] {
					clipped = true
				}
				x[i] = v
			}
		}
		out := opt.Outcome{X: x, F: p.Func(x), Success: !clipped, Options: p.Options}
		if clipped {
			out.Message = "optimum at boundary"
		}
		return out
	}}
}

// failAtOptimum lands exactly on target but never claims success
func failAtOptimum(target []float64) *recordingMinimizer {
	return &recordingMinimizer{minimize: func(p opt.Problem) opt.Outcome {
		x := append([]float64(nil), target...)
		return opt.Outcome{X: x, F: p.Func(x), Options: p.Options, Message: "call limit reached"}
	}}
}

// newGaussianModel builds a 2D model with uniform priors on [-10, 10] and a unit
// Gaussian likelihood centred on (1, 2).
func newGaussianModel(t *testing.T, seed int64) *model.Model {
	t.Helper()

	u1, err := model.NewUniform(-10, 10)
	if err != nil {
		t.Fatalf("Failed to create prior: %v", err)
	}
	u2, _ := model.NewUniform(-10, 10)
	like, err := model.NewGaussianLikelihood("gauss", []int{0, 1}, []float64{1, 2}, [][]float64{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("Failed to create likelihood: %v", err)
	}
	m, err := model.New([]model.Param{{Name: "a", Prior: u1}, {Name: "b", Prior: u2}}, []model.Likelihood{like}, seed)
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}
	return m
}

// maxLogPost is the log-posterior of newGaussianModel at its maximum
var maxLogPost = 2*-math.Log(20) - math.Log(2*math.Pi)

// perturbedModel adds Shift to the unclipped log-posterior
type perturbedModel struct {
	*model.Model
	mu    sync.Mutex
	Shift float64
}

func (p *perturbedModel) setShift(v float64) {
	p.mu.Lock()
	p.Shift = v
	p.mu.Unlock()
}

func (p *perturbedModel) Evaluate(x []float64, opts model.EvalOptions) (model.Evaluation, error) {
	ev, err := p.Model.Evaluate(x, opts)
	if err != nil {
		return ev, err
	}
	p.mu.Lock()
	ev.LogPost += p.Shift
	p.mu.Unlock()
	return ev, nil
}

// countingEvaluator returns value on the first call and value+Shift afterwards
type countingEvaluator struct {
	calls int
	value float64
	Shift float64
}

func (c *countingEvaluator) Evaluate(x []float64, _ model.EvalOptions) (model.Evaluation, error) {
	c.calls++
	v := c.value
	if c.calls > 1 {
		v += c.Shift
	}
	return model.Evaluation{LogPost: v, LogPriors: []float64{0}, LogLikes: []float64{v}}, nil
}

// eventLog is an Observer that records what it saw
type eventLog struct {
	NopObserver
	mu        sync.Mutex
	attempts  map[int]int
	published int
	onDone    func()
}

func (e *eventLog) OnAttempt(rank int, _ SearchAttempt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempts == nil {
		e.attempts = make(map[int]int)
	}
	e.attempts[rank]++
}

func (e *eventLog) OnSearchDone(int, SearchResult) {
	if e.onDone != nil {
		e.onDone()
	}
}

func (e *eventLog) OnPublished(*Product) {
	e.mu.Lock()
	e.published++
	e.mu.Unlock()
}

// memorySink keeps the last saved maximum
type memorySink struct {
	saved   int
	record  MaximumRecord
	outcome opt.Outcome
}

func (s *memorySink) SaveMaximum(rec MaximumRecord, outcome opt.Outcome) error {
	s.saved++
	s.record = rec
	s.outcome = outcome
	return nil
}
