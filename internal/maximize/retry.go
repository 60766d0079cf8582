package maximize

import (
	"log/slog"

	"github.com/cwbudde/maximizer/internal/opt"
)

// State of a retrying search
type State int

const (
	StateInit State = iota
	StateRunning
	StateConverged
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// SearchAttempt is one minimizer call of a retrying search
type SearchAttempt struct {
	Index   int         `json:"index"`
	Outcome opt.Outcome `json:"outcome"`
	// Bounds used by this attempt (nil after bounds removal)
	Bounds        opt.Bounds `json:"bounds,omitempty"`
	BoundsRemoved bool       `json:"boundsRemoved"`
}

// SearchResult is the terminal state of a retrying search
type SearchResult struct {
	State    State       `json:"state"`
	Outcome  opt.Outcome `json:"outcome"`
	Attempts int         `json:"attempts"`
	// Forced is set when ForceSuccess turned an exhausted search into a success
	Forced bool `json:"forced"`
}

// RetryingOptimizer calls a Minimizer until it reports success or the attempt
// budget runs out. Every retry warm-starts from the previous outcome, raises the
// strategy level and optionally drops the bounds.
type RetryingOptimizer struct {
	Minimizer opt.Minimizer
	// MaxAttempts is the number of retries after the first call, so a search makes
	// at most MaxAttempts+1 minimizer calls.
	MaxAttempts int
	// MaxStrategy caps the strategy level reached by escalation
	MaxStrategy int
	// RemoveBoundsOnRetry searches unbounded on every retry
	RemoveBoundsOnRetry bool
	// ForceSuccess marks an exhausted search as successful; the numbers are untouched
	ForceSuccess bool
	// Observer is called after every minimizer call
	Observer func(SearchAttempt)
	Logger   *slog.Logger
}

// Run searches from p. It never fails: an unsuccessful search ends in StateExhausted
// with Outcome.Success false.
func (r *RetryingOptimizer) Run(p opt.Problem) SearchResult {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cur := p
	attempt := SearchAttempt{Index: 0, Bounds: cur.Bounds.Clone()}
	attempt.Outcome = r.Minimizer.Minimize(cur)
	r.observe(logger, attempt)

	for !attempt.Outcome.Success && attempt.Index < r.MaxAttempts {
		next := opt.Problem{
			Func:    cur.Func,
			X0:      append([]float64(nil), attempt.Outcome.X...),
			Bounds:  cur.Bounds.Clone(),
			Options: cur.Options.WithStrategy(r.escalate(cur.Options.Strategy)),
		}
		if len(next.X0) != len(p.X0) {
			next.X0 = append([]float64(nil), cur.X0...)
		}
		if r.RemoveBoundsOnRetry {
			next.Bounds = nil
		}
		cur = next

		attempt = SearchAttempt{
			Index:         attempt.Index + 1,
			Bounds:        cur.Bounds,
			BoundsRemoved: cur.Bounds == nil && p.Bounds != nil,
			Outcome:       r.Minimizer.Minimize(cur),
		}
		r.observe(logger, attempt)
	}

	result := SearchResult{
		State:    StateConverged,
		Outcome:  attempt.Outcome,
		Attempts: attempt.Index + 1,
	}
	if attempt.Outcome.Success {
		logger.Info("Finished successfully", "attempts", result.Attempts, "fun", attempt.Outcome.F)
		return result
	}

	result.State = StateExhausted
	logger.Error("Finished unsuccessfully", "attempts", result.Attempts, "fun", attempt.Outcome.F,
		"message", attempt.Outcome.Message)
	if r.ForceSuccess {
		result.Outcome.Success = true
		result.Forced = true
		logger.Warn("Forcing success of an unconverged search")
	}
	return result
}

// escalate returns the strategy for the next attempt. It never goes below prev.
func (r *RetryingOptimizer) escalate(prev int) int {
	next := prev + 1
	if next > r.MaxStrategy {
		next = max(prev, r.MaxStrategy)
	}
	return next
}

func (r *RetryingOptimizer) observe(logger *slog.Logger, a SearchAttempt) {
	logger.Debug("Minimizer attempt",
		"attempt", a.Index,
		"strategy", a.Outcome.Options.Strategy,
		"objective", a.Outcome.F,
		"success", a.Outcome.Success,
		"nfev", a.Outcome.NFev,
		"bounded", a.Bounds != nil)
	if r.Observer != nil {
		r.Observer(a)
	}
}
