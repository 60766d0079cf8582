package maximize

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/maximizer/internal/collective"
	"github.com/cwbudde/maximizer/internal/model"
	"github.com/cwbudde/maximizer/internal/opt"
)

// Model is everything the pipeline needs from the density
type Model interface {
	model.Evaluator
	model.Sampler
	Names
}

// Settings configures a pipeline run
type Settings struct {
	Mode Mode
	// MaxAttempts is the number of retries after the first minimizer call
	MaxAttempts int
	// MaxStrategy caps the strategy level reached on retries
	MaxStrategy int
	// RemoveBounds drops the bounds on every retry
	RemoveBounds bool
	// Force marks an exhausted search as successful
	Force bool
	// Confidence closes unbounded prior sides for the search bounds
	Confidence float64
	// Options is the initial minimizer configuration
	Options opt.Options
	// Override is merged into Options last; it wins on key collision
	Override map[string]any
	// MaxStartDraws caps the starting point search (0 = DefaultMaxDraws)
	MaxStartDraws int
	Tolerance     Tolerance
	// Root is the coordinator's rank
	Root int
}

// DefaultConfidence closes unbounded prior sides at 99.9%
const DefaultConfidence = 0.999

// Pipeline runs one participant of a maximization
type Pipeline struct {
	Model     Model
	Minimizer opt.Minimizer
	// Comm connects the participants; nil runs alone
	Comm collective.Communicator
	// Sink receives the coordinator's maximum; optional
	Sink     Sink
	Settings Settings
	Observer Observer
	Logger   *slog.Logger
}

// run is the state threaded through the stages of one Run
type run struct {
	rank     int
	problem  opt.Problem
	start    Start
	startErr error
	search   SearchResult
	agg      *Aggregated
	verified Verified
}

// Run executes the whole pipeline for this participant. The coordinator returns the
// published Product; every other participant returns (nil, nil) once its result has
// been gathered. Failures are returned as *Error.
func (p *Pipeline) Run(ctx context.Context) (*Product, error) {
	comm := p.Comm
	if comm == nil {
		comm = collective.Local{}
	}
	observer := p.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("rank", comm.Rank())

	st := run{rank: comm.Rank()}
	coordinator := st.rank == p.Settings.Root
	if coordinator {
		logger.Info("Initializing", "mode", p.Settings.Mode.String(), "participants", comm.Size())
	}

	objective := Objective{Evaluator: p.Model, Mode: p.Settings.Mode}

	problem, err := p.prepare(objective)
	if err != nil {
		return nil, err
	}
	st.problem = problem

	st = p.selectStart(ctx, st, objective, logger)
	if st.startErr == nil {
		observer.OnStart(st.rank, st.start)
		st = p.search(st, observer, logger)
	}

	agg, err := Aggregator{Comm: comm, Root: p.Settings.Root}.Aggregate(ctx, st.report())
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, nil
	}
	st.agg = agg

	best := st.agg.Best
	if !best.Started {
		if st.startErr != nil {
			return nil, st.startErr
		}
		return nil, &Error{Kind: NoValidStart, Recomputed: math.NaN(),
			Err: fmt.Errorf("no participant found a starting point")}
	}

	if !best.Search.Outcome.Success {
		logger.Error("Maximization failed", "outcome", best.Search.Outcome)
	} else {
		logger.Info(fmt.Sprintf("log%s maximized at %g", p.Settings.Mode, -best.Search.Outcome.F),
			"winner", best.Rank)
	}

	st.verified, err = Verifier{Objective: objective, Tolerance: p.Settings.Tolerance}.Verify(best.Search.Outcome)
	if err != nil {
		logger.Error("Verification failed", "error", err)
		return nil, err
	}

	rec, err := Publisher{Names: p.Model, Mode: p.Settings.Mode, Sink: p.Sink}.Publish(st.verified, best.Search.Outcome)
	if err != nil {
		return nil, err
	}
	logger.Info("Parameter values at maximum", "params", paramTable(rec))

	product := &Product{
		Maximum: rec,
		Outcome: best.Search.Outcome.Clone(),
		Rank:    best.Rank,
		Forced:  best.Search.Forced,
	}
	observer.OnPublished(product)
	return product, nil
}

// prepare builds the initial minimizer call without its starting point
func (p *Pipeline) prepare(objective Objective) (opt.Problem, error) {
	confidence := p.Settings.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}

	options, err := p.Settings.Options.Merge(p.Settings.Override)
	if err != nil {
		return opt.Problem{}, fmt.Errorf("invalid minimizer override: %w", err)
	}

	return opt.Problem{
		Func:    objective.Func,
		Bounds:  p.Model.Bounds(confidence),
		Options: options,
	}, nil
}

func (p *Pipeline) selectStart(ctx context.Context, st run, objective Objective, logger *slog.Logger) run {
	start, err := StartSelector{
		Sampler:   p.Model,
		Objective: objective,
		MaxDraws:  p.Settings.MaxStartDraws,
		Logger:    logger,
	}.Select(ctx)
	if err != nil {
		logger.Error("No valid starting point", "error", err)
		st.startErr = err
		return st
	}

	st.start = start
	st.problem.X0 = start.X
	logger.Debug("Arguments for the minimizer", "x0", start.X, "bounds", st.problem.Bounds,
		"options", st.problem.Options)
	return st
}

func (p *Pipeline) search(st run, observer Observer, logger *slog.Logger) run {
	logger.Info("Starting minimization", "fun", st.start.F)
	r := &RetryingOptimizer{
		Minimizer:           p.Minimizer,
		MaxAttempts:         p.Settings.MaxAttempts,
		MaxStrategy:         p.Settings.MaxStrategy,
		RemoveBoundsOnRetry: p.Settings.RemoveBounds,
		ForceSuccess:        p.Settings.Force,
		Observer:            func(a SearchAttempt) { observer.OnAttempt(st.rank, a) },
		Logger:              logger,
	}
	st.search = r.Run(st.problem)
	observer.OnSearchDone(st.rank, st.search)
	return st
}

func (st run) report() Report {
	if st.startErr != nil {
		return Report{
			Rank: st.rank,
			Search: SearchResult{
				State:   StateInit,
				Outcome: opt.Outcome{F: math.NaN(), Message: st.startErr.Error()},
			},
		}
	}
	return Report{Rank: st.rank, Started: true, Search: st.search}
}

func paramTable(rec MaximumRecord) map[string]float64 {
	table := make(map[string]float64, len(rec.X))
	for i, name := range rec.ParamNames {
		if i < len(rec.X) {
			table[name] = rec.X[i]
		}
	}
	return table
}
