package maximize

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/maximizer/internal/opt"
)

// Kind classifies a fatal maximization failure
type Kind int

const (
	// NonConvergence means the retry budget ran out without a successful search
	NonConvergence Kind = iota + 1
	// ConsistencyFailure means the recomputed density disagrees with the minimizer's value
	ConsistencyFailure
	// NoValidStart means no reference draw gave a finite density
	NoValidStart
)

func (k Kind) String() string {
	switch k {
	case NonConvergence:
		return "non-convergence"
	case ConsistencyFailure:
		return "consistency failure"
	case NoValidStart:
		return "no valid start"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrNonConvergence     = &Error{Kind: NonConvergence}
	ErrConsistencyFailure = &Error{Kind: ConsistencyFailure}
	ErrNoValidStart       = &Error{Kind: NoValidStart}
)

// Error aborts the pipeline. It carries enough context to diagnose the failure.
type Error struct {
	Kind Kind
	// Point is the parameter vector involved, if any
	Point []float64
	// Outcome is the last minimizer outcome, if any
	Outcome *opt.Outcome
	// Recomputed is the freshly evaluated density (NaN when not computed)
	Recomputed float64
	// Draws is the number of reference draws tried (NoValidStart only)
	Draws int
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())

	switch e.Kind {
	case NonConvergence:
		if e.Outcome != nil {
			fmt.Fprintf(&b, ": minimizer did not converge (fun=%g, nfev=%d, strategy=%d)",
				e.Outcome.F, e.Outcome.NFev, e.Outcome.Options.Strategy)
			if e.Outcome.Message != "" {
				fmt.Fprintf(&b, ": %s", e.Outcome.Message)
			}
		}
	case ConsistencyFailure:
		if e.Outcome != nil {
			fmt.Fprintf(&b, ": cannot reproduce result, recomputed max %g vs %g at %v",
				e.Recomputed, -e.Outcome.F, e.Point)
		}
	case NoValidStart:
		if e.Draws > 0 {
			fmt.Fprintf(&b, ": no finite density after %d reference draws", e.Draws)
		}
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is matches any *Error with the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

func nonConvergence(o opt.Outcome) *Error {
	out := o.Clone()
	return &Error{Kind: NonConvergence, Point: out.X, Outcome: &out, Recomputed: math.NaN()}
}
