package maximize

import (
	"context"
	"log/slog"
	"math"

	"github.com/cwbudde/maximizer/internal/model"
)

// DefaultMaxDraws caps the reference draws of a StartSelector
const DefaultMaxDraws = 10000

// Start is a valid starting point and its (negated) objective value
type Start struct {
	X     []float64 `json:"x"`
	F     float64   `json:"fun"`
	Draws int       `json:"draws"`
}

// StartSelector draws reference points until one has a finite density
type StartSelector struct {
	Sampler   model.Sampler
	Objective Objective
	// MaxDraws caps the number of draws (0 = DefaultMaxDraws)
	MaxDraws int
	Logger   *slog.Logger
}

// Select returns the first reference draw whose unclipped density is finite.
// It fails with ErrNoValidStart once MaxDraws points were rejected.
func (s StartSelector) Select(ctx context.Context) (Start, error) {
	maxDraws := s.MaxDraws
	if maxDraws <= 0 {
		maxDraws = DefaultMaxDraws
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for draw := 1; draw <= maxDraws; draw++ {
		if err := ctx.Err(); err != nil {
			return Start{}, &Error{Kind: NoValidStart, Draws: draw - 1, Recomputed: math.NaN(), Err: err}
		}

		x := s.Sampler.Reference()
		logp, _, err := s.Objective.Recompute(x)
		if err != nil {
			lastErr = err
			continue
		}
		if math.IsInf(logp, 0) || math.IsNaN(logp) {
			continue
		}

		logger.Debug("Found starting point", "draws", draw, "x", x, "logp", logp)
		return Start{X: x, F: s.Objective.Func(x), Draws: draw}, nil
	}

	return Start{}, &Error{Kind: NoValidStart, Draws: maxDraws, Recomputed: math.NaN(), Err: lastErr}
}
