package maximize

import (
	"context"
	"fmt"
	"math"

	"github.com/cwbudde/maximizer/internal/collective"
	"github.com/cwbudde/maximizer/internal/opt"
)

// SelectBest returns the index of the outcome with the smallest objective value.
// Ties go to the lowest index and NaN ranks last. It returns -1 for an empty slice.
func SelectBest(outcomes []opt.Outcome) int {
	best := -1
	for i, o := range outcomes {
		if best < 0 || less(o.F, outcomes[best].F) {
			best = i
		}
	}
	return best
}

func less(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

// Report is what a participant contributes to the aggregation
type Report struct {
	Rank int `json:"rank"`
	// Started is false when the participant found no valid starting point
	Started bool         `json:"started"`
	Search  SearchResult `json:"search"`
}

// Aggregated is the coordinator's view after the gather
type Aggregated struct {
	// Best is the winning report
	Best Report
	// Reports holds every participant's report ordered by rank
	Reports []Report
}

// Aggregator combines the reports of all participants at the coordinator
type Aggregator struct {
	Comm collective.Communicator
	// Root is the coordinator's rank
	Root int
}

// Aggregate gathers local with every other participant's report. The coordinator
// gets the report with the lowest objective value among participants that found a
// starting point; other ranks get nil. A single participant is passed through.
func (a Aggregator) Aggregate(ctx context.Context, local Report) (*Aggregated, error) {
	var reports []Report
	if a.Comm == nil || a.Comm.Size() == 1 {
		reports = []Report{local}
	} else {
		gathered, err := collective.GatherJSON(ctx, a.Comm, local, a.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to gather results: %w", err)
		}
		if gathered == nil {
			return nil, nil
		}
		reports = gathered
	}

	var (
		candidates []opt.Outcome
		index      []int
	)
	for i, r := range reports {
		if r.Started {
			candidates = append(candidates, r.Search.Outcome)
			index = append(index, i)
		}
	}

	agg := &Aggregated{Reports: reports}
	if len(candidates) == 0 {
		agg.Best = reports[0]
		return agg, nil
	}
	agg.Best = reports[index[SelectBest(candidates)]]
	return agg, nil
}
