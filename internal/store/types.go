package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/opt"
)

// Maximum is the persisted result of a run.
//
// Record holds the verified maximum with its full decomposition and Outcome the raw
// minimizer result that produced it. Both are written only after verification, so a
// saved Maximum always reproduces its own objective value.
type Maximum struct {
	// RunID is the unique identifier of the run
	RunID string `json:"runId"`

	// Record is the published maximum
	Record maximize.MaximumRecord `json:"record"`

	// Outcome is the minimizer result at the maximum
	Outcome opt.Outcome `json:"outcome"`

	// Timestamp records when the maximum was saved
	Timestamp time.Time `json:"timestamp"`
}

// RunInfo contains metadata about a run without the full decomposition.
// Used for listing runs.
type RunInfo struct {
	RunID string `json:"runId"`

	// Kind is "posterior" or "likelihood"
	Kind string `json:"kind"`

	// Value is the maximized log-density
	Value float64 `json:"value"`

	// Params is the number of sampled parameters
	Params int `json:"params"`

	// NFev is the evaluation count of the winning search
	NFev int `json:"nfev"`

	Timestamp time.Time `json:"timestamp"`
}

// NewMaximum creates a Maximum stamped with the current time
func NewMaximum(runID string, rec maximize.MaximumRecord, outcome opt.Outcome) *Maximum {
	return &Maximum{
		RunID:     runID,
		Record:    rec,
		Outcome:   outcome,
		Timestamp: time.Now(),
	}
}

// ToInfo converts a full Maximum to RunInfo (metadata only).
func (m *Maximum) ToInfo() RunInfo {
	return RunInfo{
		RunID:     m.RunID,
		Kind:      m.Record.Kind,
		Value:     m.Record.Value(),
		Params:    len(m.Record.X),
		NFev:      m.Outcome.NFev,
		Timestamp: m.Timestamp,
	}
}

// Validate checks that the maximum is complete and self-consistent.
func (m *Maximum) Validate() error {
	r := m.Record
	if m.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Name == "" {
		return &ValidationError{Field: "Record.Name", Reason: "cannot be empty"}
	}
	if r.Kind != maximize.Posterior.String() && r.Kind != maximize.Likelihood.String() {
		return &ValidationError{Field: "Record.Kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if len(r.X) == 0 {
		return &ValidationError{Field: "Record.X", Reason: "cannot be empty"}
	}
	if len(r.ParamNames) != len(r.X) {
		return &ValidationError{
			Field:  "Record.ParamNames",
			Reason: fmt.Sprintf("length mismatch: %d names for %d parameters", len(r.ParamNames), len(r.X)),
		}
	}
	if len(r.LogPriors) != len(r.X) {
		return &ValidationError{Field: "Record.LogPriors", Reason: "must have one entry per parameter"}
	}
	if len(r.LikelihoodNames) != len(r.LogLikes) {
		return &ValidationError{Field: "Record.LogLikes", Reason: "must have one entry per likelihood"}
	}
	if len(r.DerivedNames) != len(r.Derived) {
		return &ValidationError{Field: "Record.Derived", Reason: "must have one entry per derived name"}
	}
	if math.IsNaN(r.LogPost) {
		return &ValidationError{Field: "Record.LogPost", Reason: "cannot be NaN"}
	}
	if m.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a validation error of a stored run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
