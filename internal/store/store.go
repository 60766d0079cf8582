// Package store persists maximization runs: the published maximum, a human readable
// table of it, the effective configuration and a trace of every minimizer attempt.
package store

// Store defines the interface for run persistence operations.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveMaximum atomically saves the maximum of the given run.
	// An existing maximum for this runID is overwritten.
	// The implementation should use atomic write strategies (e.g., temp file + rename)
	// to prevent corruption in case of failures.
	SaveMaximum(runID string, m *Maximum) error

	// LoadMaximum retrieves the maximum of the given run.
	// Returns ErrNotFound if no maximum exists for this runID.
	LoadMaximum(runID string) (*Maximum, error)

	// SaveConfig stores the effective configuration of a run as YAML.
	SaveConfig(runID string, cfg any) error

	// ListRuns returns metadata for all runs with a saved maximum.
	// The returned slice may be empty if no runs exist.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run and all associated artifacts:
	//   - maximum.json
	//   - <prefix>.maximum.txt
	//   - config.yaml
	//   - trace.jsonl
	//
	// Returns ErrNotFound if the run doesn't exist.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
