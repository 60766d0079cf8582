package server

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/maximizer/internal/config"
	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/metrics"
)

const testRunYAML = `seed: 5
sampler:
  max_tries: 2
  maxfev: 2000
model:
  params:
    - name: a
      prior: {dist: uniform, min: -5, max: 5}
    - name: b
      prior: {dist: normal, loc: 0, scale: 3}
  likelihoods:
    - name: gauss
      params: [a, b]
      mean: [0.5, -1]
      cov: [[1, 0.3], [0.3, 2]]
`

// testRunConfig parses testRunYAML and points the output at a temp dir
func testRunConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.Parse([]byte(testRunYAML))
	if err != nil {
		t.Fatalf("Failed to parse test config: %v", err)
	}
	cfg.Output.Dir = t.TempDir()
	return *cfg
}

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testRunConfig(t))

	err := runJob(context.Background(), jm, metrics.New(), job.ID)
	if err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
	if updated.Attempts < 1 {
		t.Errorf("Expected at least one attempt, got %d", updated.Attempts)
	}
	if updated.Maximum == nil {
		t.Fatal("Maximum should be set")
	}
	if len(updated.Maximum.X) != 2 {
		t.Errorf("Expected 2 coordinates, got %d", len(updated.Maximum.X))
	}
	if v := updated.Maximum.Value(); math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("Maximum value should be finite, got %v", v)
	}

	// The job ID is the run ID
	if filepath.Base(updated.RunDir) != job.ID {
		t.Errorf("RunDir %s should end in the job ID", updated.RunDir)
	}
	if _, err := os.Stat(filepath.Join(updated.RunDir, "maximum.json")); err != nil {
		t.Errorf("maximum.json should exist: %v", err)
	}
}

func TestRunJob_Failure(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.Model.Params[0].Ref = &config.DistConfig{Dist: "normal", Loc: 50, Scale: 0.1}
	cfg.Sampler.MaxStartDraws = 3

	jm := NewJobManager()
	job := jm.CreateJob(cfg)

	err := runJob(context.Background(), jm, metrics.New(), job.ID)
	if !errors.Is(err, maximize.ErrNoValidStart) {
		t.Fatalf("Expected ErrNoValidStart, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if !strings.Contains(updated.Error, "no valid start") {
		t.Errorf("Error message should name the failure, got %q", updated.Error)
	}
	if updated.Maximum != nil {
		t.Error("A failed job has no maximum")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testRunConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, metrics.New(), job.ID)
	if err == nil {
		t.Error("runJob should return error when cancelled")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), metrics.New(), "missing"); err == nil {
		t.Error("runJob should fail for an unknown job")
	}
}

func TestRunJob_BroadcastsProgress(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testRunConfig(t))

	events := jm.broadcaster.Subscribe(job.ID)
	defer jm.broadcaster.Unsubscribe(job.ID, events)

	if err := runJob(context.Background(), jm, metrics.New(), job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	var received []ProgressEvent
	for len(events) > 0 {
		received = append(received, <-events)
	}
	if len(received) < 3 {
		t.Fatalf("Expected start, attempt and completion events, got %d", len(received))
	}

	if received[0].State != StateRunning || received[0].Attempts != 0 {
		t.Errorf("First event should announce the start, got %+v", received[0])
	}
	if received[1].Attempts != 1 || received[1].Attempt != 0 {
		t.Errorf("Second event should report the first attempt, got %+v", received[1])
	}

	last := received[len(received)-1]
	if last.State != StateCompleted {
		t.Errorf("Last event should be completed, got %s", last.State)
	}
	if last.Attempts != len(received)-2 {
		t.Errorf("Completion reports %d attempts, %d attempt events seen", last.Attempts, len(received)-2)
	}
}
