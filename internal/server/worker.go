package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/maximizer/internal/driver"
	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/metrics"
	"github.com/cwbudde/maximizer/internal/opt"
)

// runJob executes a maximization job in the background. The job ID doubles as the run ID,
// so the run directory is <output.dir>/runs/<job ID>.
func runJob(ctx context.Context, jm *JobManager, m *metrics.Metrics, jobID string) error {
	// Get the job
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Update state to running
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	logger := slog.Default().With("job_id", jobID)
	logger.Info("Starting job",
		"params", len(job.Config.Model.Params),
		"method", job.Config.Sampler.Method,
		"participants", job.Config.Parallel.Participants,
	)
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateRunning, Timestamp: time.Now()})

	cfg := job.Config
	d := driver.Driver{
		Config:   &cfg,
		Metrics:  m,
		Observer: &jobObserver{jm: jm, jobID: jobID},
		Logger:   logger,
	}

	start := time.Now()
	res, err := d.Run(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			markJobCancelled(jm, jobID)
			return ctx.Err()
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	// Update job with results
	endTime := time.Now()
	maximum := res.Product.Maximum
	var attempts int
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Maximum = &maximum
		j.RunDir = res.Dir
		j.EndTime = &endTime
		attempts = j.Attempts
	})
	if err != nil {
		return err
	}

	logger.Info("Job completed",
		"elapsed", time.Since(start),
		"value", maximum.Value(),
		"attempts", attempts,
		"run_dir", res.Dir,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		Rank:      res.Product.Rank,
		Objective: opt.Float(res.Product.Outcome.F),
		Success:   true,
		Attempts:  attempts,
		Timestamp: time.Now(),
	})

	return nil
}

// jobObserver turns minimizer attempts into job progress
type jobObserver struct {
	maximize.NopObserver
	jm    *JobManager
	jobID string
}

func (o *jobObserver) OnAttempt(rank int, a maximize.SearchAttempt) {
	var attempts int
	err := o.jm.UpdateJob(o.jobID, func(j *Job) {
		j.Attempts++
		j.LastObjective = opt.Float(a.Outcome.F)
		attempts = j.Attempts
	})
	if err != nil {
		return
	}

	o.jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     o.jobID,
		State:     StateRunning,
		Rank:      rank,
		Attempt:   a.Index,
		Objective: opt.Float(a.Outcome.F),
		Success:   a.Outcome.Success,
		Attempts:  attempts,
		Timestamp: time.Now(),
	})
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var attempts int
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		attempts = j.Attempts
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateFailed, Attempts: attempts, Timestamp: endTime})
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	var attempts int
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		attempts = j.Attempts
	})
	slog.Info("Job cancelled", "job_id", jobID)
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateCancelled, Attempts: attempts, Timestamp: endTime})
}
