package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner executes one job and returns the value to keep in the result
// backend. A nil value stores nothing.
type Runner interface {
	Run(ctx context.Context, job *ValidationJob) ([]byte, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job *ValidationJob) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, job *ValidationJob) ([]byte, error) { return f(ctx, job) }

// RunnerLookup resolves the runner for a job kind.
type RunnerLookup func(kind JobKind) (Runner, bool)

// WorkerPool processes queued validation jobs using a pool of goroutines.
type WorkerPool struct {
	queue   Queue
	results ResultBackend
	lookup  RunnerLookup
	cfg     *JobConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(queue Queue, results ResultBackend, lookup RunnerLookup, cfg *JobConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	return &WorkerPool{
		queue:   queue,
		results: results,
		lookup:  lookup,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines, each
// polling for jobs. It blocks until the context is cancelled, then waits for
// in-flight jobs to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.queue == nil || !wp.cfg.Enabled {
		wp.logger.Info("job worker pool disabled")
		return
	}

	wp.logger.Info("job worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String(),
		"taskTimeout", wp.cfg.TaskTimeout.String())

	if m, ok := wp.queue.(maintainer); ok {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			wp.cleanupLoop(ctx, m)
		}()
	}

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("job worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("job worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine. It drains the
// queue before waiting for the next tick.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Debug("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug("worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			for ctx.Err() == nil && wp.processOne(ctx, workerID) {
			}
		}
	}
}

// processOne tries to claim and process a single job. It reports whether a
// job was claimed.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) bool {
	job, err := wp.queue.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		if ctx.Err() == nil {
			wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}

	// Shutdown waits for the task instead of aborting it.
	bookCtx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithTimeout(bookCtx, wp.cfg.TaskTimeout)
	defer cancel()

	wp.logger.Info("processing job",
		"workerID", workerID,
		"jobID", job.ID,
		"kind", job.Kind,
		"crateID", job.CrateID,
		"attempt", job.AttemptCount)

	runner, ok := wp.lookup(job.Kind)
	if !ok {
		wp.fail(bookCtx, job, fmt.Sprintf("no runner for job kind %q", job.Kind), 0)
		return true
	}

	jobsInFlight.Inc()
	start := time.Now()
	value, err := wp.run(runCtx, runner, job)
	elapsed := time.Since(start)
	jobsInFlight.Dec()
	jobDuration.WithLabelValues(string(job.Kind)).Observe(elapsed.Seconds())

	// A runner that answers after the deadline keeps its answer; by-metadata
	// runners report their own failures as the value.
	if err == nil && value == nil && runCtx.Err() != nil {
		err = fmt.Errorf("task exceeded %s: %w", wp.cfg.TaskTimeout, runCtx.Err())
	}
	if err != nil {
		wp.logger.Error("job failed",
			"workerID", workerID,
			"jobID", job.ID,
			"error", err)
		wp.fail(bookCtx, job, err.Error(), elapsed)
		return true
	}

	if value != nil && wp.results != nil {
		if err := wp.results.StoreResult(bookCtx, job.ID, value); err != nil {
			wp.logger.Error("failed to store job result", "jobID", job.ID, "error", err)
			wp.fail(bookCtx, job, err.Error(), elapsed)
			return true
		}
	}

	wp.logger.Info("job completed",
		"workerID", workerID,
		"jobID", job.ID,
		"duration", elapsed.String())

	jobsFinished.WithLabelValues(string(job.Kind), string(JobStateSucceeded)).Inc()
	if err := wp.queue.Complete(bookCtx, job.ID, elapsed.Milliseconds()); err != nil {
		wp.logger.Error("failed to mark job as complete", "jobID", job.ID, "error", err)
	}
	return true
}

// run invokes the runner, converting a panic into an error.
func (wp *WorkerPool) run(ctx context.Context, runner Runner, job *ValidationJob) (value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return runner.Run(ctx, job)
}

func (wp *WorkerPool) fail(ctx context.Context, job *ValidationJob, msg string, elapsed time.Duration) {
	jobsFinished.WithLabelValues(string(job.Kind), string(JobStateFailed)).Inc()
	if err := wp.queue.Fail(ctx, job.ID, msg, wp.cfg.MaxRetries, elapsed.Milliseconds()); err != nil {
		wp.logger.Error("failed to mark job as failed", "jobID", job.ID, "error", err)
	}
}

// cleanupLoop periodically recovers stuck jobs and deletes old finished jobs.
func (wp *WorkerPool) cleanupLoop(ctx context.Context, m maintainer) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wp.cfg.ClaimTimeout > 0 {
				recovered, err := m.CleanupStuckJobs(ctx, wp.cfg.ClaimTimeout, wp.cfg.MaxRetries)
				if err != nil {
					wp.logger.Error("failed to cleanup stuck jobs", "error", err)
				} else if recovered > 0 {
					wp.logger.Info("recovered stuck jobs", "count", recovered)
				}
			}

			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := m.DeleteOlderThan(ctx, cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old jobs", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old jobs", "count", deleted)
				}
			}
		}
	}
}
