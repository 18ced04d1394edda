package jobs

import (
	"context"
	"fmt"
	"time"
)

// FailedError reports a job that finished in the failed state.
type FailedError struct {
	JobID  string
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// Await polls the queue until the job is terminal and returns its stored
// value. The wait is bounded by ctx.
func Await(ctx context.Context, queue Queue, backend ResultBackend, jobID string, interval time.Duration) ([]byte, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := queue.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.State {
		case JobStateSucceeded:
			result, ok, err := backend.FetchResult(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("job %s succeeded without a stored result", jobID)
			}
			return result, nil
		case JobStateFailed:
			return nil, &FailedError{JobID: jobID, Reason: job.LastError}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}
