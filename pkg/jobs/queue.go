package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// Queue is the broker: it hands jobs to workers and tracks their state.
type Queue interface {
	Enqueue(ctx context.Context, job *ValidationJob) (*ValidationJob, error)
	Claim(ctx context.Context, maxRetries int) (*ValidationJob, error)
	Complete(ctx context.Context, jobID string, durationMs int64) error
	Fail(ctx context.Context, jobID, errMsg string, maxRetries int, durationMs int64) error
	Get(ctx context.Context, jobID string) (*ValidationJob, error)
	Ping(ctx context.Context) error
}

// ResultBackend keeps the value a task returned. FetchResult reports false
// when nothing was stored for the job.
type ResultBackend interface {
	StoreResult(ctx context.Context, jobID string, result []byte) error
	FetchResult(ctx context.Context, jobID string) ([]byte, bool, error)
}

// maintainer is implemented by queues that can recover stuck jobs and prune
// old ones.
type maintainer interface {
	CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration, maxRetries int) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
