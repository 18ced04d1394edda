package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore provides database operations for validation jobs. It is both the
// broker and the default result backend.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// AutoMigrate creates or updates the validation_jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ValidationJob{})
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	Kind    string
	CrateID string
	State   string
}

var activeStates = []JobState{JobStateQueued, JobStateRunning}

// Enqueue creates a new queued job. If the job carries an idempotency key and
// a non-terminal job with the same key exists, the existing job is returned
// instead of creating a duplicate. Safe for concurrent use.
func (s *JobStore) Enqueue(ctx context.Context, job *ValidationJob) (*ValidationJob, error) {
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}
	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}

	db := s.db.WithContext(ctx)
	if job.IdempotencyKey == nil {
		if err := db.Create(job).Error; err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		return job, nil
	}

	key := *job.IdempotencyKey
	var result *ValidationJob
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing ValidationJob
		err := tx.Where("idempotency_key = ? AND state IN ?", key, activeStates).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Release the key held by finished jobs so the unique index admits
		// the new one.
		if err := tx.Model(&ValidationJob{}).
			Where("idempotency_key = ? AND state IN ?", key, []JobState{JobStateSucceeded, JobStateFailed}).
			Update("idempotency_key", nil).Error; err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}

		if err := tx.Create(job).Error; err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		// Another submission may have won the race for the key.
		var raced ValidationJob
		if lookupErr := db.Where("idempotency_key = ? AND state IN ?", key, activeStates).First(&raced).Error; lookupErr == nil {
			return &raced, nil
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return result, nil
}

// Claim atomically picks the oldest queued job and transitions it to
// running. Uses FOR UPDATE SKIP LOCKED on PostgreSQL and MySQL. Returns nil
// if no jobs are available.
func (s *JobStore) Claim(ctx context.Context, maxRetries int) (*ValidationJob, error) {
	var job ValidationJob
	claimed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
			Order("requested_at ASC").
			Limit(1)
		switch tx.Dialector.Name() {
		case "postgres", "mysql":
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&job).Error; err != nil {
			return err
		}
		if job.ID == "" {
			return nil
		}

		now := time.Now()
		res := tx.Model(&ValidationJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return nil, nil
	}

	// Reload to get the updated values.
	if err := s.db.WithContext(ctx).First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID string, durationMs int64) error {
	result := s.db.WithContext(ctx).Model(&ValidationJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":       JobStateSucceeded,
		"finished_at": time.Now(),
		"duration_ms": durationMs,
		"last_error":  "",
	})
	if result.Error != nil {
		return fmt.Errorf("complete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("complete job %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

// Fail marks a job as failed. If the attempt count is within retries, it
// re-queues the job instead.
func (s *JobStore) Fail(ctx context.Context, jobID, errMsg string, maxRetries int, durationMs int64) error {
	db := s.db.WithContext(ctx)

	var job ValidationJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("fail job %s: %w", jobID, ErrJobNotFound)
		}
		return fmt.Errorf("load job for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"duration_ms": durationMs,
	}
	if job.AttemptCount <= maxRetries {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		updates["state"] = JobStateFailed
		updates["finished_at"] = time.Now()
	}

	if err := db.Model(&ValidationJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (*ValidationJob, error) {
	var job ValidationJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Ping checks the database connection.
func (s *JobStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// StoreResult keeps the task value in the job row.
func (s *JobStore) StoreResult(ctx context.Context, jobID string, result []byte) error {
	value := string(result)
	res := s.db.WithContext(ctx).Model(&ValidationJob{}).Where("id = ?", jobID).Update("result", &value)
	if res.Error != nil {
		return fmt.Errorf("store job result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store job result %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

// FetchResult returns the task value stored in the job row.
func (s *JobStore) FetchResult(ctx context.Context, jobID string) ([]byte, bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Result == nil {
		return nil, false, nil
	}
	return []byte(*job.Result), true, nil
}

// List returns paginated jobs matching the given filter, newest first.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]ValidationJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&ValidationJob{})
		if filter.Kind != "" {
			q = q.Where("kind = ?", filter.Kind)
		}
		if filter.CrateID != "" {
			q = q.Where("crate_id = ?", filter.CrateID)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		return q
	}

	db := s.db.WithContext(ctx)
	var totalSize int64
	if err := buildQuery(db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery(db).Order("requested_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("requested_at < ?", t)
	}

	var records []ValidationJob
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].RequestedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}

// CleanupStuckJobs handles running jobs whose started_at is older than
// claimTimeout: jobs with attempts left go back to queued, the rest fail.
func (s *JobStore) CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration, maxRetries int) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	db := s.db.WithContext(ctx)

	requeued := db.Model(&ValidationJob{}).
		Where("state = ? AND started_at < ? AND attempt_count <= ?", JobStateRunning, cutoff, maxRetries).
		Updates(map[string]any{
			"state":      JobStateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck job recovery)",
		})
	if requeued.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", requeued.Error)
	}

	failed := db.Model(&ValidationJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
		Updates(map[string]any{
			"state":       JobStateFailed,
			"finished_at": time.Now(),
			"last_error":  "Timed out (stuck job recovery)",
		})
	if failed.Error != nil {
		return requeued.RowsAffected, fmt.Errorf("cleanup stuck jobs: %w", failed.Error)
	}
	return requeued.RowsAffected + failed.RowsAffected, nil
}

// DeleteOlderThan removes terminal jobs finished before the given cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?",
		[]JobState{JobStateSucceeded, JobStateFailed}, cutoff).
		Delete(&ValidationJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
