package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a validation job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// JobKind selects the task that runs a job.
type JobKind string

const (
	KindByReference JobKind = "by_reference"
	KindByMetadata  JobKind = "by_metadata"
)

// ValidationJob is the GORM model for a queued validation. Payload holds a
// JSON copy of the request; the task decodes it, never shares it.
type ValidationJob struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind           JobKind    `gorm:"column:kind;type:varchar(32);index:idx_vjob_kind_state,priority:1;not null"`
	CrateID        string     `gorm:"column:crate_id;type:varchar(255);index:idx_vjob_crate"`
	Payload        string     `gorm:"column:payload;type:text;not null"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null"`
	State          JobState   `gorm:"column:state;type:varchar(16);index:idx_vjob_kind_state,priority:2;index:idx_vjob_state;not null;default:queued"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0"`
	Result         *string    `gorm:"column:result;type:text"`
	LastError      string     `gorm:"column:last_error;type:text"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;type:varchar(512);uniqueIndex:idx_vjob_idemp_key"`
	DurationMs     int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (ValidationJob) TableName() string { return "validation_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *ValidationJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}
