package jobs

import (
	"time"
)

// JobConfig controls job queue and worker behavior.
type JobConfig struct {
	Concurrency   int           // Max concurrent workers. Default 3.
	MaxRetries    int           // Extra attempts after a stuck or failed run. Default 0.
	PollInterval  time.Duration // How often workers poll for new jobs. Default 1s.
	ClaimTimeout  time.Duration // Max time a job can be in "running" before considered stuck. Default 30m.
	RetentionDays int           // How long to keep completed/failed jobs. Default 7.
	TaskTimeout   time.Duration // Upper bound for one task run. Default 10m.
	Deduplicate   bool          // Collapse submissions for a crate that is already queued or running.
	Enabled       bool          // Whether workers run in this process. Default true.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:   3,
		MaxRetries:    0,
		PollInterval:  time.Second,
		ClaimTimeout:  30 * time.Minute,
		RetentionDays: 7,
		TaskTimeout:   10 * time.Minute,
		Enabled:       true,
	}
}

// Normalize replaces out-of-range values with defaults.
func (c *JobConfig) Normalize() *JobConfig {
	def := DefaultJobConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ClaimTimeout < 0 {
		c.ClaimTimeout = 0
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	// A job must not be recovered while its task can still be running.
	if c.ClaimTimeout > 0 && c.ClaimTimeout <= c.TaskTimeout {
		c.ClaimTimeout = c.TaskTimeout + time.Minute
	}
	return c
}
