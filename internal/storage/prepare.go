package storage

import (
	"fmt"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/schedule"
)

// NormalizeNewJob applies creation defaults, validates the definition and
// derives the initial status and next run time. Shared by every backend so
// insert semantics cannot drift. The caller mints ID and JobID.
func NormalizeNewJob(job *domain.Job, now time.Time) error {
	if job.Priority == 0 {
		job.Priority = domain.DefaultPriority
	}
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	if job.LockTimeout == 0 {
		job.LockTimeout = domain.DefaultLockTimeout
	}
	// MaxRetries is not defaulted here: zero is a valid explicit budget
	// (fail on the first error). The API layer resolves absent policies
	// against the engine defaults before the job reaches a store.
	if job.Retry.RetryDelay == 0 {
		job.Retry.RetryDelay = domain.DefaultRetryDelay
	}
	if job.Retry.MaxRetryDelay == 0 {
		job.Retry.MaxRetryDelay = domain.DefaultMaxDelay
	}
	if job.Retry.JitterFactor == 0 {
		job.Retry.JitterFactor = domain.DefaultJitter
	}
	job.IsActive = true
	job.RetryCount = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := job.Validate(); err != nil {
		return err
	}

	if job.DependsOnJobID != nil {
		job.Status = domain.JobStatusWaiting
		job.NextRunAt = nil
		return nil
	}

	runAt, ok := schedule.InitialRun(job, now)
	if !ok {
		return fmt.Errorf("%w: no runnable occurrence within schedule bounds", domain.ErrInvalidJob)
	}
	job.Status = domain.JobStatusScheduled
	job.NextRunAt = &runAt
	return nil
}
