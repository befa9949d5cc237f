// Package storage defines the persistence contract the scheduling engine
// relies on. Every mutation is a single conditional operation; the store is
// the only coordination point between workers, and a failed condition is
// reported, never silently retried.
package storage

import (
	"context"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
)

// CompleteParams finishes a successful attempt. NextRunAt nil means the job
// reached COMPLETED (one-time, or a recurring job past its end time).
type CompleteParams struct {
	JobID    string
	WorkerID string

	FinishedAt time.Time
	Duration   time.Duration
	Result     map[string]any

	// NextRunAt, when set, returns the job to SCHEDULED for its next
	// occurrence instead of completing it.
	NextRunAt *time.Time

	// ExpireAt sets the TTL for completed jobs.
	ExpireAt *time.Time
}

// RetryParams reschedules a failed attempt with retries remaining. The store
// increments retry_count atomically as part of the same conditional write.
type RetryParams struct {
	JobID    string
	WorkerID string

	FinishedAt   time.Time
	Duration     time.Duration
	ErrorMessage string
	ErrorStack   string

	NextRunAt time.Time
}

// FailParams terminally fails a job (retries exhausted or non-retryable).
type FailParams struct {
	JobID    string
	WorkerID string

	FinishedAt   time.Time
	Duration     time.Duration
	ErrorMessage string
	ErrorStack   string
}

// FinishLogParams closes an open execution log entry.
type FinishLogParams struct {
	LogID      string
	FinishedAt time.Time

	Status       domain.ExecutionStatus
	Result       map[string]any
	ErrorMessage string
	ErrorStack   string
	ErrorCode    domain.ErrorCode
	Metadata     map[string]any
}

// JobUpdate carries API-level edits; nil fields are left unchanged. Updates
// are gated on the job being non-terminal.
type JobUpdate struct {
	Name        *string
	Description *string
	Tags        *[]string
	Payload     *map[string]any
	Priority    *int
	Timezone    *string
	MaxRetries  *int
	RetryDelay  *time.Duration
}

// PurgeResult reports how many expired records a TTL sweep removed.
type PurgeResult struct {
	Jobs  int64
	Logs  int64
	Locks int64
}

// Store is the durable collection of jobs, execution logs, locks and
// counters. All methods are safe for concurrent use by multiple workers;
// claiming and every state transition are atomic conditional updates.
type Store interface {
	// === Jobs ===

	// CreateJob validates the job, mints its sequential JobID from the
	// job_id counter and persists it. A job with a dependency starts
	// WAITING; otherwise it starts SCHEDULED with NextRunAt derived from
	// its schedule. Populates ID, JobID, Status, NextRunAt, CreatedAt and
	// UpdatedAt on the passed job.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by surrogate id.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// GetJobByJobID retrieves a job by its human-readable sequential id.
	GetJobByJobID(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobs returns a filtered, sorted page of jobs.
	ListJobs(ctx context.Context, params domain.ListJobsParams) (*domain.JobPage, error)

	// UpdateJobFields applies API edits, gated on the job being
	// non-terminal. Returns the updated job.
	UpdateJobFields(ctx context.Context, id string, upd JobUpdate) (*domain.Job, error)

	// SetJobActive soft-deletes (false) or restores (true) a job.
	// Inactive jobs are never picked.
	SetJobActive(ctx context.Context, id string, active bool) error

	// === Claim protocol ===

	// ClaimNextDueJob atomically claims the highest-priority due job:
	// status SCHEDULED, next_run_at <= now, is_active, and lock absent or
	// stale per the job's own lock timeout. The claimed job moves to
	// QUEUED with locked_by/locked_at set. Returns nil when nothing is
	// due. At most one worker can claim a given job.
	ClaimNextDueJob(ctx context.Context, workerID string, now time.Time) (*domain.Job, error)

	// ReleaseJob returns a held job to SCHEDULED, gated on
	// locked_by = workerID. Used for voluntary drain.
	ReleaseJob(ctx context.Context, jobID, workerID string) error

	// ReleaseAllJobs releases every QUEUED or RUNNING job this worker
	// holds. Returns the number released.
	ReleaseAllJobs(ctx context.Context, workerID string) (int64, error)

	// RecoverStaleJobs resets QUEUED/RUNNING jobs whose lock is older than
	// the threshold (or the job's own lock timeout when threshold is zero)
	// back to SCHEDULED, clearing the lock and incrementing retry_count.
	// Idempotent and safe to run concurrently on every worker.
	RecoverStaleJobs(ctx context.Context, threshold time.Duration, now time.Time) (int64, error)

	// CountDueJobs counts currently pickable jobs.
	CountDueJobs(ctx context.Context, now time.Time) (int64, error)

	// === Execution transitions (all gated on locked_by = workerID) ===

	// MarkJobRunning moves a claimed job from QUEUED to RUNNING and
	// refreshes locked_at, re-asserting ownership.
	MarkJobRunning(ctx context.Context, jobID, workerID string, now time.Time) (*domain.Job, error)

	// CompleteJob records a successful attempt.
	CompleteJob(ctx context.Context, params CompleteParams) error

	// RetryJob records a failed attempt with retries remaining.
	RetryJob(ctx context.Context, params RetryParams) error

	// FailJob records a permanent failure.
	FailJob(ctx context.Context, params FailParams) error

	// === Dependencies ===

	// ScheduleDependents fans out: WAITING children of parentID move to
	// SCHEDULED with next_run_at = runAt. Returns the number scheduled.
	ScheduleDependents(ctx context.Context, parentID string, runAt time.Time) (int64, error)

	// BlockDependents moves WAITING children of parentID to BLOCKED,
	// recording the blocking parent in their metadata.
	BlockDependents(ctx context.Context, parentID string) (int64, error)

	// === API-initiated transitions ===

	// CancelJob: PENDING|SCHEDULED|QUEUED -> CANCELLED, clearing the lock.
	// Returns ErrJobNotCancellable otherwise; a RUNNING job finishes its
	// current attempt but never runs again.
	CancelJob(ctx context.Context, id string, now time.Time) (*domain.Job, error)

	// PauseJob: PENDING|SCHEDULED -> PAUSED with paused_at.
	PauseJob(ctx context.Context, id string, now time.Time) (*domain.Job, error)

	// ResumeJob: PAUSED -> SCHEDULED.
	ResumeJob(ctx context.Context, id string, now time.Time) (*domain.Job, error)

	// === Execution logs (append-only) ===

	// InsertExecutionLog opens a log entry for one attempt. Populates ID,
	// ExpiresAt and CreatedAt.
	InsertExecutionLog(ctx context.Context, entry *domain.ExecutionLog) error

	// FinishExecutionLog closes an open entry, setting end, duration
	// (finished - started), outcome and metadata.
	FinishExecutionLog(ctx context.Context, params FinishLogParams) error

	// ListExecutionLogs returns a job's log entries, newest first.
	ListExecutionLogs(ctx context.Context, jobID string, limit int) ([]*domain.ExecutionLog, error)

	// === Aggregations ===

	JobStatsByStatus(ctx context.Context) ([]domain.StatusCount, error)
	JobStatsByTaskType(ctx context.Context) ([]domain.TaskTypeCount, error)
	ExecutionHourlyHistogram(ctx context.Context, since time.Time) ([]domain.HourBucket, error)

	// === Named locks ===

	// AcquireLock performs an atomic upsert that succeeds only if the lock
	// is absent, expired, or already held by this holder (renewal).
	AcquireLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock only when held by holder.
	ReleaseLock(ctx context.Context, lockID, holder string) (bool, error)

	// RenewLock extends expires_at and bumps the renew counter, gated on
	// holder ownership.
	RenewLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)

	// GetLock reads a lock record; ErrLockNotFound-free: returns nil when
	// absent.
	GetLock(ctx context.Context, lockID string) (*domain.Lock, error)

	// === Counters ===

	// NextSequence atomically increments and returns the named counter,
	// seeded so the first value is 1.
	NextSequence(ctx context.Context, name string) (int64, error)

	// === TTL ===

	// PurgeExpired removes jobs past expire_at, logs past expires_at and
	// expired locks.
	PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error)

	Close() error
}
