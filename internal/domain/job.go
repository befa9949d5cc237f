package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// JobKind distinguishes one-shot jobs from recurring ones.
type JobKind string

const (
	JobKindOneTime   JobKind = "ONE_TIME"
	JobKindRecurring JobKind = "RECURRING"
)

// JobStatus is the scheduling lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusScheduled JobStatus = "SCHEDULED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusPaused    JobStatus = "PAUSED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusWaiting   JobStatus = "WAITING"
	JobStatusBlocked   JobStatus = "BLOCKED"
)

// Terminal reports whether the status ends the scheduling lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// RetryStrategy selects the backoff curve applied between attempts.
type RetryStrategy string

const (
	RetryStrategyFixed       RetryStrategy = "fixed"
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyLinear      RetryStrategy = "linear"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"
)

// Scheduling defaults and bounds.
const (
	DefaultPriority    = 5
	MinPriority        = 1
	MaxPriority        = 10
	MaxRetriesBound    = 10
	MinRetryDelay      = time.Second
	MinInterval        = time.Second
	MaxInterval        = 30 * 24 * time.Hour
	DefaultLockTimeout = 5 * time.Minute
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = time.Minute
	DefaultMaxDelay    = time.Hour
	DefaultJitter      = 0.2

	// CompletedJobTTL is how long a completed one-time job is retained
	// before the expiry sweep removes it.
	CompletedJobTTL = 5 * 24 * time.Hour

	// ExecutionLogTTL is how long execution log entries are retained.
	ExecutionLogTTL = 30 * 24 * time.Hour

	minNameLen = 3
	maxNameLen = 200
	maxDescLen = 1000
)

// RetryPolicy controls how failed attempts are rescheduled.
type RetryPolicy struct {
	MaxRetries            int
	RetryDelay            time.Duration
	MaxRetryDelay         time.Duration
	Strategy              RetryStrategy
	UseExponentialBackoff bool
	JitterEnabled         bool
	JitterFactor          float64
}

// EffectiveStrategy resolves the strategy, honouring the legacy
// UseExponentialBackoff flag when no explicit strategy is set.
func (p RetryPolicy) EffectiveStrategy() RetryStrategy {
	if p.Strategy != "" {
		return p.Strategy
	}
	if p.UseExponentialBackoff {
		return RetryStrategyExponential
	}
	return RetryStrategyFixed
}

// Job is the central scheduling entity. All timing state lives in the store;
// the engine holds no in-process timers for occurrences.
type Job struct {
	// ID is the opaque surrogate key used for conditional writes.
	ID string
	// JobID is the monotonically increasing human-readable id, minted from
	// the job_id counter and rendered as a decimal string.
	JobID string

	Name        string
	Description string
	Tags        []string
	Timezone    string
	CreatedBy   string

	Kind JobKind

	// Exactly one of ScheduleTime (one-time), CronExpression or Interval
	// (recurring) is set.
	ScheduleTime   *time.Time
	CronExpression string
	Interval       time.Duration
	StartTime      *time.Time
	EndTime        *time.Time

	TaskType string
	Payload  map[string]any
	Priority int

	Status            JobStatus
	NextRunAt         *time.Time
	LastRunAt         *time.Time
	RetryCount        int
	ExecutionDuration time.Duration
	LastError         string
	LastErrorStack    string
	LastResult        map[string]any

	Retry RetryPolicy

	LockedBy    *string
	LockedAt    *time.Time
	LockTimeout time.Duration

	DependsOnJobID *string

	IsActive bool
	ExpireAt *time.Time
	PausedAt *time.Time
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the static invariants of a job definition. Runtime state
// (status, locks) is not inspected; the store owns those transitions.
func (j *Job) Validate() error {
	if len(j.Name) < minNameLen || len(j.Name) > maxNameLen {
		return fmt.Errorf("%w: name must be %d-%d characters", ErrInvalidJob, minNameLen, maxNameLen)
	}
	if len(j.Description) > maxDescLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidJob, maxDescLen)
	}
	if j.TaskType == "" {
		return fmt.Errorf("%w: taskType is required", ErrInvalidJob)
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be %d-%d", ErrInvalidJob, MinPriority, MaxPriority)
	}
	if j.Retry.MaxRetries < 0 || j.Retry.MaxRetries > MaxRetriesBound {
		return fmt.Errorf("%w: maxRetries must be 0-%d", ErrInvalidJob, MaxRetriesBound)
	}
	if j.Retry.RetryDelay != 0 && j.Retry.RetryDelay < MinRetryDelay {
		return fmt.Errorf("%w: retryDelay must be at least %s", ErrInvalidJob, MinRetryDelay)
	}
	switch j.Retry.EffectiveStrategy() {
	case RetryStrategyFixed, RetryStrategyExponential, RetryStrategyLinear, RetryStrategyFibonacci:
	default:
		return fmt.Errorf("%w: unknown retry strategy %q", ErrInvalidJob, j.Retry.Strategy)
	}
	if j.Timezone != "" {
		if _, err := time.LoadLocation(j.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidJob, j.Timezone)
		}
	}

	switch j.Kind {
	case JobKindOneTime:
		if j.ScheduleTime == nil {
			return fmt.Errorf("%w: one-time job requires scheduleTime", ErrInvalidJob)
		}
		if j.CronExpression != "" || j.Interval != 0 {
			return fmt.Errorf("%w: one-time job cannot have cronExpression or interval", ErrInvalidJob)
		}
	case JobKindRecurring:
		hasCron := j.CronExpression != ""
		hasInterval := j.Interval != 0
		if hasCron == hasInterval {
			return fmt.Errorf("%w: recurring job requires exactly one of cronExpression or interval", ErrInvalidJob)
		}
		if hasCron {
			if _, err := cron.ParseStandard(j.CronExpression); err != nil {
				return fmt.Errorf("%w: invalid cron expression %q: %v", ErrInvalidJob, j.CronExpression, err)
			}
		}
		if hasInterval && (j.Interval < MinInterval || j.Interval > MaxInterval) {
			return fmt.Errorf("%w: interval must be between %s and %s", ErrInvalidJob, MinInterval, MaxInterval)
		}
		if j.ScheduleTime != nil {
			return fmt.Errorf("%w: recurring job cannot have scheduleTime", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}

	if j.StartTime != nil && j.EndTime != nil && !j.EndTime.After(*j.StartTime) {
		return fmt.Errorf("%w: endTime must be after startTime", ErrInvalidJob)
	}

	return nil
}

// Location resolves the job's IANA timezone, defaulting to UTC.
func (j *Job) Location() *time.Location {
	if j.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EffectiveLockTimeout returns the stale-lock threshold for this job.
func (j *Job) EffectiveLockTimeout() time.Duration {
	if j.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return j.LockTimeout
}

// LockStale reports whether the job's lock is held but past the threshold.
func (j *Job) LockStale(now time.Time) bool {
	if j.LockedBy == nil || j.LockedAt == nil {
		return false
	}
	return j.LockedAt.Before(now.Add(-j.EffectiveLockTimeout()))
}
