package domain

import "time"

// ExecutionStatus is the outcome recorded for a single attempt.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
	ExecutionStatusTimeout ExecutionStatus = "TIMEOUT"
	ExecutionStatusSkipped ExecutionStatus = "SKIPPED"
)

// ExecutionLog is an append-only record of one execution attempt. Job
// identity fields are frozen at execution time so the log stays meaningful
// after the job is edited or purged.
type ExecutionLog struct {
	ID    string
	JobID string

	JobName  string
	JobKind  JobKind
	TaskType string

	ScheduledAt *time.Time
	StartedAt   time.Time
	FinishedAt  *time.Time
	Duration    time.Duration

	Status       ExecutionStatus
	RetryAttempt int
	IsRetry      bool

	ErrorMessage string
	ErrorStack   string
	ErrorCode    ErrorCode

	WorkerID string
	Hostname string

	Payload  map[string]any
	Result   map[string]any
	Metadata map[string]any

	ExpiresAt time.Time
	CreatedAt time.Time
}
