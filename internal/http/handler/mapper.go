package handler

import (
	"fmt"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
)

// RetryPolicyDTO is the wire form of a retry policy. Durations travel as
// Go duration strings ("1m", "1h30m").
type RetryPolicyDTO struct {
	MaxRetries    int     `json:"maxRetries"`
	RetryDelay    string  `json:"retryDelay"`
	MaxRetryDelay string  `json:"maxRetryDelay"`
	Strategy      string  `json:"strategy"`
	JitterEnabled bool    `json:"jitterEnabled"`
	JitterFactor  float64 `json:"jitterFactor"`
}

// JobDTO is the wire form of a job.
type JobDTO struct {
	ID          string   `json:"id"`
	JobID       string   `json:"jobId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	CreatedBy   string   `json:"createdBy,omitempty"`

	Kind           string     `json:"kind"`
	ScheduleTime   *time.Time `json:"scheduleTime,omitempty"`
	CronExpression string     `json:"cronExpression,omitempty"`
	Interval       string     `json:"interval,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`

	TaskType string         `json:"taskType"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority"`

	Status     string         `json:"status"`
	NextRunAt  *time.Time     `json:"nextRunAt,omitempty"`
	LastRunAt  *time.Time     `json:"lastRunAt,omitempty"`
	RetryCount int            `json:"retryCount"`
	LastError  string         `json:"lastError,omitempty"`
	LastResult map[string]any `json:"lastResult,omitempty"`

	RetryPolicy RetryPolicyDTO `json:"retryPolicy"`

	LockedBy    *string    `json:"lockedBy,omitempty"`
	LockedAt    *time.Time `json:"lockedAt,omitempty"`
	LockTimeout string     `json:"lockTimeout"`

	DependsOnJobID *string `json:"dependsOnJobId,omitempty"`

	IsActive bool           `json:"isActive"`
	ExpireAt *time.Time     `json:"expireAt,omitempty"`
	PausedAt *time.Time     `json:"pausedAt,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExecutionLogDTO is the wire form of one execution attempt.
type ExecutionLogDTO struct {
	ID    string `json:"id"`
	JobID string `json:"jobId"`

	JobName  string `json:"jobName"`
	JobKind  string `json:"jobKind"`
	TaskType string `json:"taskType"`

	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Duration    string     `json:"duration,omitempty"`

	Status       string `json:"status"`
	RetryAttempt int    `json:"retryAttempt"`
	IsRetry      bool   `json:"isRetry"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`

	WorkerID string `json:"workerId"`
	Hostname string `json:"hostname,omitempty"`

	Result   map[string]any `json:"result,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// MapJobToDTO converts a domain job to its wire form.
func MapJobToDTO(job *domain.Job) JobDTO {
	dto := JobDTO{
		ID:          job.ID,
		JobID:       job.JobID,
		Name:        job.Name,
		Description: job.Description,
		Tags:        job.Tags,
		Timezone:    job.Timezone,
		CreatedBy:   job.CreatedBy,

		Kind:           string(job.Kind),
		ScheduleTime:   job.ScheduleTime,
		CronExpression: job.CronExpression,
		StartTime:      job.StartTime,
		EndTime:        job.EndTime,

		TaskType: job.TaskType,
		Payload:  job.Payload,
		Priority: job.Priority,

		Status:     string(job.Status),
		NextRunAt:  job.NextRunAt,
		LastRunAt:  job.LastRunAt,
		RetryCount: job.RetryCount,
		LastError:  job.LastError,
		LastResult: job.LastResult,

		RetryPolicy: RetryPolicyDTO{
			MaxRetries:    job.Retry.MaxRetries,
			RetryDelay:    job.Retry.RetryDelay.String(),
			MaxRetryDelay: job.Retry.MaxRetryDelay.String(),
			Strategy:      string(job.Retry.EffectiveStrategy()),
			JitterEnabled: job.Retry.JitterEnabled,
			JitterFactor:  job.Retry.JitterFactor,
		},

		LockedBy:    job.LockedBy,
		LockedAt:    job.LockedAt,
		LockTimeout: job.EffectiveLockTimeout().String(),

		DependsOnJobID: job.DependsOnJobID,

		IsActive: job.IsActive,
		ExpireAt: job.ExpireAt,
		PausedAt: job.PausedAt,
		Metadata: job.Metadata,

		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Interval != 0 {
		dto.Interval = job.Interval.String()
	}
	return dto
}

// MapLogToDTO converts an execution log entry to its wire form.
func MapLogToDTO(entry *domain.ExecutionLog) ExecutionLogDTO {
	dto := ExecutionLogDTO{
		ID:    entry.ID,
		JobID: entry.JobID,

		JobName:  entry.JobName,
		JobKind:  string(entry.JobKind),
		TaskType: entry.TaskType,

		ScheduledAt: entry.ScheduledAt,
		StartedAt:   entry.StartedAt,
		FinishedAt:  entry.FinishedAt,

		Status:       string(entry.Status),
		RetryAttempt: entry.RetryAttempt,
		IsRetry:      entry.IsRetry,

		ErrorMessage: entry.ErrorMessage,
		ErrorCode:    string(entry.ErrorCode),

		WorkerID: entry.WorkerID,
		Hostname: entry.Hostname,

		Result:   entry.Result,
		Metadata: entry.Metadata,

		CreatedAt: entry.CreatedAt,
	}
	if entry.Duration != 0 {
		dto.Duration = entry.Duration.String()
	}
	return dto
}

func mapJobsToDTO(jobs []*domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = MapJobToDTO(job)
	}
	return out
}

func mapLogsToDTO(entries []*domain.ExecutionLog) []ExecutionLogDTO {
	out := make([]ExecutionLogDTO, len(entries))
	for i, entry := range entries {
		out[i] = MapLogToDTO(entry)
	}
	return out
}

// parseDuration parses an optional duration string from a request field.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must not be negative", field)
	}
	return d, nil
}
