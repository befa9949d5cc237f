// Package service holds the application layer between the HTTP API and the
// store. It owns request-level validation and the policy decisions that do
// not belong in storage, like how dependencies on finished jobs behave.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

// scheduleGrace tolerates clock skew when rejecting past one-time jobs.
const scheduleGrace = 5 * time.Second

// Overview aggregates engine-wide statistics for the stats endpoint.
type Overview struct {
	ByStatus    []domain.StatusCount
	ByTaskType  []domain.TaskTypeCount
	Hourly      []domain.HourBucket
	DueJobs     int64
	GeneratedAt time.Time
}

// JobService exposes job management operations to the API.
type JobService struct {
	store              storage.Store
	logger             *slog.Logger
	retryDefaults      *domain.RetryPolicy
	defaultLockTimeout time.Duration
}

func NewJobService(store storage.Store, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{store: store, logger: logger}
}

// WithRetryDefaults sets the engine-wide retry defaults applied to jobs
// created without an explicit policy.
func (s *JobService) WithRetryDefaults(p domain.RetryPolicy) *JobService {
	s.retryDefaults = &p
	return s
}

// WithDefaultLockTimeout sets the stale-lock threshold applied to jobs
// created without their own.
func (s *JobService) WithDefaultLockTimeout(d time.Duration) *JobService {
	s.defaultLockTimeout = d
	return s
}

// RetryDefaults returns the policy applied to jobs created without one.
// Callers resolving a request overlay explicit fields on top of this, so
// an explicit zero budget or disabled jitter survives as written.
func (s *JobService) RetryDefaults() domain.RetryPolicy {
	if s.retryDefaults != nil {
		return *s.retryDefaults
	}
	return domain.RetryPolicy{
		MaxRetries:    domain.DefaultMaxRetries,
		RetryDelay:    domain.DefaultRetryDelay,
		MaxRetryDelay: domain.DefaultMaxDelay,
		Strategy:      domain.RetryStrategyExponential,
		JitterEnabled: true,
		JitterFactor:  domain.DefaultJitter,
	}
}

// Create validates and persists a new job.
func (s *JobService) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	now := time.Now().UTC()
	if job.LockTimeout == 0 && s.defaultLockTimeout > 0 {
		job.LockTimeout = s.defaultLockTimeout
	}

	if job.Kind == domain.JobKindOneTime && job.ScheduleTime != nil &&
		job.ScheduleTime.Before(now.Add(-scheduleGrace)) {
		return nil, fmt.Errorf("%w: scheduleTime is in the past", domain.ErrInvalidJob)
	}

	if job.DependsOnJobID != nil {
		parent, err := s.store.GetJob(ctx, *job.DependsOnJobID)
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: dependency %s not found", domain.ErrInvalidJob, *job.DependsOnJobID)
		}
		if err != nil {
			return nil, err
		}
		switch parent.Status {
		case domain.JobStatusCompleted:
			// The parent already succeeded; the child schedules on its
			// own terms instead of waiting forever.
			job.DependsOnJobID = nil
		case domain.JobStatusFailed, domain.JobStatusCancelled:
			return nil, fmt.Errorf("%w: dependency %s already %s",
				domain.ErrInvalidJob, parent.ID, parent.Status)
		}
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"job_seq", job.JobID,
		"kind", job.Kind,
		"task_type", job.TaskType,
		"status", job.Status)
	return job, nil
}

// resolve looks a job up by surrogate uuid or by its sequential id.
func (s *JobService) resolve(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err == nil {
		return s.store.GetJob(ctx, id)
	}
	return s.store.GetJobByJobID(ctx, id)
}

// Get returns a job by surrogate or sequential id.
func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.resolve(ctx, id)
}

// List returns a filtered page of jobs.
func (s *JobService) List(ctx context.Context, params domain.ListJobsParams) (*domain.JobPage, error) {
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}
	return s.store.ListJobs(ctx, params)
}

// Update applies partial edits to a non-terminal job.
func (s *JobService) Update(ctx context.Context, id string, upd storage.JobUpdate) (*domain.Job, error) {
	job, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateJobFields(ctx, job.ID, upd)
}

// Cancel stops a job from ever running again.
func (s *JobService) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.store.CancelJob(ctx, job.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID)
	return cancelled, nil
}

// Pause takes a job out of scheduling until resumed.
func (s *JobService) Pause(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.PauseJob(ctx, job.ID, time.Now().UTC())
}

// Resume puts a paused job back into scheduling.
func (s *JobService) Resume(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ResumeJob(ctx, job.ID, time.Now().UTC())
}

// Delete soft-deletes a job; it stays queryable but is never picked.
func (s *JobService) Delete(ctx context.Context, id string) error {
	job, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetJobActive(ctx, job.ID, false); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "job deactivated", "job_id", job.ID)
	return nil
}

// Logs returns a job's execution history, newest first.
func (s *JobService) Logs(ctx context.Context, id string, limit int) ([]*domain.ExecutionLog, error) {
	job, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListExecutionLogs(ctx, job.ID, limit)
}

// Stats returns an engine-wide overview.
func (s *JobService) Stats(ctx context.Context) (*Overview, error) {
	now := time.Now().UTC()

	byStatus, err := s.store.JobStatsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := s.store.JobStatsByTaskType(ctx)
	if err != nil {
		return nil, err
	}
	hourly, err := s.store.ExecutionHourlyHistogram(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	due, err := s.store.CountDueJobs(ctx, now)
	if err != nil {
		return nil, err
	}
	return &Overview{
		ByStatus:    byStatus,
		ByTaskType:  byType,
		Hourly:      hourly,
		DueJobs:     due,
		GeneratedAt: now,
	}, nil
}
