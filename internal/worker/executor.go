package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/retry"
	"github.com/chronoshq/chronos/internal/schedule"
	"github.com/chronoshq/chronos/internal/storage"
)

// Executor runs one claimed job end to end: marks it running, records the
// attempt in the execution log, invokes the handler with panic recovery and
// a timeout, and writes the outcome back through an ownership-gated store
// update. A lost lock at any point drops the outcome; the other side of the
// race owns the job now.
type Executor struct {
	store    storage.Store
	registry *Registry
	workerID string
	hostname string
	logger   *slog.Logger
	events   *events
	stats    *stats
}

func newExecutor(store storage.Store, registry *Registry, workerID, hostname string, logger *slog.Logger, ev *events, st *stats) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		workerID: workerID,
		hostname: hostname,
		logger:   logger,
		events:   ev,
		stats:    st,
	}
}

// Execute processes a claimed job. Infrastructure failures (store errors on
// the happy path) are returned; handler failures are routed to retry or
// terminal failure and return nil.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) error {
	startedAt := time.Now().UTC()

	running, err := e.store.MarkJobRunning(ctx, job.ID, e.workerID, startedAt)
	if errors.Is(err, domain.ErrJobOwnershipLost) {
		e.logger.WarnContext(ctx, "lost job before execution", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	job = running

	entry := &domain.ExecutionLog{
		JobID:        job.ID,
		JobName:      job.Name,
		JobKind:      job.Kind,
		TaskType:     job.TaskType,
		ScheduledAt:  job.NextRunAt,
		StartedAt:    startedAt,
		Status:       domain.ExecutionStatusRunning,
		RetryAttempt: job.RetryCount,
		IsRetry:      job.RetryCount > 0,
		WorkerID:     e.workerID,
		Hostname:     e.hostname,
		Payload:      job.Payload,
	}
	if err := e.store.InsertExecutionLog(ctx, entry); err != nil {
		// The attempt still runs; losing one audit row is better than
		// losing the execution.
		e.logger.ErrorContext(ctx, "failed to open execution log",
			"job_id", job.ID, "error", err)
	}

	e.events.emit(Event{Type: EventJobStart, JobID: job.ID, TaskType: job.TaskType, Attempt: job.RetryCount})
	e.logger.InfoContext(ctx, "executing job",
		"job_id", job.ID,
		"job_seq", job.JobID,
		"task_type", job.TaskType,
		"attempt", job.RetryCount)

	result, execErr := e.invoke(ctx, job)
	finishedAt := time.Now().UTC()
	duration := finishedAt.Sub(startedAt)

	if execErr != nil {
		return e.handleFailure(ctx, job, entry, execErr, finishedAt, duration)
	}
	return e.handleSuccess(ctx, job, entry, result, finishedAt, duration)
}

// invoke runs the handler with panic recovery, racing it against the job's
// lock timeout. On timeout the handler goroutine is left to notice its
// cancelled context.
func (e *Executor) invoke(ctx context.Context, job *domain.Job) (map[string]any, error) {
	handler, ok := e.registry.Resolve(job.TaskType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, job.TaskType)
	}

	runCtx, cancel := context.WithTimeout(ctx, job.EffectiveLockTimeout())
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: PanicError{Value: r, StackTrace: string(debug.Stack())}}
			}
		}()
		result, err := handler(runCtx, job)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrExecutionTimeout
		}
		return nil, runCtx.Err()
	case o := <-ch:
		return o.result, o.err
	}
}

func (e *Executor) handleSuccess(ctx context.Context, job *domain.Job, entry *domain.ExecutionLog, result map[string]any, finishedAt time.Time, duration time.Duration) error {
	params := storage.CompleteParams{
		JobID:      job.ID,
		WorkerID:   e.workerID,
		FinishedAt: finishedAt,
		Duration:   duration,
		Result:     result,
	}

	if job.Kind == domain.JobKindRecurring {
		if next, ok := schedule.NextRun(job, finishedAt); ok {
			params.NextRunAt = &next
		}
	}
	if params.NextRunAt == nil {
		expire := finishedAt.Add(domain.CompletedJobTTL)
		params.ExpireAt = &expire
	}

	err := e.store.CompleteJob(ctx, params)
	if errors.Is(err, domain.ErrJobOwnershipLost) {
		e.logger.WarnContext(ctx, "lost job while recording success", "job_id", job.ID)
		e.finishLog(ctx, entry, storage.FinishLogParams{
			FinishedAt:   finishedAt,
			Status:       domain.ExecutionStatusSkipped,
			ErrorMessage: "ownership lost before outcome was recorded",
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	e.finishLog(ctx, entry, storage.FinishLogParams{
		FinishedAt: finishedAt,
		Status:     domain.ExecutionStatusSuccess,
		Result:     result,
	})

	// Waiting children become due now that the parent has succeeded.
	if n, err := e.store.ScheduleDependents(ctx, job.ID, finishedAt); err != nil {
		e.logger.ErrorContext(ctx, "failed to schedule dependents",
			"job_id", job.ID, "error", err)
	} else if n > 0 {
		e.logger.InfoContext(ctx, "scheduled dependent jobs", "job_id", job.ID, "count", n)
	}

	e.stats.incCompleted(duration, job.RetryCount > 0)
	e.events.emit(Event{
		Type:     EventJobComplete,
		JobID:    job.ID,
		TaskType: job.TaskType,
		Attempt:  job.RetryCount,
		Result:   result,
		Duration: duration,
	})
	e.logger.InfoContext(ctx, "job completed",
		"job_id", job.ID,
		"duration", duration,
		"rescheduled", params.NextRunAt != nil)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, job *domain.Job, entry *domain.ExecutionLog, execErr error, finishedAt time.Time, duration time.Duration) error {
	message := execErr.Error()
	code := domain.ClassifyError(message)

	var stack string
	var panicErr PanicError
	if errors.As(execErr, &panicErr) {
		stack = panicErr.StackTrace
	}

	logStatus := domain.ExecutionStatusFailed
	if errors.Is(execErr, ErrExecutionTimeout) {
		logStatus = domain.ExecutionStatusTimeout
	}

	// Panics and typed permanent failures never retry; everything else
	// consults the classifier and the job's retry budget.
	retryable := !IsPanic(execErr) &&
		!domain.IsNonRetryableError(execErr) &&
		!domain.IsNonRetryable(message)

	if retryable && job.RetryCount < job.Retry.MaxRetries {
		// Backoff is indexed by retries already spent: the first retry
		// waits the base delay.
		attempt := job.RetryCount + 1
		delay := retry.Delay(job.Retry, job.RetryCount)
		nextRunAt := finishedAt.Add(delay)
		remaining := job.Retry.MaxRetries - attempt

		err := e.store.RetryJob(ctx, storage.RetryParams{
			JobID:        job.ID,
			WorkerID:     e.workerID,
			FinishedAt:   finishedAt,
			Duration:     duration,
			ErrorMessage: message,
			ErrorStack:   stack,
			NextRunAt:    nextRunAt,
		})
		if errors.Is(err, domain.ErrJobOwnershipLost) {
			e.logger.WarnContext(ctx, "lost job while scheduling retry", "job_id", job.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}

		e.finishLog(ctx, entry, storage.FinishLogParams{
			FinishedAt:   finishedAt,
			Status:       logStatus,
			ErrorMessage: message,
			ErrorStack:   stack,
			ErrorCode:    code,
			Metadata: map[string]any{
				"willRetry":        true,
				"nextRetryAt":      nextRunAt,
				"remainingRetries": remaining,
				"retryDelay":       delay.String(),
			},
		})

		e.stats.incRetried()
		e.events.emit(Event{
			Type:        EventJobRetry,
			JobID:       job.ID,
			TaskType:    job.TaskType,
			Attempt:     attempt,
			Err:         message,
			NextRetryAt: nextRunAt,
			Remaining:   remaining,
		})
		e.logger.WarnContext(ctx, "job failed, retry scheduled",
			"job_id", job.ID,
			"attempt", attempt,
			"max_retries", job.Retry.MaxRetries,
			"delay", delay,
			"error_code", code,
			"error", message)
		return nil
	}

	err := e.store.FailJob(ctx, storage.FailParams{
		JobID:        job.ID,
		WorkerID:     e.workerID,
		FinishedAt:   finishedAt,
		Duration:     duration,
		ErrorMessage: message,
		ErrorStack:   stack,
	})
	if errors.Is(err, domain.ErrJobOwnershipLost) {
		e.logger.WarnContext(ctx, "lost job while recording failure", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	// Children waiting on this job can never run.
	blocked, berr := e.store.BlockDependents(ctx, job.ID)
	if berr != nil {
		e.logger.ErrorContext(ctx, "failed to block dependents",
			"job_id", job.ID, "error", berr)
	} else if blocked > 0 {
		e.logger.WarnContext(ctx, "blocked dependent jobs", "job_id", job.ID, "count", blocked)
	}

	e.finishLog(ctx, entry, storage.FinishLogParams{
		FinishedAt:   finishedAt,
		Status:       logStatus,
		ErrorMessage: message,
		ErrorStack:   stack,
		ErrorCode:    code,
		Metadata: map[string]any{
			"willRetry":         false,
			"remainingRetries":  max(job.Retry.MaxRetries-job.RetryCount, 0),
			"blockedDependents": blocked,
		},
	})

	e.stats.incFailed(duration)
	e.events.emit(Event{
		Type:     EventJobFailed,
		JobID:    job.ID,
		TaskType: job.TaskType,
		Attempt:  job.RetryCount,
		Err:      message,
		Duration: duration,
	})
	e.logger.ErrorContext(ctx, "job failed permanently",
		"job_id", job.ID,
		"retry_count", job.RetryCount,
		"retryable", retryable,
		"error_code", code,
		"error", message)
	return nil
}

func (e *Executor) finishLog(ctx context.Context, entry *domain.ExecutionLog, params storage.FinishLogParams) {
	if entry.ID == "" {
		return
	}
	params.LogID = entry.ID
	if err := e.store.FinishExecutionLog(ctx, params); err != nil {
		e.logger.ErrorContext(ctx, "failed to close execution log",
			"log_id", entry.ID, "job_id", entry.JobID, "error", err)
	}
}
