package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

// Store implements storage.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

const jobColumns = `id, job_id, name, description, tags, timezone, created_by, kind,
schedule_time, cron_expression, interval_ms, start_time, end_time,
task_type, payload, priority, status, next_run_at, last_run_at,
retry_count, execution_duration_ms, last_error, last_error_stack, last_result,
max_retries, retry_delay_ms, max_retry_delay_ms, retry_strategy,
use_exponential_backoff, jitter_enabled, jitter_factor,
locked_by, locked_at, lock_timeout_ms, depends_on_job_id,
is_active, expire_at, paused_at, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                                        domain.Job
		tags, payload, lastResult, metadata        string
		scheduleTime, startTime, endTime           sql.NullInt64
		nextRunAt, lastRunAt, lockedAt             sql.NullInt64
		expireAt, pausedAt                         sql.NullInt64
		lockedBy, dependsOn                        sql.NullString
		intervalMs, durationMs, retryDelayMs       int64
		maxRetryDelayMs, lockTimeoutMs             int64
		createdAt, updatedAt                       int64
	)
	err := row.Scan(
		&job.ID, &job.JobID, &job.Name, &job.Description, &tags, &job.Timezone, &job.CreatedBy, &job.Kind,
		&scheduleTime, &job.CronExpression, &intervalMs, &startTime, &endTime,
		&job.TaskType, &payload, &job.Priority, &job.Status, &nextRunAt, &lastRunAt,
		&job.RetryCount, &durationMs, &job.LastError, &job.LastErrorStack, &lastResult,
		&job.Retry.MaxRetries, &retryDelayMs, &maxRetryDelayMs, &job.Retry.Strategy,
		&job.Retry.UseExponentialBackoff, &job.Retry.JitterEnabled, &job.Retry.JitterFactor,
		&lockedBy, &lockedAt, &lockTimeoutMs, &dependsOn,
		&job.IsActive, &expireAt, &pausedAt, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Tags = decodeTags(tags)
	job.Payload = decodeMap(payload)
	job.LastResult = decodeMap(lastResult)
	job.Metadata = decodeMap(metadata)
	job.ScheduleTime = fromMsPtr(scheduleTime)
	job.StartTime = fromMsPtr(startTime)
	job.EndTime = fromMsPtr(endTime)
	job.NextRunAt = fromMsPtr(nextRunAt)
	job.LastRunAt = fromMsPtr(lastRunAt)
	job.LockedAt = fromMsPtr(lockedAt)
	job.ExpireAt = fromMsPtr(expireAt)
	job.PausedAt = fromMsPtr(pausedAt)
	job.LockedBy = strPtr(lockedBy)
	job.DependsOnJobID = strPtr(dependsOn)
	job.Interval = time.Duration(intervalMs) * time.Millisecond
	job.ExecutionDuration = time.Duration(durationMs) * time.Millisecond
	job.Retry.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	job.Retry.MaxRetryDelay = time.Duration(maxRetryDelayMs) * time.Millisecond
	job.LockTimeout = time.Duration(lockTimeoutMs) * time.Millisecond
	job.CreatedAt = fromMs(createdAt)
	job.UpdatedAt = fromMs(updatedAt)
	return &job, nil
}

// === Jobs ===

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	if err := storage.NormalizeNewJob(job, now); err != nil {
		return err
	}
	job.ID = uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES ('job_id', 1)
		 ON CONFLICT (name) DO UPDATE SET value = value + 1
		 RETURNING value`).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to mint job id: %w", err)
	}
	job.JobID = strconv.FormatInt(seq, 10)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES
		 (?, ?, ?, ?, ?, ?, ?, ?,
		  ?, ?, ?, ?, ?,
		  ?, ?, ?, ?, ?, ?,
		  ?, ?, ?, ?, ?,
		  ?, ?, ?, ?,
		  ?, ?, ?,
		  ?, ?, ?, ?,
		  ?, ?, ?, ?, ?, ?)`,
		job.ID, job.JobID, job.Name, job.Description, encodeTags(job.Tags), job.Timezone, job.CreatedBy, job.Kind,
		toMsPtr(job.ScheduleTime), job.CronExpression, job.Interval.Milliseconds(), toMsPtr(job.StartTime), toMsPtr(job.EndTime),
		job.TaskType, encodeJSON(job.Payload), job.Priority, job.Status, toMsPtr(job.NextRunAt), toMsPtr(job.LastRunAt),
		job.RetryCount, job.ExecutionDuration.Milliseconds(), job.LastError, job.LastErrorStack, encodeJSON(job.LastResult),
		job.Retry.MaxRetries, job.Retry.RetryDelay.Milliseconds(), job.Retry.MaxRetryDelay.Milliseconds(), job.Retry.Strategy,
		job.Retry.UseExponentialBackoff, job.Retry.JitterEnabled, job.Retry.JitterFactor,
		job.LockedBy, toMsPtr(job.LockedAt), job.LockTimeout.Milliseconds(), job.DependsOnJobID,
		job.IsActive, toMsPtr(job.ExpireAt), toMsPtr(job.PausedAt), encodeJSON(job.Metadata), toMs(job.CreatedAt), toMs(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return tx.Commit()
}

func (s *Store) getJobBy(ctx context.Context, column, value string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+column+` = ?`, value)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.getJobBy(ctx, "id", id)
}

func (s *Store) GetJobByJobID(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.getJobBy(ctx, "job_id", jobID)
}

func (s *Store) ListJobs(ctx context.Context, params domain.ListJobsParams) (*domain.JobPage, error) {
	var (
		where []string
		args  []any
	)
	if !params.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	if params.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *params.Status)
	}
	if params.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, *params.Kind)
	}
	if params.TaskType != nil {
		where = append(where, "task_type = ?")
		args = append(args, *params.TaskType)
	}
	if params.CreatedBy != nil {
		where = append(where, "created_by = ?")
		args = append(args, *params.CreatedBy)
	}
	if params.Tag != nil {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(jobs.tags) WHERE json_each.value = ?)")
		args = append(args, *params.Tag)
	}
	if params.DueBefore != nil {
		where = append(where, "next_run_at IS NOT NULL AND next_run_at <= ?")
		args = append(args, toMs(*params.DueBefore))
	}
	if params.Search != "" {
		where = append(where, "(name LIKE ? OR description LIKE ?)")
		pattern := "%" + params.Search + "%"
		args = append(args, pattern, pattern)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := "SELECT " + jobColumns + " FROM jobs" + clause + " ORDER BY " + orderClause(params)
	limit := params.Limit
	if limit <= 0 {
		limit = total
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, params.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &domain.JobPage{
		Jobs:       jobs,
		TotalCount: total,
		HasMore:    params.Offset+len(jobs) < total,
	}, nil
}

func orderClause(params domain.ListJobsParams) string {
	column := "created_at"
	switch params.OrderBy {
	case "updated_at", "next_run_at", "priority":
		column = params.OrderBy
	}
	dir := "DESC"
	if params.OrderDir == "asc" {
		dir = "ASC"
	}
	return column + " " + dir
}

func (s *Store) UpdateJobFields(ctx context.Context, id string, upd storage.JobUpdate) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status.Terminal() {
		return nil, domain.ErrJobTerminal
	}

	if upd.Name != nil {
		job.Name = *upd.Name
	}
	if upd.Description != nil {
		job.Description = *upd.Description
	}
	if upd.Tags != nil {
		job.Tags = *upd.Tags
	}
	if upd.Payload != nil {
		job.Payload = *upd.Payload
	}
	if upd.Priority != nil {
		job.Priority = *upd.Priority
	}
	if upd.Timezone != nil {
		job.Timezone = *upd.Timezone
	}
	if upd.MaxRetries != nil {
		job.Retry.MaxRetries = *upd.MaxRetries
	}
	if upd.RetryDelay != nil {
		job.Retry.RetryDelay = *upd.RetryDelay
	}
	job.UpdatedAt = time.Now().UTC()

	if err := job.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET name = ?, description = ?, tags = ?, payload = ?,
		 priority = ?, timezone = ?, max_retries = ?, retry_delay_ms = ?, updated_at = ?
		 WHERE id = ?`,
		job.Name, job.Description, encodeTags(job.Tags), encodeJSON(job.Payload),
		job.Priority, job.Timezone, job.Retry.MaxRetries, job.Retry.RetryDelay.Milliseconds(), toMs(job.UpdatedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) SetJobActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, toMs(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// === Claim protocol ===

func (s *Store) ClaimNextDueJob(ctx context.Context, workerID string, now time.Time) (*domain.Job, error) {
	nowMs := toMs(now)
	var id string
	// Single statement, so the pick and the lock write are atomic.
	err := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, locked_by = ?, locked_at = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND is_active = 1
			  AND next_run_at IS NOT NULL AND next_run_at <= ?
			  AND (locked_by IS NULL OR locked_at IS NULL OR locked_at <= ? - lock_timeout_ms)
			ORDER BY priority ASC, next_run_at ASC
			LIMIT 1
		 )
		 RETURNING id`,
		domain.JobStatusQueued, workerID, nowMs, nowMs,
		domain.JobStatusScheduled, nowMs, nowMs,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// ownershipErr maps a zero-row conditional update to the right sentinel.
func (s *Store) ownershipErr(ctx context.Context, jobID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrJobOwnershipLost
}

func (s *Store) ReleaseJob(ctx context.Context, jobID, workerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE id = ? AND locked_by = ?`,
		domain.JobStatusScheduled, toMs(time.Now().UTC()), jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ownershipErr(ctx, jobID)
	}
	return nil
}

func (s *Store) ReleaseAllJobs(ctx context.Context, workerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE locked_by = ? AND status IN (?, ?)`,
		domain.JobStatusScheduled, toMs(time.Now().UTC()), workerID,
		domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to release jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) RecoverStaleJobs(ctx context.Context, threshold time.Duration, now time.Time) (int64, error) {
	nowMs := toMs(now)
	staleCond := "locked_at <= ? - lock_timeout_ms"
	args := []any{
		domain.JobStatusScheduled, nowMs,
		domain.JobStatusQueued, domain.JobStatusRunning,
	}
	if threshold > 0 {
		staleCond = "locked_at <= ?"
		args = append(args, toMs(now.Add(-threshold)))
	} else {
		args = append(args, nowMs)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL,
		 retry_count = MIN(retry_count + 1, max_retries), updated_at = ?
		 WHERE status IN (?, ?) AND locked_by IS NOT NULL AND locked_at IS NOT NULL
		   AND `+staleCond,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) CountDueJobs(ctx context.Context, now time.Time) (int64, error) {
	nowMs := toMs(now)
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE status = ? AND is_active = 1
		   AND next_run_at IS NOT NULL AND next_run_at <= ?
		   AND (locked_by IS NULL OR locked_at IS NULL OR locked_at <= ? - lock_timeout_ms)`,
		domain.JobStatusScheduled, nowMs, nowMs).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due jobs: %w", err)
	}
	return n, nil
}

// === Execution transitions ===

func (s *Store) MarkJobRunning(ctx context.Context, jobID, workerID string, now time.Time) (*domain.Job, error) {
	nowMs := toMs(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, locked_at = ?, last_run_at = ?, updated_at = ?
		 WHERE id = ? AND locked_by = ? AND status = ?`,
		domain.JobStatusRunning, nowMs, nowMs, nowMs,
		jobID, workerID, domain.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to mark running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.ownershipErr(ctx, jobID)
	}
	return s.GetJob(ctx, jobID)
}

func (s *Store) CompleteJob(ctx context.Context, params storage.CompleteParams) error {
	var (
		status    = domain.JobStatusCompleted
		nextRunAt any
		expireAt  any
	)
	if params.NextRunAt != nil {
		status = domain.JobStatusScheduled
		nextRunAt = toMs(*params.NextRunAt)
	}
	if params.ExpireAt != nil {
		expireAt = toMs(*params.ExpireAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_run_at = ?, expire_at = ?,
		 retry_count = 0, last_error = '', last_error_stack = '', last_result = ?,
		 execution_duration_ms = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE id = ? AND locked_by = ?`,
		status, nextRunAt, expireAt,
		encodeJSON(params.Result), params.Duration.Milliseconds(), toMs(params.FinishedAt),
		params.JobID, params.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ownershipErr(ctx, params.JobID)
	}
	return nil
}

func (s *Store) RetryJob(ctx context.Context, params storage.RetryParams) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_run_at = ?, retry_count = retry_count + 1,
		 last_error = ?, last_error_stack = ?, execution_duration_ms = ?,
		 locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE id = ? AND locked_by = ?`,
		domain.JobStatusScheduled, toMs(params.NextRunAt),
		params.ErrorMessage, params.ErrorStack, params.Duration.Milliseconds(),
		toMs(params.FinishedAt),
		params.JobID, params.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ownershipErr(ctx, params.JobID)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, params storage.FailParams) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_run_at = NULL,
		 last_error = ?, last_error_stack = ?, execution_duration_ms = ?,
		 locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE id = ? AND locked_by = ?`,
		domain.JobStatusFailed,
		params.ErrorMessage, params.ErrorStack, params.Duration.Milliseconds(),
		toMs(params.FinishedAt),
		params.JobID, params.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ownershipErr(ctx, params.JobID)
	}
	return nil
}

// === Dependencies ===

func (s *Store) ScheduleDependents(ctx context.Context, parentID string, runAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_run_at = ?, updated_at = ?
		 WHERE depends_on_job_id = ? AND status = ?`,
		domain.JobStatusScheduled, toMs(runAt), toMs(runAt),
		parentID, domain.JobStatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule dependents: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) BlockDependents(ctx context.Context, parentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?,
		 metadata = json_set(metadata, '$.blockedBy', ?), updated_at = ?
		 WHERE depends_on_job_id = ? AND status = ?`,
		domain.JobStatusBlocked, parentID, toMs(time.Now().UTC()),
		parentID, domain.JobStatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("failed to block dependents: %w", err)
	}
	return res.RowsAffected()
}

// === API transitions ===

func (s *Store) transition(ctx context.Context, id, set string, from []domain.JobStatus, failErr error, args ...any) (*domain.Job, error) {
	placeholders := make([]string, len(from))
	queryArgs := append([]any{}, args...)
	queryArgs = append(queryArgs, id)
	for i, status := range from {
		placeholders[i] = "?"
		queryArgs = append(queryArgs, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+set+` WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, failErr
	}
	return s.GetJob(ctx, id)
}

func (s *Store) CancelJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id,
		`status = ?, next_run_at = NULL, locked_by = NULL, locked_at = NULL, updated_at = ?`,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusScheduled, domain.JobStatusQueued},
		domain.ErrJobNotCancellable,
		domain.JobStatusCancelled, toMs(now))
}

func (s *Store) PauseJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id,
		`status = ?, paused_at = ?, updated_at = ?`,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusScheduled},
		domain.ErrJobNotPausable,
		domain.JobStatusPaused, toMs(now), toMs(now))
}

func (s *Store) ResumeJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id,
		`status = ?, paused_at = NULL, next_run_at = COALESCE(next_run_at, ?), updated_at = ?`,
		[]domain.JobStatus{domain.JobStatusPaused},
		domain.ErrJobNotResumable,
		domain.JobStatusScheduled, toMs(now), toMs(now))
}

// === Execution logs ===

func (s *Store) InsertExecutionLog(ctx context.Context, entry *domain.ExecutionLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.StartedAt.Add(domain.ExecutionLogTTL)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs
		 (id, job_id, job_name, job_kind, task_type, scheduled_at, started_at, finished_at,
		  duration_ms, status, retry_attempt, is_retry, error_message, error_stack, error_code,
		  worker_id, hostname, payload, result, metadata, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.JobName, entry.JobKind, entry.TaskType,
		toMsPtr(entry.ScheduledAt), toMs(entry.StartedAt), toMsPtr(entry.FinishedAt),
		entry.Duration.Milliseconds(), entry.Status, entry.RetryAttempt, entry.IsRetry,
		entry.ErrorMessage, entry.ErrorStack, entry.ErrorCode,
		entry.WorkerID, entry.Hostname,
		encodeJSON(entry.Payload), encodeJSON(entry.Result), encodeJSON(entry.Metadata),
		toMs(entry.ExpiresAt), toMs(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

func (s *Store) FinishExecutionLog(ctx context.Context, params storage.FinishLogParams) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_logs SET finished_at = ?, duration_ms = ? - started_at,
		 status = ?, result = ?, error_message = ?, error_stack = ?, error_code = ?,
		 metadata = CASE WHEN ? = '{}' THEN metadata ELSE ? END
		 WHERE id = ?`,
		toMs(params.FinishedAt), toMs(params.FinishedAt),
		params.Status, encodeJSON(params.Result),
		params.ErrorMessage, params.ErrorStack, params.ErrorCode,
		encodeJSON(params.Metadata), encodeJSON(params.Metadata),
		params.LogID)
	if err != nil {
		return fmt.Errorf("failed to finish execution log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrLogNotFound
	}
	return nil
}

func (s *Store) ListExecutionLogs(ctx context.Context, jobID string, limit int) ([]*domain.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, job_name, job_kind, task_type, scheduled_at, started_at, finished_at,
		 duration_ms, status, retry_attempt, is_retry, error_message, error_stack, error_code,
		 worker_id, hostname, payload, result, metadata, expires_at, created_at
		 FROM execution_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ExecutionLog
	for rows.Next() {
		var (
			entry                     domain.ExecutionLog
			scheduledAt, finishedAt   sql.NullInt64
			durationMs                int64
			payload, result, metadata string
			startedAt, expiresAt      int64
			createdAt                 int64
		)
		err := rows.Scan(
			&entry.ID, &entry.JobID, &entry.JobName, &entry.JobKind, &entry.TaskType,
			&scheduledAt, &startedAt, &finishedAt,
			&durationMs, &entry.Status, &entry.RetryAttempt, &entry.IsRetry,
			&entry.ErrorMessage, &entry.ErrorStack, &entry.ErrorCode,
			&entry.WorkerID, &entry.Hostname,
			&payload, &result, &metadata, &expiresAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		entry.ScheduledAt = fromMsPtr(scheduledAt)
		entry.StartedAt = fromMs(startedAt)
		entry.FinishedAt = fromMsPtr(finishedAt)
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entry.Payload = decodeMap(payload)
		entry.Result = decodeMap(result)
		entry.Metadata = decodeMap(metadata)
		entry.ExpiresAt = fromMs(expiresAt)
		entry.CreatedAt = fromMs(createdAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// === Aggregations ===

func (s *Store) JobStatsByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE is_active = 1 GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusCount
	for rows.Next() {
		var c domain.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) JobStatsByTaskType(ctx context.Context) ([]domain.TaskTypeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_type, COUNT(*) FROM jobs WHERE is_active = 1 GROUP BY task_type ORDER BY task_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by task type: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskTypeCount
	for rows.Next() {
		var c domain.TaskTypeCount
		if err := rows.Scan(&c.TaskType, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ExecutionHourlyHistogram(ctx context.Context, since time.Time) ([]domain.HourBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT (started_at / 3600000) * 3600000 AS hour, COUNT(*)
		 FROM execution_logs WHERE started_at >= ?
		 GROUP BY hour ORDER BY hour`,
		toMs(since))
	if err != nil {
		return nil, fmt.Errorf("failed to build histogram: %w", err)
	}
	defer rows.Close()

	var out []domain.HourBucket
	for rows.Next() {
		var (
			hourMs int64
			count  int64
		)
		if err := rows.Scan(&hourMs, &count); err != nil {
			return nil, err
		}
		out = append(out, domain.HourBucket{Hour: fromMs(hourMs), Count: count})
	}
	return out, rows.Err()
}

// === Named locks ===

func (s *Store) AcquireLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	nowMs := toMs(now)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks (lock_id, holder, acquired_at, expires_at, renew_count)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT (lock_id) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = CASE WHEN locks.holder = excluded.holder AND locks.expires_at > ?
				THEN locks.acquired_at ELSE excluded.acquired_at END,
			renew_count = CASE WHEN locks.holder = excluded.holder AND locks.expires_at > ?
				THEN locks.renew_count ELSE 0 END,
			expires_at = excluded.expires_at
		 WHERE locks.expires_at <= ? OR locks.holder = excluded.holder`,
		lockID, holder, nowMs, toMs(now.Add(ttl)),
		nowMs, nowMs, nowMs)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReleaseLock(ctx context.Context, lockID, holder string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE lock_id = ? AND holder = ?`, lockID, holder)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RenewLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE locks SET expires_at = ?, renew_count = renew_count + 1
		 WHERE lock_id = ? AND holder = ? AND expires_at > ?`,
		toMs(now.Add(ttl)), lockID, holder, toMs(now))
	if err != nil {
		return false, fmt.Errorf("failed to renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetLock(ctx context.Context, lockID string) (*domain.Lock, error) {
	var (
		lock                   domain.Lock
		acquiredMs, expiresMs  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT lock_id, holder, acquired_at, expires_at, renew_count FROM locks WHERE lock_id = ?`,
		lockID).Scan(&lock.LockID, &lock.Holder, &acquiredMs, &expiresMs, &lock.RenewCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	lock.AcquiredAt = fromMs(acquiredMs)
	lock.ExpiresAt = fromMs(expiresMs)
	return &lock, nil
}

// === Counters ===

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = value + 1
		 RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return value, nil
}

// === TTL ===

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (storage.PurgeResult, error) {
	var result storage.PurgeResult
	nowMs := toMs(now)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE expire_at IS NOT NULL AND expire_at <= ?`, nowMs)
	if err != nil {
		return result, fmt.Errorf("failed to purge jobs: %w", err)
	}
	result.Jobs, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM execution_logs WHERE expires_at <= ?`, nowMs)
	if err != nil {
		return result, fmt.Errorf("failed to purge execution logs: %w", err)
	}
	result.Logs, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE expires_at <= ?`, nowMs)
	if err != nil {
		return result, fmt.Errorf("failed to purge locks: %w", err)
	}
	result.Locks, _ = res.RowsAffected()

	return result, nil
}
