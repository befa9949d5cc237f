package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const jobColumns = `id, job_id, name, description, tags, timezone, created_by, kind,
schedule_time, cron_expression, interval_ms, start_time, end_time,
task_type, payload, priority, status, next_run_at, last_run_at,
retry_count, execution_duration_ms, last_error, last_error_stack, last_result,
max_retries, retry_delay_ms, max_retry_delay_ms, retry_strategy,
use_exponential_backoff, jitter_enabled, jitter_factor,
locked_by, locked_at, lock_timeout_ms, depends_on_job_id,
is_active, expire_at, paused_at, metadata, created_at, updated_at`

// staleLockCond matches rows whose lock has outlived the job's own timeout.
// The placeholder is the reference time.
func staleLockCond(placeholder string) string {
	return fmt.Sprintf(
		"(locked_by IS NULL OR locked_at IS NULL OR locked_at <= %s - (lock_timeout_ms * interval '1 millisecond'))",
		placeholder)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                                  domain.Job
		intervalMs, durationMs, retryDelayMs int64
		maxRetryDelayMs, lockTimeoutMs       int64
	)
	err := row.Scan(
		&job.ID, &job.JobID, &job.Name, &job.Description, &job.Tags, &job.Timezone, &job.CreatedBy, &job.Kind,
		&job.ScheduleTime, &job.CronExpression, &intervalMs, &job.StartTime, &job.EndTime,
		&job.TaskType, &job.Payload, &job.Priority, &job.Status, &job.NextRunAt, &job.LastRunAt,
		&job.RetryCount, &durationMs, &job.LastError, &job.LastErrorStack, &job.LastResult,
		&job.Retry.MaxRetries, &retryDelayMs, &maxRetryDelayMs, &job.Retry.Strategy,
		&job.Retry.UseExponentialBackoff, &job.Retry.JitterEnabled, &job.Retry.JitterFactor,
		&job.LockedBy, &job.LockedAt, &lockTimeoutMs, &job.DependsOnJobID,
		&job.IsActive, &job.ExpireAt, &job.PausedAt, &job.Metadata, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Interval = time.Duration(intervalMs) * time.Millisecond
	job.ExecutionDuration = time.Duration(durationMs) * time.Millisecond
	job.Retry.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	job.Retry.MaxRetryDelay = time.Duration(maxRetryDelayMs) * time.Millisecond
	job.LockTimeout = time.Duration(lockTimeoutMs) * time.Millisecond
	return &job, nil
}

func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func emptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// === Jobs ===

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	if err := storage.NormalizeNewJob(job, now); err != nil {
		return err
	}
	job.ID = uuid.New().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO counters (name, value) VALUES ('job_id', 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to mint job id: %w", err)
	}
	job.JobID = strconv.FormatInt(seq, 10)

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES
		 ($1, $2, $3, $4, $5, $6, $7, $8,
		  $9, $10, $11, $12, $13,
		  $14, $15, $16, $17, $18, $19,
		  $20, $21, $22, $23, $24,
		  $25, $26, $27, $28,
		  $29, $30, $31,
		  $32, $33, $34, $35,
		  $36, $37, $38, $39, $40, $41)`,
		job.ID, job.JobID, job.Name, job.Description, emptyTags(job.Tags), job.Timezone, job.CreatedBy, job.Kind,
		job.ScheduleTime, job.CronExpression, job.Interval.Milliseconds(), job.StartTime, job.EndTime,
		job.TaskType, emptyMap(job.Payload), job.Priority, job.Status, job.NextRunAt, job.LastRunAt,
		job.RetryCount, job.ExecutionDuration.Milliseconds(), job.LastError, job.LastErrorStack, emptyMap(job.LastResult),
		job.Retry.MaxRetries, job.Retry.RetryDelay.Milliseconds(), job.Retry.MaxRetryDelay.Milliseconds(), job.Retry.Strategy,
		job.Retry.UseExponentialBackoff, job.Retry.JitterEnabled, job.Retry.JitterFactor,
		job.LockedBy, job.LockedAt, job.LockTimeout.Milliseconds(), job.DependsOnJobID,
		job.IsActive, job.ExpireAt, job.PausedAt, emptyMap(job.Metadata), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) getJobBy(ctx context.Context, column, value string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+column+` = $1`, value)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !params.IncludeInactive {
		where = append(where, "is_active")
	}
	if params.Status != nil {
		where = append(where, "status = "+arg(*params.Status))
	}
	if params.Kind != nil {
		where = append(where, "kind = "+arg(*params.Kind))
	}
	if params.TaskType != nil {
		where = append(where, "task_type = "+arg(*params.TaskType))
	}
	if params.CreatedBy != nil {
		where = append(where, "created_by = "+arg(*params.CreatedBy))
	}
	if params.Tag != nil {
		where = append(where, arg(*params.Tag)+" = ANY(tags)")
	}
	if params.DueBefore != nil {
		where = append(where, "next_run_at IS NOT NULL AND next_run_at <= "+arg(*params.DueBefore))
	}
	if params.Search != "" {
		pattern := arg("%" + params.Search + "%")
		where = append(where, "(name ILIKE "+pattern+" OR description ILIKE "+pattern+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := "SELECT " + jobColumns + " FROM jobs" + clause + " ORDER BY " + orderClause(params)
	limit := params.Limit
	if limit <= 0 {
		limit = total
	}
	query += " LIMIT " + arg(limit) + " OFFSET " + arg(params.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
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

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET name = $1, description = $2, tags = $3, payload = $4,
		 priority = $5, timezone = $6, max_retries = $7, retry_delay_ms = $8, updated_at = $9
		 WHERE id = $10`,
		job.Name, job.Description, emptyTags(job.Tags), emptyMap(job.Payload),
		job.Priority, job.Timezone, job.Retry.MaxRetries, job.Retry.RetryDelay.Milliseconds(), job.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) SetJobActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// === Claim protocol ===

func (s *Store) ClaimNextDueJob(ctx context.Context, workerID string, now time.Time) (*domain.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SKIP LOCKED keeps concurrent claimers off the same row.
	var id string
	err = tx.QueryRow(ctx,
		`SELECT id FROM jobs
		 WHERE status = $1 AND is_active
		   AND next_run_at IS NOT NULL AND next_run_at <= $2
		   AND `+staleLockCond("$2")+`
		 ORDER BY priority ASC, next_run_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		domain.JobStatusScheduled, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE jobs SET status = $1, locked_by = $2, locked_at = $3, updated_at = $3
		 WHERE id = $4
		 RETURNING `+jobColumns,
		domain.JobStatusQueued, workerID, now, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return job, nil
}

func (s *Store) ownershipErr(ctx context.Context, jobID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, jobID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrJobOwnershipLost
}

func (s *Store) ReleaseJob(ctx context.Context, jobID, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = $2
		 WHERE id = $3 AND locked_by = $4`,
		domain.JobStatusScheduled, time.Now().UTC(), jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipErr(ctx, jobID)
	}
	return nil
}

func (s *Store) ReleaseAllJobs(ctx context.Context, workerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = $2
		 WHERE locked_by = $3 AND status IN ($4, $5)`,
		domain.JobStatusScheduled, time.Now().UTC(), workerID,
		domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to release jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RecoverStaleJobs(ctx context.Context, threshold time.Duration, now time.Time) (int64, error) {
	staleCond := staleLockCond("$3")
	args := []any{domain.JobStatusScheduled, now, now, domain.JobStatusQueued, domain.JobStatusRunning}
	if threshold > 0 {
		staleCond = "locked_at <= $3"
		args[2] = now.Add(-threshold)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, locked_by = NULL, locked_at = NULL,
		 retry_count = LEAST(retry_count + 1, max_retries), updated_at = $2
		 WHERE status IN ($4, $5) AND locked_by IS NOT NULL AND locked_at IS NOT NULL
		   AND `+staleCond,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountDueJobs(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE status = $1 AND is_active
		   AND next_run_at IS NOT NULL AND next_run_at <= $2
		   AND `+staleLockCond("$2"),
		domain.JobStatusScheduled, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due jobs: %w", err)
	}
	return n, nil
}

// === Execution transitions ===

func (s *Store) MarkJobRunning(ctx context.Context, jobID, workerID string, now time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, locked_at = $2, last_run_at = $2, updated_at = $2
		 WHERE id = $3 AND locked_by = $4 AND status = $5
		 RETURNING `+jobColumns,
		domain.JobStatusRunning, now, jobID, workerID, domain.JobStatusQueued)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.ownershipErr(ctx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark running: %w", err)
	}
	return job, nil
}

func (s *Store) CompleteJob(ctx context.Context, params storage.CompleteParams) error {
	status := domain.JobStatusCompleted
	if params.NextRunAt != nil {
		status = domain.JobStatusScheduled
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, next_run_at = $2, expire_at = $3,
		 retry_count = 0, last_error = '', last_error_stack = '', last_result = $4,
		 execution_duration_ms = $5, locked_by = NULL, locked_at = NULL, updated_at = $6
		 WHERE id = $7 AND locked_by = $8`,
		status, params.NextRunAt, params.ExpireAt,
		emptyMap(params.Result), params.Duration.Milliseconds(), params.FinishedAt,
		params.JobID, params.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipErr(ctx, params.JobID)
	}
	return nil
}

func (s *Store) RetryJob(ctx context.Context, params storage.RetryParams) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, next_run_at = $2, retry_count = retry_count + 1,
		 last_error = $3, last_error_stack = $4, execution_duration_ms = $5,
		 locked_by = NULL, locked_at = NULL, updated_at = $6
		 WHERE id = $7 AND locked_by = $8`,
		domain.JobStatusScheduled, params.NextRunAt,
		params.ErrorMessage, params.ErrorStack, params.Duration.Milliseconds(),
		params.FinishedAt,
		params.JobID, params.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipErr(ctx, params.JobID)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, params storage.FailParams) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, next_run_at = NULL,
		 last_error = $2, last_error_stack = $3, execution_duration_ms = $4,
		 locked_by = NULL, locked_at = NULL, updated_at = $5
		 WHERE id = $6 AND locked_by = $7`,
		domain.JobStatusFailed,
		params.ErrorMessage, params.ErrorStack, params.Duration.Milliseconds(),
		params.FinishedAt,
		params.JobID, params.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipErr(ctx, params.JobID)
	}
	return nil
}

// === Dependencies ===

func (s *Store) ScheduleDependents(ctx context.Context, parentID string, runAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, next_run_at = $2, updated_at = $2
		 WHERE depends_on_job_id = $3 AND status = $4`,
		domain.JobStatusScheduled, runAt, parentID, domain.JobStatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule dependents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) BlockDependents(ctx context.Context, parentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1,
		 metadata = metadata || jsonb_build_object('blockedBy', $2::text), updated_at = $3
		 WHERE depends_on_job_id = $4 AND status = $5`,
		domain.JobStatusBlocked, parentID, time.Now().UTC(),
		parentID, domain.JobStatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("failed to block dependents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// === API transitions ===

func (s *Store) transition(ctx context.Context, id, set string, from []domain.JobStatus, failErr error, args ...any) (*domain.Job, error) {
	queryArgs := append([]any{}, args...)
	queryArgs = append(queryArgs, id)
	idPos := len(queryArgs)
	placeholders := make([]string, len(from))
	for i, status := range from {
		queryArgs = append(queryArgs, status)
		placeholders[i] = "$" + strconv.Itoa(idPos+1+i)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET `+set+` WHERE id = $`+strconv.Itoa(idPos)+
			` AND status IN (`+strings.Join(placeholders, ", ")+`) RETURNING `+jobColumns,
		queryArgs...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, failErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}
	return job, nil
}

func (s *Store) CancelJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id,
		`status = $1, next_run_at = NULL, locked_by = NULL, locked_at = NULL, updated_at = $2`,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusScheduled, domain.JobStatusQueued},
		domain.ErrJobNotCancellable,
		domain.JobStatusCancelled, now)
}

func (s *Store) PauseJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id,
		`status = $1, paused_at = $2, updated_at = $2`,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusScheduled},
		domain.ErrJobNotPausable,
		domain.JobStatusPaused, now)
}

func (s *Store) ResumeJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(ctx, id,
		`status = $1, paused_at = NULL, next_run_at = COALESCE(next_run_at, $2), updated_at = $2`,
		[]domain.JobStatus{domain.JobStatusPaused},
		domain.ErrJobNotResumable,
		domain.JobStatusScheduled, now)
}

// === Execution logs ===

func (s *Store) InsertExecutionLog(ctx context.Context, entry *domain.ExecutionLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.StartedAt.Add(domain.ExecutionLogTTL)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_logs
		 (id, job_id, job_name, job_kind, task_type, scheduled_at, started_at, finished_at,
		  duration_ms, status, retry_attempt, is_retry, error_message, error_stack, error_code,
		  worker_id, hostname, payload, result, metadata, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		entry.ID, entry.JobID, entry.JobName, entry.JobKind, entry.TaskType,
		entry.ScheduledAt, entry.StartedAt, entry.FinishedAt,
		entry.Duration.Milliseconds(), entry.Status, entry.RetryAttempt, entry.IsRetry,
		entry.ErrorMessage, entry.ErrorStack, entry.ErrorCode,
		entry.WorkerID, entry.Hostname,
		emptyMap(entry.Payload), emptyMap(entry.Result), emptyMap(entry.Metadata),
		entry.ExpiresAt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

func (s *Store) FinishExecutionLog(ctx context.Context, params storage.FinishLogParams) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_logs SET finished_at = $1,
		 duration_ms = (EXTRACT(EPOCH FROM ($1::timestamptz - started_at)) * 1000)::bigint,
		 status = $2, result = $3, error_message = $4, error_stack = $5, error_code = $6,
		 metadata = CASE WHEN $7::jsonb = '{}'::jsonb THEN metadata ELSE $7::jsonb END
		 WHERE id = $8`,
		params.FinishedAt,
		params.Status, emptyMap(params.Result),
		params.ErrorMessage, params.ErrorStack, params.ErrorCode,
		emptyMap(params.Metadata),
		params.LogID)
	if err != nil {
		return fmt.Errorf("failed to finish execution log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLogNotFound
	}
	return nil
}

func (s *Store) ListExecutionLogs(ctx context.Context, jobID string, limit int) ([]*domain.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, job_name, job_kind, task_type, scheduled_at, started_at, finished_at,
		 duration_ms, status, retry_attempt, is_retry, error_message, error_stack, error_code,
		 worker_id, hostname, payload, result, metadata, expires_at, created_at
		 FROM execution_logs WHERE job_id = $1 ORDER BY started_at DESC LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ExecutionLog
	for rows.Next() {
		var (
			entry      domain.ExecutionLog
			durationMs int64
		)
		err := rows.Scan(
			&entry.ID, &entry.JobID, &entry.JobName, &entry.JobKind, &entry.TaskType,
			&entry.ScheduledAt, &entry.StartedAt, &entry.FinishedAt,
			&durationMs, &entry.Status, &entry.RetryAttempt, &entry.IsRetry,
			&entry.ErrorMessage, &entry.ErrorStack, &entry.ErrorCode,
			&entry.WorkerID, &entry.Hostname,
			&entry.Payload, &entry.Result, &entry.Metadata,
			&entry.ExpiresAt, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// === Aggregations ===

func (s *Store) JobStatsByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE is_active GROUP BY status ORDER BY status`)
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
	rows, err := s.pool.Query(ctx,
		`SELECT task_type, COUNT(*) FROM jobs WHERE is_active GROUP BY task_type ORDER BY task_type`)
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
	rows, err := s.pool.Query(ctx,
		`SELECT date_trunc('hour', started_at) AS hour, COUNT(*)
		 FROM execution_logs WHERE started_at >= $1
		 GROUP BY hour ORDER BY hour`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to build histogram: %w", err)
	}
	defer rows.Close()

	var out []domain.HourBucket
	for rows.Next() {
		var b domain.HourBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, err
		}
		b.Hour = b.Hour.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// === Named locks ===

func (s *Store) AcquireLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO locks (lock_id, holder, acquired_at, expires_at, renew_count)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (lock_id) DO UPDATE SET
			holder = EXCLUDED.holder,
			acquired_at = CASE WHEN locks.holder = EXCLUDED.holder AND locks.expires_at > $3
				THEN locks.acquired_at ELSE EXCLUDED.acquired_at END,
			renew_count = CASE WHEN locks.holder = EXCLUDED.holder AND locks.expires_at > $3
				THEN locks.renew_count ELSE 0 END,
			expires_at = EXCLUDED.expires_at
		 WHERE locks.expires_at <= $3 OR locks.holder = EXCLUDED.holder`,
		lockID, holder, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ReleaseLock(ctx context.Context, lockID, holder string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM locks WHERE lock_id = $1 AND holder = $2`, lockID, holder)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RenewLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE locks SET expires_at = $1, renew_count = renew_count + 1
		 WHERE lock_id = $2 AND holder = $3 AND expires_at > $4`,
		now.Add(ttl), lockID, holder, now)
	if err != nil {
		return false, fmt.Errorf("failed to renew lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetLock(ctx context.Context, lockID string) (*domain.Lock, error) {
	var lock domain.Lock
	err := s.pool.QueryRow(ctx,
		`SELECT lock_id, holder, acquired_at, expires_at, renew_count FROM locks WHERE lock_id = $1`,
		lockID).Scan(&lock.LockID, &lock.Holder, &lock.AcquiredAt, &lock.ExpiresAt, &lock.RenewCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	return &lock, nil
}

// === Counters ===

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO counters (name, value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return value, nil
}

// === TTL ===

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (storage.PurgeResult, error) {
	var result storage.PurgeResult

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE expire_at IS NOT NULL AND expire_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge jobs: %w", err)
	}
	result.Jobs = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM execution_logs WHERE expires_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge execution logs: %w", err)
	}
	result.Logs = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM locks WHERE expires_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge locks: %w", err)
	}
	result.Locks = tag.RowsAffected()

	return result, nil
}
