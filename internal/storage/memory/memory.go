// Package memory provides a mutex-guarded in-memory Store. It backs unit
// tests and single-process experiments; the conditional-update semantics
// match the SQL backends exactly, which the shared compliance suite pins.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job          // by surrogate id
	byJobID  map[string]string               // sequential id -> surrogate id
	logs     map[string]*domain.ExecutionLog // by log id
	locks    map[string]*domain.Lock
	counters map[string]int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*domain.Job),
		byJobID:  make(map[string]string),
		logs:     make(map[string]*domain.ExecutionLog),
		locks:    make(map[string]*domain.Lock),
		counters: make(map[string]int64),
	}
}

var _ storage.Store = (*Store)(nil)

// === Jobs ===

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	if err := storage.NormalizeNewJob(job, now); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job.ID = uuid.New().String()
	s.counters["job_id"]++
	job.JobID = formatSeq(s.counters["job_id"])

	s.jobs[job.ID] = cloneJob(job)
	s.byJobID[job.JobID] = job.ID
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) GetJobByJobID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byJobID[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *Store) ListJobs(_ context.Context, params domain.ListJobsParams) (*domain.JobPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Job
	for _, job := range s.jobs {
		if !params.IncludeInactive && !job.IsActive {
			continue
		}
		if params.Status != nil && job.Status != *params.Status {
			continue
		}
		if params.Kind != nil && job.Kind != *params.Kind {
			continue
		}
		if params.TaskType != nil && job.TaskType != *params.TaskType {
			continue
		}
		if params.CreatedBy != nil && job.CreatedBy != *params.CreatedBy {
			continue
		}
		if params.Tag != nil && !slices.Contains(job.Tags, *params.Tag) {
			continue
		}
		if params.DueBefore != nil && (job.NextRunAt == nil || job.NextRunAt.After(*params.DueBefore)) {
			continue
		}
		if params.Search != "" {
			needle := strings.ToLower(params.Search)
			if !strings.Contains(strings.ToLower(job.Name), needle) &&
				!strings.Contains(strings.ToLower(job.Description), needle) {
				continue
			}
		}
		matched = append(matched, job)
	}

	sortJobs(matched, params.OrderBy, params.OrderDir)

	total := len(matched)
	start := min(params.Offset, total)
	end := total
	if params.Limit > 0 {
		end = min(start+params.Limit, total)
	}

	page := make([]*domain.Job, 0, end-start)
	for _, job := range matched[start:end] {
		page = append(page, cloneJob(job))
	}
	return &domain.JobPage{Jobs: page, TotalCount: total, HasMore: end < total}, nil
}

func sortJobs(jobs []*domain.Job, orderBy, orderDir string) {
	desc := orderDir != "asc"
	less := func(a, b *domain.Job) bool {
		switch orderBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "next_run_at":
			at, bt := timeOrZero(a.NextRunAt), timeOrZero(b.NextRunAt)
			return at.Before(bt)
		case "priority":
			return a.Priority < b.Priority
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if desc {
			return less(jobs[j], jobs[i])
		}
		return less(jobs[i], jobs[j])
	})
}

func (s *Store) UpdateJobFields(_ context.Context, id string, upd storage.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
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
		job.Tags = slices.Clone(*upd.Tags)
	}
	if upd.Payload != nil {
		job.Payload = maps.Clone(*upd.Payload)
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
	return cloneJob(job), nil
}

func (s *Store) SetJobActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.IsActive = active
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// === Claim protocol ===

func (s *Store) ClaimNextDueJob(_ context.Context, workerID string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Job
	for _, job := range s.jobs {
		if !pickable(job, now) {
			continue
		}
		if best == nil || claimBefore(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = domain.JobStatusQueued
	best.LockedBy = &workerID
	lockedAt := now
	best.LockedAt = &lockedAt
	best.UpdatedAt = now
	return cloneJob(best), nil
}

func pickable(job *domain.Job, now time.Time) bool {
	if job.Status != domain.JobStatusScheduled || !job.IsActive {
		return false
	}
	if job.NextRunAt == nil || job.NextRunAt.After(now) {
		return false
	}
	if job.LockedBy == nil || job.LockedAt == nil {
		return true
	}
	return job.LockStale(now)
}

// claimBefore orders candidates: priority ascending, then oldest due first.
func claimBefore(a, b *domain.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return timeOrZero(a.NextRunAt).Before(timeOrZero(b.NextRunAt))
}

func (s *Store) ReleaseJob(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.LockedBy == nil || *job.LockedBy != workerID {
		return domain.ErrJobOwnershipLost
	}
	job.Status = domain.JobStatusScheduled
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ReleaseAllJobs(_ context.Context, workerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	now := time.Now().UTC()
	for _, job := range s.jobs {
		if job.LockedBy == nil || *job.LockedBy != workerID {
			continue
		}
		if job.Status != domain.JobStatusQueued && job.Status != domain.JobStatusRunning {
			continue
		}
		job.Status = domain.JobStatusScheduled
		job.LockedBy = nil
		job.LockedAt = nil
		job.UpdatedAt = now
		released++
	}
	return released, nil
}

func (s *Store) RecoverStaleJobs(_ context.Context, threshold time.Duration, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered int64
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusQueued && job.Status != domain.JobStatusRunning {
			continue
		}
		if job.LockedBy == nil || job.LockedAt == nil {
			continue
		}
		limit := threshold
		if limit <= 0 {
			limit = job.EffectiveLockTimeout()
		}
		if !job.LockedAt.Before(now.Add(-limit)) {
			continue
		}
		job.Status = domain.JobStatusScheduled
		job.LockedBy = nil
		job.LockedAt = nil
		if job.RetryCount < job.Retry.MaxRetries {
			job.RetryCount++
		}
		job.UpdatedAt = now
		recovered++
	}
	return recovered, nil
}

func (s *Store) CountDueJobs(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if pickable(job, now) {
			n++
		}
	}
	return n, nil
}

// === Execution transitions ===

// owned returns the job only when locked by workerID.
func (s *Store) owned(jobID, workerID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.LockedBy == nil || *job.LockedBy != workerID {
		return nil, domain.ErrJobOwnershipLost
	}
	return job, nil
}

func (s *Store) MarkJobRunning(_ context.Context, jobID, workerID string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(jobID, workerID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusQueued {
		return nil, domain.ErrJobOwnershipLost
	}
	job.Status = domain.JobStatusRunning
	lockedAt := now
	job.LockedAt = &lockedAt
	lastRun := now
	job.LastRunAt = &lastRun
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *Store) CompleteJob(_ context.Context, params storage.CompleteParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(params.JobID, params.WorkerID)
	if err != nil {
		return err
	}

	if params.NextRunAt != nil {
		job.Status = domain.JobStatusScheduled
		next := *params.NextRunAt
		job.NextRunAt = &next
	} else {
		job.Status = domain.JobStatusCompleted
		job.NextRunAt = nil
		if params.ExpireAt != nil {
			expire := *params.ExpireAt
			job.ExpireAt = &expire
		}
	}
	job.RetryCount = 0
	job.LastError = ""
	job.LastErrorStack = ""
	job.LastResult = maps.Clone(params.Result)
	job.ExecutionDuration = params.Duration
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = params.FinishedAt
	return nil
}

func (s *Store) RetryJob(_ context.Context, params storage.RetryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(params.JobID, params.WorkerID)
	if err != nil {
		return err
	}

	job.Status = domain.JobStatusScheduled
	next := params.NextRunAt
	job.NextRunAt = &next
	job.RetryCount++
	job.LastError = params.ErrorMessage
	job.LastErrorStack = params.ErrorStack
	job.ExecutionDuration = params.Duration
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = params.FinishedAt
	return nil
}

func (s *Store) FailJob(_ context.Context, params storage.FailParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(params.JobID, params.WorkerID)
	if err != nil {
		return err
	}

	job.Status = domain.JobStatusFailed
	job.NextRunAt = nil
	job.LastError = params.ErrorMessage
	job.LastErrorStack = params.ErrorStack
	job.ExecutionDuration = params.Duration
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = params.FinishedAt
	return nil
}

// === Dependencies ===

func (s *Store) ScheduleDependents(_ context.Context, parentID string, runAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, job := range s.jobs {
		if job.DependsOnJobID == nil || *job.DependsOnJobID != parentID {
			continue
		}
		if job.Status != domain.JobStatusWaiting {
			continue
		}
		job.Status = domain.JobStatusScheduled
		next := runAt
		job.NextRunAt = &next
		job.UpdatedAt = runAt
		n++
	}
	return n, nil
}

func (s *Store) BlockDependents(_ context.Context, parentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for _, job := range s.jobs {
		if job.DependsOnJobID == nil || *job.DependsOnJobID != parentID {
			continue
		}
		if job.Status != domain.JobStatusWaiting {
			continue
		}
		job.Status = domain.JobStatusBlocked
		if job.Metadata == nil {
			job.Metadata = map[string]any{}
		}
		job.Metadata["blockedBy"] = parentID
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

// === API transitions ===

func (s *Store) CancelJob(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	switch job.Status {
	case domain.JobStatusPending, domain.JobStatusScheduled, domain.JobStatusQueued:
	default:
		return nil, domain.ErrJobNotCancellable
	}
	job.Status = domain.JobStatusCancelled
	job.NextRunAt = nil
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *Store) PauseJob(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	switch job.Status {
	case domain.JobStatusPending, domain.JobStatusScheduled:
	default:
		return nil, domain.ErrJobNotPausable
	}
	job.Status = domain.JobStatusPaused
	pausedAt := now
	job.PausedAt = &pausedAt
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *Store) ResumeJob(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPaused {
		return nil, domain.ErrJobNotResumable
	}
	job.Status = domain.JobStatusScheduled
	job.PausedAt = nil
	if job.NextRunAt == nil {
		next := now
		job.NextRunAt = &next
	}
	job.UpdatedAt = now
	return cloneJob(job), nil
}

// === Execution logs ===

func (s *Store) InsertExecutionLog(_ context.Context, entry *domain.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.StartedAt.Add(domain.ExecutionLogTTL)
	}
	s.logs[entry.ID] = cloneLog(entry)
	return nil
}

func (s *Store) FinishExecutionLog(_ context.Context, params storage.FinishLogParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.logs[params.LogID]
	if !ok {
		return domain.ErrLogNotFound
	}
	finished := params.FinishedAt
	entry.FinishedAt = &finished
	entry.Duration = finished.Sub(entry.StartedAt)
	entry.Status = params.Status
	entry.Result = maps.Clone(params.Result)
	entry.ErrorMessage = params.ErrorMessage
	entry.ErrorStack = params.ErrorStack
	entry.ErrorCode = params.ErrorCode
	if params.Metadata != nil {
		entry.Metadata = maps.Clone(params.Metadata)
	}
	return nil
}

func (s *Store) ListExecutionLogs(_ context.Context, jobID string, limit int) ([]*domain.ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*domain.ExecutionLog
	for _, entry := range s.logs {
		if entry.JobID == jobID {
			entries = append(entries, cloneLog(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// === Aggregations ===

func (s *Store) JobStatsByStatus(_ context.Context) ([]domain.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.JobStatus]int64)
	for _, job := range s.jobs {
		if job.IsActive {
			counts[job.Status]++
		}
	}
	out := make([]domain.StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, domain.StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (s *Store) JobStatsByTaskType(_ context.Context) ([]domain.TaskTypeCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, job := range s.jobs {
		if job.IsActive {
			counts[job.TaskType]++
		}
	}
	out := make([]domain.TaskTypeCount, 0, len(counts))
	for taskType, n := range counts {
		out = append(out, domain.TaskTypeCount{TaskType: taskType, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out, nil
}

func (s *Store) ExecutionHourlyHistogram(_ context.Context, since time.Time) ([]domain.HourBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := make(map[time.Time]int64)
	for _, entry := range s.logs {
		if entry.StartedAt.Before(since) {
			continue
		}
		hour := entry.StartedAt.UTC().Truncate(time.Hour)
		buckets[hour]++
	}
	out := make([]domain.HourBucket, 0, len(buckets))
	for hour, n := range buckets {
		out = append(out, domain.HourBucket{Hour: hour, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}

// === Named locks ===

func (s *Store) AcquireLock(_ context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.locks[lockID]
	if ok && !existing.Expired(now) && existing.Holder != holder {
		return false, nil
	}

	renewCount := 0
	acquiredAt := now
	if ok && existing.Holder == holder && !existing.Expired(now) {
		// Renewal through acquire keeps the original acquisition time.
		renewCount = existing.RenewCount
		acquiredAt = existing.AcquiredAt
	}
	s.locks[lockID] = &domain.Lock{
		LockID:     lockID,
		Holder:     holder,
		AcquiredAt: acquiredAt,
		ExpiresAt:  now.Add(ttl),
		RenewCount: renewCount,
	}
	return true, nil
}

func (s *Store) ReleaseLock(_ context.Context, lockID, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockID]
	if !ok || existing.Holder != holder {
		return false, nil
	}
	delete(s.locks, lockID)
	return true, nil
}

func (s *Store) RenewLock(_ context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.locks[lockID]
	if !ok || existing.Holder != holder || existing.Expired(now) {
		return false, nil
	}
	existing.ExpiresAt = now.Add(ttl)
	existing.RenewCount++
	return true, nil
}

func (s *Store) GetLock(_ context.Context, lockID string) (*domain.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockID]
	if !ok {
		return nil, nil
	}
	clone := *existing
	return &clone, nil
}

// === Counters ===

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

// === TTL ===

func (s *Store) PurgeExpired(_ context.Context, now time.Time) (storage.PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result storage.PurgeResult
	for id, job := range s.jobs {
		if job.ExpireAt != nil && !job.ExpireAt.After(now) {
			delete(s.byJobID, job.JobID)
			delete(s.jobs, id)
			result.Jobs++
		}
	}
	for id, entry := range s.logs {
		if !entry.ExpiresAt.After(now) {
			delete(s.logs, id)
			result.Logs++
		}
	}
	for id, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, id)
			result.Locks++
		}
	}
	return result, nil
}

func (s *Store) Close() error { return nil }

// === Helpers ===

func formatSeq(n int64) string {
	return strconv.FormatInt(n, 10)
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	clone.Tags = slices.Clone(job.Tags)
	clone.Payload = maps.Clone(job.Payload)
	clone.LastResult = maps.Clone(job.LastResult)
	clone.Metadata = maps.Clone(job.Metadata)
	clone.ScheduleTime = cloneTime(job.ScheduleTime)
	clone.StartTime = cloneTime(job.StartTime)
	clone.EndTime = cloneTime(job.EndTime)
	clone.NextRunAt = cloneTime(job.NextRunAt)
	clone.LastRunAt = cloneTime(job.LastRunAt)
	clone.LockedAt = cloneTime(job.LockedAt)
	clone.ExpireAt = cloneTime(job.ExpireAt)
	clone.PausedAt = cloneTime(job.PausedAt)
	clone.LockedBy = cloneString(job.LockedBy)
	clone.DependsOnJobID = cloneString(job.DependsOnJobID)
	return &clone
}

func cloneLog(entry *domain.ExecutionLog) *domain.ExecutionLog {
	clone := *entry
	clone.Payload = maps.Clone(entry.Payload)
	clone.Result = maps.Clone(entry.Result)
	clone.Metadata = maps.Clone(entry.Metadata)
	clone.ScheduledAt = cloneTime(entry.ScheduledAt)
	clone.FinishedAt = cloneTime(entry.FinishedAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
