// Package compliance holds the shared contract tests every Store backend
// must pass. Backend packages call Run from their own _test.go with a
// factory that yields a fresh store.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

func oneTimeJob(at time.Time) *domain.Job {
	return &domain.Job{
		Name:         "compliance one-time",
		Kind:         domain.JobKindOneTime,
		TaskType:     "echo",
		ScheduleTime: &at,
		Retry:        domain.RetryPolicy{MaxRetries: domain.DefaultMaxRetries},
	}
}

func intervalJob(interval time.Duration) *domain.Job {
	return &domain.Job{
		Name:     "compliance recurring",
		Kind:     domain.JobKindRecurring,
		TaskType: "echo",
		Interval: interval,
		Retry:    domain.RetryPolicy{MaxRetries: domain.DefaultMaxRetries},
	}
}

// dueJob creates a one-time job already due for claiming.
func dueJob(t *testing.T, ctx context.Context, store storage.Store) *domain.Job {
	t.Helper()
	job := oneTimeJob(time.Now().UTC().Add(-time.Minute))
	require.NoError(t, store.CreateJob(ctx, job))
	return job
}

func claim(t *testing.T, ctx context.Context, store storage.Store, workerID string) *domain.Job {
	t.Helper()
	job, err := store.ClaimNextDueJob(ctx, workerID, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

// Run exercises the full Store contract against a backend. setup must
// return a clean store and a teardown func.
func Run(t *testing.T, setup func(t *testing.T) (storage.Store, func())) {
	t.Run("CreateAndGet", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := dueJob(t, ctx, store)
		assert.NotEmpty(t, job.ID)
		assert.NotEmpty(t, job.JobID)
		assert.Equal(t, domain.JobStatusScheduled, job.Status)
		require.NotNil(t, job.NextRunAt)
		assert.Equal(t, domain.DefaultPriority, job.Priority)
		assert.True(t, job.IsActive)

		fetched, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, fetched.ID)
		assert.Equal(t, job.Name, fetched.Name)

		bySeq, err := store.GetJobByJobID(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, bySeq.ID)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()

		job := oneTimeJob(time.Now().UTC())
		job.Name = "ab"
		err := store.CreateJob(context.Background(), job)
		require.ErrorIs(t, err, domain.ErrInvalidJob)
	})

	t.Run("SequentialJobIDs", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		first := dueJob(t, ctx, store)
		second := dueJob(t, ctx, store)
		assert.NotEqual(t, first.JobID, second.JobID)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()

		_, err := store.GetJob(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("ListJobsFilterAndPage", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		for range 3 {
			dueJob(t, ctx, store)
		}
		other := intervalJob(time.Hour)
		other.TaskType = "report"
		require.NoError(t, store.CreateJob(ctx, other))

		taskType := "echo"
		page, err := store.ListJobs(ctx, domain.ListJobsParams{TaskType: &taskType, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page.Jobs, 2)
		assert.Equal(t, 3, page.TotalCount)
		assert.True(t, page.HasMore)

		page, err = store.ListJobs(ctx, domain.ListJobsParams{TaskType: &taskType, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, page.Jobs, 1)
		assert.False(t, page.HasMore)
	})

	t.Run("UpdateJobFields", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := dueJob(t, ctx, store)

		name := "renamed job"
		priority := 2
		updated, err := store.UpdateJobFields(ctx, job.ID, storage.JobUpdate{Name: &name, Priority: &priority})
		require.NoError(t, err)
		assert.Equal(t, name, updated.Name)
		assert.Equal(t, priority, updated.Priority)
	})

	t.Run("UpdateTerminalJobRejected", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := dueJob(t, ctx, store)
		_, err := store.CancelJob(ctx, job.ID, time.Now().UTC())
		require.NoError(t, err)

		name := "too late"
		_, err = store.UpdateJobFields(ctx, job.ID, storage.JobUpdate{Name: &name})
		require.ErrorIs(t, err, domain.ErrJobTerminal)
	})

	t.Run("ZeroRetryBudgetStoredVerbatim", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := oneTimeJob(time.Now().UTC().Add(-time.Minute))
		job.Retry.MaxRetries = 0
		require.NoError(t, store.CreateJob(ctx, job))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Retry.MaxRetries, "explicit zero budget must survive creation")
	})

	t.Run("SetJobActiveHidesFromClaim", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := dueJob(t, ctx, store)
		require.NoError(t, store.SetJobActive(ctx, job.ID, false))

		claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC())
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})

	t.Run("ClaimMovesToQueued", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")
		assert.Equal(t, job.ID, claimed.ID)
		assert.Equal(t, domain.JobStatusQueued, claimed.Status)
		require.NotNil(t, claimed.LockedBy)
		assert.Equal(t, "w1", *claimed.LockedBy)
		assert.NotNil(t, claimed.LockedAt)
	})

	t.Run("ClaimRespectsPriority", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		low := oneTimeJob(time.Now().UTC().Add(-2 * time.Minute))
		low.Priority = 8
		require.NoError(t, store.CreateJob(ctx, low))

		high := oneTimeJob(time.Now().UTC().Add(-time.Minute))
		high.Priority = 1
		require.NoError(t, store.CreateJob(ctx, high))

		claimed := claim(t, ctx, store, "w1")
		assert.Equal(t, high.ID, claimed.ID)
	})

	t.Run("ClaimExcludesHeldJob", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		claim(t, ctx, store, "w1")

		second, err := store.ClaimNextDueJob(ctx, "w2", time.Now().UTC())
		require.NoError(t, err)
		assert.Nil(t, second)
	})

	t.Run("ClaimNothingDue", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := oneTimeJob(time.Now().UTC().Add(time.Hour))
		require.NoError(t, store.CreateJob(ctx, job))

		claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC())
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})

	t.Run("MarkRunningAndOwnership", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")

		_, err := store.MarkJobRunning(ctx, claimed.ID, "w2", time.Now().UTC())
		require.ErrorIs(t, err, domain.ErrJobOwnershipLost)

		running, err := store.MarkJobRunning(ctx, claimed.ID, "w1", time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, running.Status)
		assert.NotNil(t, running.LastRunAt)
	})

	t.Run("CompleteOneTime", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")
		_, err := store.MarkJobRunning(ctx, claimed.ID, "w1", now)
		require.NoError(t, err)

		expire := now.Add(domain.CompletedJobTTL)
		err = store.CompleteJob(ctx, storage.CompleteParams{
			JobID:      claimed.ID,
			WorkerID:   "w1",
			FinishedAt: now,
			Duration:   250 * time.Millisecond,
			Result:     map[string]any{"ok": true},
			ExpireAt:   &expire,
		})
		require.NoError(t, err)

		done, err := store.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, done.Status)
		assert.Nil(t, done.NextRunAt)
		assert.Nil(t, done.LockedBy)
		assert.NotNil(t, done.ExpireAt)
		assert.Equal(t, 0, done.RetryCount)
	})

	t.Run("CompleteRecurringReschedules", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		job := intervalJob(time.Second)
		require.NoError(t, store.CreateJob(ctx, job))

		claimed, err := store.ClaimNextDueJob(ctx, "w1", now.Add(2*time.Second))
		require.NoError(t, err)
		require.NotNil(t, claimed)
		_, err = store.MarkJobRunning(ctx, claimed.ID, "w1", now)
		require.NoError(t, err)

		next := now.Add(time.Minute)
		err = store.CompleteJob(ctx, storage.CompleteParams{
			JobID:      claimed.ID,
			WorkerID:   "w1",
			FinishedAt: now,
			NextRunAt:  &next,
		})
		require.NoError(t, err)

		rescheduled, err := store.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusScheduled, rescheduled.Status)
		require.NotNil(t, rescheduled.NextRunAt)
		assert.WithinDuration(t, next, *rescheduled.NextRunAt, time.Second)
	})

	t.Run("CompleteOwnershipLost", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")

		err := store.CompleteJob(ctx, storage.CompleteParams{
			JobID:      claimed.ID,
			WorkerID:   "w2",
			FinishedAt: time.Now().UTC(),
		})
		require.ErrorIs(t, err, domain.ErrJobOwnershipLost)
	})

	t.Run("RetryIncrementsCount", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")
		_, err := store.MarkJobRunning(ctx, claimed.ID, "w1", now)
		require.NoError(t, err)

		err = store.RetryJob(ctx, storage.RetryParams{
			JobID:        claimed.ID,
			WorkerID:     "w1",
			FinishedAt:   now,
			ErrorMessage: "connection refused",
			NextRunAt:    now.Add(time.Minute),
		})
		require.NoError(t, err)

		job, err := store.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusScheduled, job.Status)
		assert.Equal(t, 1, job.RetryCount)
		assert.Equal(t, "connection refused", job.LastError)
		assert.Nil(t, job.LockedBy)
	})

	t.Run("FailTerminal", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")
		_, err := store.MarkJobRunning(ctx, claimed.ID, "w1", now)
		require.NoError(t, err)

		err = store.FailJob(ctx, storage.FailParams{
			JobID:        claimed.ID,
			WorkerID:     "w1",
			FinishedAt:   now,
			ErrorMessage: "validation failed",
		})
		require.NoError(t, err)

		job, err := store.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Nil(t, job.NextRunAt)
		assert.Nil(t, job.LockedBy)
	})

	t.Run("ReleaseJob", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")

		require.ErrorIs(t, store.ReleaseJob(ctx, claimed.ID, "w2"), domain.ErrJobOwnershipLost)
		require.NoError(t, store.ReleaseJob(ctx, claimed.ID, "w1"))

		job, err := store.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusScheduled, job.Status)
		assert.Nil(t, job.LockedBy)
	})

	t.Run("ReleaseAllJobs", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		dueJob(t, ctx, store)
		claim(t, ctx, store, "w1")
		claim(t, ctx, store, "w1")

		released, err := store.ReleaseAllJobs(ctx, "w1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, released)

		due, err := store.CountDueJobs(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.EqualValues(t, 2, due)
	})

	t.Run("RecoverStaleJobs", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "crashed")

		// Fresh lock is not recovered.
		recovered, err := store.RecoverStaleJobs(ctx, time.Minute, time.Now().UTC())
		require.NoError(t, err)
		assert.Zero(t, recovered)

		// Far future: the lock is older than the threshold.
		recovered, err = store.RecoverStaleJobs(ctx, time.Minute, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, recovered)

		job, err := store.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusScheduled, job.Status)
		assert.Nil(t, job.LockedBy)
		assert.Equal(t, 1, job.RetryCount)
	})

	t.Run("RecoverStaleUsesJobTimeout", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job := oneTimeJob(time.Now().UTC().Add(-time.Minute))
		job.LockTimeout = time.Second
		require.NoError(t, store.CreateJob(ctx, job))
		claim(t, ctx, store, "crashed")

		recovered, err := store.RecoverStaleJobs(ctx, 0, time.Now().UTC().Add(5*time.Second))
		require.NoError(t, err)
		assert.EqualValues(t, 1, recovered)
	})

	t.Run("Dependencies", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		parent := dueJob(t, ctx, store)

		child := oneTimeJob(now)
		child.Name = "dependent child"
		child.DependsOnJobID = &parent.ID
		require.NoError(t, store.CreateJob(ctx, child))
		assert.Equal(t, domain.JobStatusWaiting, child.Status)
		assert.Nil(t, child.NextRunAt)

		scheduled, err := store.ScheduleDependents(ctx, parent.ID, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, scheduled)

		got, err := store.GetJob(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusScheduled, got.Status)
		require.NotNil(t, got.NextRunAt)
	})

	t.Run("BlockDependents", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		parent := dueJob(t, ctx, store)

		child := oneTimeJob(time.Now().UTC())
		child.Name = "dependent child"
		child.DependsOnJobID = &parent.ID
		require.NoError(t, store.CreateJob(ctx, child))

		blocked, err := store.BlockDependents(ctx, parent.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, blocked)

		got, err := store.GetJob(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusBlocked, got.Status)
	})

	t.Run("CancelPauseResume", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		job := dueJob(t, ctx, store)

		paused, err := store.PauseJob(ctx, job.ID, now)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPaused, paused.Status)
		assert.NotNil(t, paused.PausedAt)

		_, err = store.PauseJob(ctx, job.ID, now)
		require.ErrorIs(t, err, domain.ErrJobNotPausable)

		resumed, err := store.ResumeJob(ctx, job.ID, now)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusScheduled, resumed.Status)
		assert.Nil(t, resumed.PausedAt)

		cancelled, err := store.CancelJob(ctx, job.ID, now)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)
		assert.Nil(t, cancelled.NextRunAt)

		_, err = store.CancelJob(ctx, job.ID, now)
		require.ErrorIs(t, err, domain.ErrJobNotCancellable)
	})

	t.Run("ExecutionLogs", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		job := dueJob(t, ctx, store)

		first := &domain.ExecutionLog{
			JobID:     job.ID,
			JobName:   job.Name,
			JobKind:   job.Kind,
			TaskType:  job.TaskType,
			StartedAt: now.Add(-time.Minute),
			Status:    domain.ExecutionStatusRunning,
			WorkerID:  "w1",
		}
		require.NoError(t, store.InsertExecutionLog(ctx, first))
		assert.NotEmpty(t, first.ID)
		assert.False(t, first.ExpiresAt.IsZero())

		second := &domain.ExecutionLog{
			JobID:     job.ID,
			StartedAt: now,
			Status:    domain.ExecutionStatusRunning,
			WorkerID:  "w1",
		}
		require.NoError(t, store.InsertExecutionLog(ctx, second))

		err := store.FinishExecutionLog(ctx, storage.FinishLogParams{
			LogID:      second.ID,
			FinishedAt: now.Add(time.Second),
			Status:     domain.ExecutionStatusSuccess,
			Result:     map[string]any{"ok": true},
		})
		require.NoError(t, err)

		logs, err := store.ListExecutionLogs(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, second.ID, logs[0].ID, "newest first")
		assert.Equal(t, domain.ExecutionStatusSuccess, logs[0].Status)
		require.NotNil(t, logs[0].FinishedAt)
		assert.Equal(t, time.Second, logs[0].Duration)
	})

	t.Run("Stats", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		dueJob(t, ctx, store)
		dueJob(t, ctx, store)

		byStatus, err := store.JobStatsByStatus(ctx)
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, domain.JobStatusScheduled, byStatus[0].Status)
		assert.EqualValues(t, 2, byStatus[0].Count)

		byType, err := store.JobStatsByTaskType(ctx)
		require.NoError(t, err)
		require.Len(t, byType, 1)
		assert.Equal(t, "echo", byType[0].TaskType)
	})

	t.Run("NamedLocks", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		ok, err := store.AcquireLock(ctx, "compliance:lock", "h1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.AcquireLock(ctx, "compliance:lock", "h2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "held lock must not be stolen")

		ok, err = store.RenewLock(ctx, "compliance:lock", "h1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.RenewLock(ctx, "compliance:lock", "h2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		lock, err := store.GetLock(ctx, "compliance:lock")
		require.NoError(t, err)
		require.NotNil(t, lock)
		assert.Equal(t, "h1", lock.Holder)
		assert.Equal(t, 1, lock.RenewCount)

		ok, err = store.ReleaseLock(ctx, "compliance:lock", "h2")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.ReleaseLock(ctx, "compliance:lock", "h1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.AcquireLock(ctx, "compliance:lock", "h2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "released lock is free")
	})

	t.Run("NextSequence", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		first, err := store.NextSequence(ctx, "compliance_seq")
		require.NoError(t, err)
		assert.EqualValues(t, 1, first)

		second, err := store.NextSequence(ctx, "compliance_seq")
		require.NoError(t, err)
		assert.EqualValues(t, 2, second)
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()
		now := time.Now().UTC()

		dueJob(t, ctx, store)
		claimed := claim(t, ctx, store, "w1")
		_, err := store.MarkJobRunning(ctx, claimed.ID, "w1", now)
		require.NoError(t, err)

		expire := now.Add(-time.Minute)
		require.NoError(t, store.CompleteJob(ctx, storage.CompleteParams{
			JobID:      claimed.ID,
			WorkerID:   "w1",
			FinishedAt: now,
			ExpireAt:   &expire,
		}))

		entry := &domain.ExecutionLog{
			JobID:     claimed.ID,
			StartedAt: now,
			Status:    domain.ExecutionStatusSuccess,
			ExpiresAt: now.Add(-time.Minute),
		}
		require.NoError(t, store.InsertExecutionLog(ctx, entry))

		result, err := store.PurgeExpired(ctx, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, result.Jobs)
		assert.EqualValues(t, 1, result.Logs)

		_, err = store.GetJob(ctx, claimed.ID)
		require.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}
