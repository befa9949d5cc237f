package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage/memory"
)

func testExecutor(store *memory.Store, registry *Registry) *Executor {
	return newExecutor(store, registry, "w1", "testhost", slog.Default(), newEvents(64), &stats{})
}

func createDueJob(t *testing.T, store *memory.Store, mutate func(*domain.Job)) *domain.Job {
	t.Helper()
	at := time.Now().UTC().Add(-time.Minute)
	job := &domain.Job{
		Name:         "executor test job",
		Kind:         domain.JobKindOneTime,
		TaskType:     "echo",
		ScheduleTime: &at,
		Retry:        domain.RetryPolicy{MaxRetries: domain.DefaultMaxRetries},
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func claimJob(t *testing.T, store *memory.Store) *domain.Job {
	t.Helper()
	job, err := store.ClaimNextDueJob(context.Background(), "w1", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestExecuteSuccess(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(_ context.Context, job *domain.Job) (map[string]any, error) {
		return map[string]any{"echoed": job.Payload["msg"]}, nil
	}))

	createDueJob(t, store, func(j *domain.Job) {
		j.Payload = map[string]any{"msg": "hello"}
	})
	claimed := claimJob(t, store)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	done, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, "hello", done.LastResult["echoed"])
	assert.Nil(t, done.LockedBy)
	assert.NotNil(t, done.ExpireAt)

	logs, err := store.ListExecutionLogs(ctx, claimed.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ExecutionStatusSuccess, logs[0].Status)
	assert.Equal(t, "w1", logs[0].WorkerID)
	assert.Equal(t, "testhost", logs[0].Hostname)
	assert.False(t, logs[0].IsRetry)
}

func TestExecuteRecurringReschedules(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, nil
	}))

	job := &domain.Job{
		Name:     "recurring executor job",
		Kind:     domain.JobKindRecurring,
		TaskType: "echo",
		Interval: time.Minute,
	}
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	rescheduled, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, rescheduled.Status)
	require.NotNil(t, rescheduled.NextRunAt)
	assert.True(t, rescheduled.NextRunAt.After(time.Now().UTC()))
	assert.Equal(t, 0, rescheduled.RetryCount)
}

func TestExecuteRetryableFailure(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))

	createDueJob(t, store, nil)
	claimed := claimJob(t, store)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "connection refused", job.LastError)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()), "backoff pushes the retry into the future")

	logs, err := store.ListExecutionLogs(ctx, claimed.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ExecutionStatusFailed, logs[0].Status)
	assert.Equal(t, domain.ErrorCodeNetwork, logs[0].ErrorCode)
}

func TestExecuteRetriesExhausted(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))
	executor := testExecutor(store, registry)

	createDueJob(t, store, func(j *domain.Job) {
		j.Retry.MaxRetries = 1
		j.Retry.RetryDelay = domain.MinRetryDelay
	})

	// First attempt schedules a retry.
	require.NoError(t, executor.Execute(ctx, claimJob(t, store)))

	// Second attempt exhausts the budget. Claim far in the future so the
	// backoff has elapsed.
	claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, executor.Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Nil(t, job.NextRunAt)

	logs, err := store.ListExecutionLogs(ctx, claimed.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].IsRetry)
}

func TestExecuteNonRetryableFailure(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("validation failed: bad input")
	}))

	createDueJob(t, store, nil)
	claimed := claimJob(t, store)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount, "non-retryable errors skip the retry budget")
}

func TestExecuteNoHandler(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	createDueJob(t, store, nil)
	claimed := claimJob(t, store)

	require.NoError(t, testExecutor(store, NewRegistry()).Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.LastError, "no handler registered")
}

func TestExecutePanic(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		panic("boom")
	}))

	createDueJob(t, store, nil)
	claimed := claimJob(t, store)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.LastError, "panic: boom")
	assert.NotEmpty(t, job.LastErrorStack)
}

func TestExecuteTimeout(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(ctx context.Context, _ *domain.Job) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	createDueJob(t, store, func(j *domain.Job) {
		j.LockTimeout = 50 * time.Millisecond
	})
	claimed := claimJob(t, store)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, job.Status, "timeouts are retryable")
	assert.Equal(t, 1, job.RetryCount)

	logs, err := store.ListExecutionLogs(ctx, claimed.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ExecutionStatusTimeout, logs[0].Status)
}

func TestExecuteDependentFanOut(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, nil
	}))
	require.NoError(t, registry.Register("boom", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("validation failed")
	}))

	parent := createDueJob(t, store, nil)
	child := createDueJob(t, store, func(j *domain.Job) {
		j.Name = "dependent child"
		j.DependsOnJobID = &parent.ID
	})
	require.Equal(t, domain.JobStatusWaiting, child.Status)

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimJob(t, store)))

	scheduled, err := store.GetJob(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, scheduled.Status)

	// A failing parent blocks its children instead.
	failParent := createDueJob(t, store, func(j *domain.Job) {
		j.Name = fmt.Sprintf("failing parent %d", time.Now().UnixNano())
		j.TaskType = "boom"
		j.Priority = domain.MinPriority
	})
	blockedChild := createDueJob(t, store, func(j *domain.Job) {
		j.Name = "blocked child"
		j.DependsOnJobID = &failParent.ID
	})

	claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, failParent.ID, claimed.ID)
	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	blocked, err := store.GetJob(ctx, blockedChild.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusBlocked, blocked.Status)
}

func TestFirstRetryWaitsBaseDelay(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))

	createDueJob(t, store, func(j *domain.Job) {
		j.Retry = domain.RetryPolicy{
			MaxRetries: 5,
			RetryDelay: 2 * time.Second,
			Strategy:   domain.RetryStrategyExponential,
		}
	})
	claimed := claimJob(t, store)

	before := time.Now().UTC()
	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	job, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt)
	delay := job.NextRunAt.Sub(before)
	assert.GreaterOrEqual(t, delay, 2*time.Second)
	assert.Less(t, delay, 4*time.Second, "first retry waits the base delay, not the doubled one")
}

func TestRetryLogCarriesRetryMetadata(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))

	createDueJob(t, store, nil)
	claimed := claimJob(t, store)
	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimed))

	logs, err := store.ListExecutionLogs(ctx, claimed.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	meta := logs[0].Metadata
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["willRetry"])
	assert.Equal(t, 2, meta["remainingRetries"])
	assert.NotEmpty(t, meta["retryDelay"])
	assert.NotNil(t, meta["nextRetryAt"])
}

func TestZeroRetryBudgetFailsImmediately(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))

	parent := createDueJob(t, store, func(j *domain.Job) {
		j.Retry.MaxRetries = 0
	})
	child := createDueJob(t, store, func(j *domain.Job) {
		j.Name = "dependent child"
		j.DependsOnJobID = &parent.ID
	})

	require.NoError(t, testExecutor(store, registry).Execute(ctx, claimJob(t, store)))

	job, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)

	logs, err := store.ListExecutionLogs(ctx, parent.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1, "a zero budget means a single attempt")
	meta := logs[0].Metadata
	require.NotNil(t, meta)
	assert.Equal(t, false, meta["willRetry"])
	assert.Equal(t, 0, meta["remainingRetries"])
	assert.Equal(t, int64(1), meta["blockedDependents"])

	blocked, err := store.GetJob(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusBlocked, blocked.Status)
}

func TestExecutorStatsAndEventPayloads(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var calls int
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		calls++
		time.Sleep(2 * time.Millisecond)
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return map[string]any{"ok": true}, nil
	}))

	ev := newEvents(64)
	st := &stats{}
	executor := newExecutor(store, registry, "w1", "testhost", slog.Default(), ev, st)

	createDueJob(t, store, func(j *domain.Job) {
		j.Retry.RetryDelay = domain.MinRetryDelay
	})
	require.NoError(t, executor.Execute(ctx, claimJob(t, store)))

	// Claim past the backoff so the retry attempt runs.
	claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, executor.Execute(ctx, claimed))

	snap := st.snapshot()
	assert.EqualValues(t, 1, snap.JobsCompleted)
	assert.EqualValues(t, 1, snap.JobsRetried)
	assert.EqualValues(t, 1, snap.SuccessfulRetries)
	assert.Equal(t, 1.0, snap.RetrySuccessRate)
	assert.Greater(t, snap.TotalExecutionTime, time.Duration(0))
	assert.Greater(t, snap.AvgExecutionTime, time.Duration(0))

	var retryEv, completeEv *Event
	for len(ev.ch) > 0 {
		e := <-ev.ch
		switch e.Type {
		case EventJobRetry:
			retryEv = &e
		case EventJobComplete:
			completeEv = &e
		}
	}
	require.NotNil(t, retryEv)
	assert.Equal(t, 1, retryEv.Attempt)
	assert.Equal(t, 2, retryEv.Remaining)
	assert.False(t, retryEv.NextRetryAt.IsZero())
	assert.NotEmpty(t, retryEv.Err)

	require.NotNil(t, completeEv)
	assert.Equal(t, true, completeEv.Result["ok"])
	assert.Greater(t, completeEv.Duration, time.Duration(0))
}
