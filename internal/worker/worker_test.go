package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage/memory"
)

func fastConfig(workerID string) Config {
	cfg := DefaultConfig(workerID)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StaleCheckInterval = 20 * time.Millisecond
	cfg.DrainTimeout = time.Second
	return cfg
}

func TestWorkerRunsDueJobs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var executed atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		executed.Add(1)
		return nil, nil
	}))

	for range 3 {
		createDueJob(t, store, nil)
	}

	w := New(store, registry, fastConfig("w1"), nil)
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	require.Eventually(t, func() bool {
		return executed.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap := w.Stats()
		return snap.JobsCompleted == 3 && snap.ActiveJobs == 0
	}, 2*time.Second, 10*time.Millisecond)

	snap := w.Stats()
	assert.EqualValues(t, 3, snap.JobsClaimed)
	assert.Zero(t, snap.JobsFailed)
	assert.Equal(t, StateRunning, snap.State)
}

func TestWorkerConcurrencyBound(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var current, peak atomic.Int64
	release := make(chan struct{})
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(ctx context.Context, _ *domain.Job) (map[string]any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer current.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}))

	for range 5 {
		createDueJob(t, store, nil)
	}

	cfg := fastConfig("w1")
	cfg.Concurrency = 2
	w := New(store, registry, cfg, nil)
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	require.Eventually(t, func() bool {
		return current.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// With both slots busy nothing else starts.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, peak.Load())

	close(release)
	require.Eventually(t, func() bool {
		return w.Stats().JobsCompleted == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, peak.Load())
}

func TestWorkerPauseResume(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var executed atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		executed.Add(1)
		return nil, nil
	}))

	w := New(store, registry, fastConfig("w1"), nil)
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	w.Pause()
	assert.Equal(t, StatePaused, w.State())

	createDueJob(t, store, nil)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, executed.Load(), "paused worker must not claim")

	w.Resume()
	require.Eventually(t, func() bool {
		return executed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerStopReleasesHeldJobs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	started := make(chan struct{}, 1)
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(ctx context.Context, _ *domain.Job) (map[string]any, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	job := createDueJob(t, store, nil)

	cfg := fastConfig("w1")
	cfg.DrainTimeout = 50 * time.Millisecond
	w := New(store, registry, cfg, nil)
	require.NoError(t, w.Start(ctx))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, StateStopped, w.State())

	// The in-flight job went back to the pool for another worker.
	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		return got.Status == domain.JobStatusScheduled && got.LockedBy == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerRecoversStaleLocks(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var executed atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		executed.Add(1)
		return nil, nil
	}))

	// A crashed worker left this job claimed with an ancient lock.
	job := createDueJob(t, store, func(j *domain.Job) {
		j.LockTimeout = time.Millisecond
	})
	claimed, err := store.ClaimNextDueJob(ctx, "crashed", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	time.Sleep(10 * time.Millisecond)

	w := New(store, registry, fastConfig("w1"), nil)
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	require.Eventually(t, func() bool {
		return executed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerEvents(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(context.Context, *domain.Job) (map[string]any, error) {
		return nil, nil
	}))

	w := New(store, registry, fastConfig("w1"), nil)
	events := w.Events()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	createDueJob(t, store, nil)

	seen := make(map[EventType]bool)
	deadline := time.After(2 * time.Second)
	for !seen[EventJobComplete] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("missing job:complete event, saw %v", seen)
		}
	}
	assert.True(t, seen[EventStarted])
	assert.True(t, seen[EventJobStart])
}

func TestWorkerDoubleStart(t *testing.T) {
	store := memory.New()
	w := New(store, NewRegistry(), fastConfig("w1"), nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	require.Error(t, w.Start(context.Background()))
}

func TestGenerateWorkerID(t *testing.T) {
	a := GenerateWorkerID()
	b := GenerateWorkerID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
