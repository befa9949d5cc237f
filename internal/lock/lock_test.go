package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage/memory"
)

func TestAcquireRelease(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := NewManager(store, "worker-a", nil)
	b := NewManager(store, "worker-b", nil)

	ok, err := a.Acquire(ctx, "chronos:janitor", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "chronos:janitor", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not transfer")

	held, err := a.IsHeldByMe(ctx, "chronos:janitor")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, a.Release(ctx, "chronos:janitor"))

	ok, err = b.Acquire(ctx, "chronos:janitor", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseNotHeld(t *testing.T) {
	store := memory.New()
	m := NewManager(store, "worker-a", nil)

	err := m.Release(context.Background(), "chronos:janitor")
	require.ErrorIs(t, err, domain.ErrLockNotHeld)
}

func TestRenewLostLock(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m := NewManager(store, "worker-a", nil)

	// Never acquired, so renewal must fail.
	err := m.Renew(ctx, "chronos:janitor", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockNotHeld)
}

func TestReleaseAll(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := NewManager(store, "worker-a", nil)
	for _, id := range []string{"lock-1", "lock-2"} {
		ok, err := a.Acquire(ctx, id, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}

	a.ReleaseAll(ctx)

	b := NewManager(store, "worker-b", nil)
	for _, id := range []string{"lock-1", "lock-2"} {
		ok, err := b.Acquire(ctx, id, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestWithLock(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := NewManager(store, "worker-a", nil)
	b := NewManager(store, "worker-b", nil)

	var ran bool
	held, err := a.WithLock(ctx, "chronos:janitor", time.Minute, func(ctx context.Context) error {
		ran = true

		// Contender is skipped while the lock is held.
		otherHeld, err := b.WithLock(ctx, "chronos:janitor", time.Minute, func(context.Context) error {
			t.Fatal("must not run while lock is held")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, otherHeld)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, ran)

	// Released afterwards.
	held, err = b.WithLock(ctx, "chronos:janitor", time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, held)
}

func TestAcquireWithRenewal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m := NewManager(store, "worker-a", nil)

	stop, lost, ok, err := m.AcquireWithRenewal(ctx, "chronos:janitor", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-lost:
		t.Fatal("lock must not be lost while renewing")
	default:
	}

	stop()
	require.NoError(t, m.Release(ctx, "chronos:janitor"))
}
