// Package lock provides named distributed locks on top of the store's
// conditional lock operations. Locks have a TTL and must be renewed; a
// holder that stops renewing loses the lock when it expires, so a crashed
// process never wedges the system.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

// DefaultTTL is used when a caller passes a non-positive TTL.
const DefaultTTL = 30 * time.Second

// Manager acquires and maintains named locks for one holder identity.
type Manager struct {
	store  storage.Store
	holder string
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewManager creates a manager whose locks are held under the given holder
// identity (normally the worker id).
func NewManager(store storage.Store, holder string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		holder: holder,
		logger: logger,
		held:   make(map[string]struct{}),
	}
}

// Holder returns the identity this manager locks under.
func (m *Manager) Holder() string {
	return m.holder
}

// Acquire tries to take the named lock. Returns false without error when
// another holder has it.
func (m *Manager) Acquire(ctx context.Context, lockID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := m.store.AcquireLock(ctx, lockID, m.holder, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", lockID, err)
	}
	if ok {
		m.mu.Lock()
		m.held[lockID] = struct{}{}
		m.mu.Unlock()
	}
	return ok, nil
}

// Release gives up the named lock. Releasing a lock that is not held (or
// held by someone else) returns ErrLockNotHeld.
func (m *Manager) Release(ctx context.Context, lockID string) error {
	m.mu.Lock()
	delete(m.held, lockID)
	m.mu.Unlock()

	ok, err := m.store.ReleaseLock(ctx, lockID, m.holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", lockID, err)
	}
	if !ok {
		return domain.ErrLockNotHeld
	}
	return nil
}

// Renew extends the named lock's TTL. Returns ErrLockNotHeld when the lock
// expired or was taken over since the last renewal.
func (m *Manager) Renew(ctx context.Context, lockID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := m.store.RenewLock(ctx, lockID, m.holder, ttl)
	if err != nil {
		return fmt.Errorf("failed to renew lock %q: %w", lockID, err)
	}
	if !ok {
		m.mu.Lock()
		delete(m.held, lockID)
		m.mu.Unlock()
		return domain.ErrLockNotHeld
	}
	return nil
}

// IsHeldByMe reports whether the named lock currently belongs to this
// holder, consulting the store rather than local state.
func (m *Manager) IsHeldByMe(ctx context.Context, lockID string) (bool, error) {
	lock, err := m.store.GetLock(ctx, lockID)
	if err != nil {
		return false, fmt.Errorf("failed to inspect lock %q: %w", lockID, err)
	}
	if lock == nil {
		return false, nil
	}
	return lock.HeldBy(m.holder, time.Now().UTC()), nil
}

// ReleaseAll releases every lock this manager still tracks. Used on
// shutdown; errors are logged, not returned, so drain always completes.
func (m *Manager) ReleaseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.held = make(map[string]struct{})
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.store.ReleaseLock(ctx, id, m.holder); err != nil {
			m.logger.WarnContext(ctx, "failed to release lock on shutdown",
				"lock_id", id, "error", err)
		}
	}
}

// AcquireWithRenewal acquires the lock and keeps renewing it at half the
// TTL until the returned stop func is called or renewal fails. The returned
// channel closes if the lock is lost.
func (m *Manager) AcquireWithRenewal(ctx context.Context, lockID string, ttl time.Duration) (stop func(), lost <-chan struct{}, ok bool, err error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err = m.Acquire(ctx, lockID, ttl)
	if err != nil || !ok {
		return nil, nil, ok, err
	}

	done := make(chan struct{})
	lostCh := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Renew(ctx, lockID, ttl); err != nil {
					m.logger.WarnContext(ctx, "lock renewal failed",
						"lock_id", lockID, "error", err)
					close(lostCh)
					return
				}
			}
		}
	}()
	return stop, lostCh, true, nil
}

// WithLock runs fn while holding the named lock, releasing it afterwards.
// When the lock is unavailable fn is skipped and held=false is returned.
func (m *Manager) WithLock(ctx context.Context, lockID string, ttl time.Duration, fn func(ctx context.Context) error) (held bool, err error) {
	stop, _, ok, err := m.AcquireWithRenewal(ctx, lockID, ttl)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		stop()
		if relErr := m.Release(ctx, lockID); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return true, fn(ctx)
}
