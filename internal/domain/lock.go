package domain

import "time"

// Lock is a named advisory lock record. A lock exists iff some holder owns
// it or the expiry sweep has not yet evicted it.
type Lock struct {
	LockID     string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	RenewCount int
}

// Expired reports whether the lock's TTL has elapsed.
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// HeldBy reports whether the lock is currently owned by holder.
func (l *Lock) HeldBy(holder string, now time.Time) bool {
	return l.Holder == holder && !l.Expired(now)
}
