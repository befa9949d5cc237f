package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOneTime() *Job {
	at := time.Now().UTC().Add(time.Hour)
	return &Job{
		Name:         "send welcome email",
		Kind:         JobKindOneTime,
		ScheduleTime: &at,
		TaskType:     "email",
		Priority:     DefaultPriority,
		Retry:        RetryPolicy{MaxRetries: 3, RetryDelay: time.Minute},
	}
}

func validRecurring() *Job {
	return &Job{
		Name:     "nightly report",
		Kind:     JobKindRecurring,
		Interval: 5 * time.Minute,
		TaskType: "report",
		Priority: DefaultPriority,
		Retry:    RetryPolicy{MaxRetries: 3, RetryDelay: time.Minute},
	}
}

func TestJobValidate_OneTime(t *testing.T) {
	require.NoError(t, validOneTime().Validate())

	j := validOneTime()
	j.ScheduleTime = nil
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j = validOneTime()
	j.Interval = time.Minute
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)
}

func TestJobValidate_Recurring(t *testing.T) {
	require.NoError(t, validRecurring().Validate())

	cronJob := validRecurring()
	cronJob.Interval = 0
	cronJob.CronExpression = "*/5 * * * *"
	require.NoError(t, cronJob.Validate())

	// Exactly one of cron or interval
	both := validRecurring()
	both.CronExpression = "* * * * *"
	assert.ErrorIs(t, both.Validate(), ErrInvalidJob)

	neither := validRecurring()
	neither.Interval = 0
	assert.ErrorIs(t, neither.Validate(), ErrInvalidJob)

	badCron := validRecurring()
	badCron.Interval = 0
	badCron.CronExpression = "not a cron"
	assert.ErrorIs(t, badCron.Validate(), ErrInvalidJob)
}

func TestJobValidate_IntervalBounds(t *testing.T) {
	j := validRecurring()
	j.Interval = 500 * time.Millisecond
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j.Interval = MaxInterval + time.Hour
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j.Interval = MinInterval
	assert.NoError(t, j.Validate())
}

func TestJobValidate_Descriptive(t *testing.T) {
	j := validOneTime()
	j.Name = "ab"
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j = validOneTime()
	j.Priority = 11
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j = validOneTime()
	j.Retry.MaxRetries = 11
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j = validOneTime()
	j.Timezone = "Mars/Olympus"
	assert.ErrorIs(t, j.Validate(), ErrInvalidJob)

	j = validOneTime()
	j.Timezone = "Europe/Amsterdam"
	assert.NoError(t, j.Validate())
}

func TestEffectiveStrategy(t *testing.T) {
	assert.Equal(t, RetryStrategyFixed, RetryPolicy{}.EffectiveStrategy())
	assert.Equal(t, RetryStrategyExponential, RetryPolicy{UseExponentialBackoff: true}.EffectiveStrategy())
	assert.Equal(t, RetryStrategyFibonacci, RetryPolicy{Strategy: RetryStrategyFibonacci}.EffectiveStrategy())
}

func TestLockStale(t *testing.T) {
	now := time.Now().UTC()
	worker := "worker-1"

	j := validOneTime()
	assert.False(t, j.LockStale(now), "unlocked job is never stale")

	lockedAt := now.Add(-10 * time.Minute)
	j.LockedBy = &worker
	j.LockedAt = &lockedAt
	assert.True(t, j.LockStale(now), "default timeout is 5m")

	j.LockTimeout = time.Hour
	assert.False(t, j.LockStale(now))
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusScheduled, JobStatusQueued, JobStatusRunning, JobStatusPaused, JobStatusWaiting, JobStatusBlocked} {
		assert.False(t, s.Terminal(), string(s))
	}
}
