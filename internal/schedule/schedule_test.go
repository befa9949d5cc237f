package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
)

func intervalJob(interval time.Duration) *domain.Job {
	return &domain.Job{Kind: domain.JobKindRecurring, Interval: interval}
}

func cronJob(expr, tz string) *domain.Job {
	return &domain.Job{Kind: domain.JobKindRecurring, CronExpression: expr, Timezone: tz}
}

func TestNextRun_Interval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, ok := NextRun(intervalJob(5*time.Second), now)
	require.True(t, ok)
	assert.Equal(t, now.Add(5*time.Second), next)
}

func TestNextRun_IntervalEndTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(3 * time.Second)

	job := intervalJob(5 * time.Second)
	job.EndTime = &end

	_, ok := NextRun(job, now)
	assert.False(t, ok, "next occurrence past endTime means the job completes")
}

func TestNextRun_Cron(t *testing.T) {
	// 12:07 UTC; every 5 minutes fires next at 12:10.
	now := time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC)

	next, ok := NextRun(cronJob("*/5 * * * *", ""), now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC), next)
}

func TestNextRun_CronTimezone(t *testing.T) {
	// "0 9 * * *" in New York. At 12:00 UTC (07:00 EST) the next 09:00
	// local is 14:00 UTC the same day.
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	next, ok := NextRun(cronJob("0 9 * * *", "America/New_York"), now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC), next)
}

func TestNextRun_CronStrictlyAfterNow(t *testing.T) {
	// Exactly on a boundary: next fires at the following occurrence.
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	next, ok := NextRun(cronJob("*/5 * * * *", ""), now)
	require.True(t, ok)
	assert.True(t, next.After(now))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), next)
}

func TestNextRun_StartTimeFloor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)

	job := intervalJob(5 * time.Second)
	job.StartTime = &start

	next, ok := NextRun(job, now)
	require.True(t, ok)
	assert.Equal(t, start, next)
}

func TestInitialRun_OneTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &domain.Job{Kind: domain.JobKindOneTime, ScheduleTime: &at}

	next, ok := InitialRun(job, at.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, at, next)
}

func TestInitialRun_RecurringFutureStart(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(2 * time.Hour)

	job := intervalJob(time.Minute)
	job.StartTime = &start

	next, ok := InitialRun(job, now)
	require.True(t, ok)
	assert.Equal(t, start, next)
}

func TestInitialRun_RecurringImmediate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, ok := InitialRun(intervalJob(5*time.Second), now)
	require.True(t, ok)
	assert.Equal(t, now.Add(5*time.Second), next)
}

func TestNextRun_MonotonicAdvance(t *testing.T) {
	job := cronJob("*/15 * * * *", "")
	now := time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC)

	var prev time.Time
	for i := 0; i < 10; i++ {
		next, ok := NextRun(job, now)
		require.True(t, ok)
		assert.True(t, next.After(prev))
		prev = next
		now = next
	}
}
