// Package schedule computes run times for one-time and recurring jobs.
// All timing lives in the store's next_run_at column; this package only
// answers "when is the next occurrence after t".
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chronoshq/chronos/internal/domain"
)

// NextRun returns the next occurrence of a recurring job strictly after now,
// evaluated in the job's timezone. The boolean is false when no further
// occurrence fits within the job's end time (the job completes).
func NextRun(job *domain.Job, now time.Time) (time.Time, bool) {
	var next time.Time

	switch {
	case job.Interval > 0:
		next = now.Add(job.Interval)
		if job.StartTime != nil && next.Before(*job.StartTime) {
			next = *job.StartTime
		}
	case job.CronExpression != "":
		sched, err := cron.ParseStandard(job.CronExpression)
		if err != nil {
			return time.Time{}, false
		}
		ref := now
		if job.StartTime != nil && job.StartTime.After(now) {
			ref = job.StartTime.Add(-time.Second)
		}
		next = sched.Next(ref.In(job.Location()))
		if next.IsZero() {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}

	if job.EndTime != nil && next.After(*job.EndTime) {
		return time.Time{}, false
	}
	return next.UTC(), true
}

// InitialRun returns the first run time for a freshly created job. One-time
// jobs run at their schedule time; recurring jobs run at their start time if
// it is in the future, otherwise at the next occurrence after now.
func InitialRun(job *domain.Job, now time.Time) (time.Time, bool) {
	if job.Kind == domain.JobKindOneTime {
		if job.ScheduleTime == nil {
			return time.Time{}, false
		}
		return job.ScheduleTime.UTC(), true
	}

	if job.StartTime != nil && job.StartTime.After(now) {
		if job.Interval > 0 {
			if job.EndTime != nil && job.StartTime.After(*job.EndTime) {
				return time.Time{}, false
			}
			return job.StartTime.UTC(), true
		}
		return NextRun(job, *job.StartTime)
	}
	return NextRun(job, now)
}
