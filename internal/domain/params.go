package domain

import "time"

// ListJobsParams contains filters, sorting and pagination for job listings.
//
// Common use cases:
//   - "Everything still due": Status=SCHEDULED, DueBefore=now
//   - "All email jobs": TaskType="email"
//   - Paginated browsing: Limit=50, Offset=100 for page 3
type ListJobsParams struct {
	// Optional filters (nil/zero = no filter applied)
	Status    *JobStatus
	Kind      *JobKind
	TaskType  *string
	Tag       *string
	CreatedBy *string
	DueBefore *time.Time
	Search    string // free-text over name and description

	// IncludeInactive includes soft-deleted jobs; off by default.
	IncludeInactive bool

	// Sorting (empty uses created_at desc)
	OrderBy  string // "created_at", "updated_at", "next_run_at", "priority"
	OrderDir string // "asc" or "desc"

	Limit  int
	Offset int
}

// JobPage is one page of a job listing.
type JobPage struct {
	Jobs       []*Job
	TotalCount int
	HasMore    bool
}

// StatusCount is one bucket of a group-by-status aggregation.
type StatusCount struct {
	Status JobStatus
	Count  int64
}

// TaskTypeCount is one bucket of a group-by-taskType aggregation.
type TaskTypeCount struct {
	TaskType string
	Count    int64
}

// HourBucket is one bucket of the hourly execution histogram.
type HourBucket struct {
	Hour  time.Time
	Count int64
}
