package worker

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the worker's counters.
type Snapshot struct {
	WorkerID string
	State    State

	JobsClaimed   int64
	JobsCompleted int64
	JobsFailed    int64
	JobsRetried   int64
	JobsRecovered int64
	PollCycles    int64

	ActiveJobs int
	StartedAt  time.Time
	Uptime     time.Duration
	LastPollAt time.Time
	LastJobAt  time.Time

	TotalExecutionTime time.Duration
	AvgExecutionTime   time.Duration

	// SuccessfulRetries counts completions whose final attempt was a
	// retry; RetrySuccessRate is that count over retries scheduled.
	SuccessfulRetries int64
	SuccessRate       float64
	RetrySuccessRate  float64
}

type stats struct {
	mu sync.Mutex

	claimed           int64
	completed         int64
	failed            int64
	retried           int64
	recovered         int64
	polls             int64
	successfulRetries int64
	totalExecTime     time.Duration

	startedAt  time.Time
	lastPollAt time.Time
	lastJobAt  time.Time
}

func (s *stats) markStarted(at time.Time) {
	s.mu.Lock()
	s.startedAt = at
	s.mu.Unlock()
}

func (s *stats) incClaimed() {
	s.mu.Lock()
	s.claimed++
	s.lastJobAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *stats) incCompleted(d time.Duration, afterRetry bool) {
	s.mu.Lock()
	s.completed++
	s.totalExecTime += d
	if afterRetry {
		s.successfulRetries++
	}
	s.mu.Unlock()
}

func (s *stats) incFailed(d time.Duration) {
	s.mu.Lock()
	s.failed++
	s.totalExecTime += d
	s.mu.Unlock()
}

func (s *stats) incRetried() { s.mu.Lock(); s.retried++; s.mu.Unlock() }

func (s *stats) addRecovered(n int64) {
	s.mu.Lock()
	s.recovered += n
	s.mu.Unlock()
}

func (s *stats) markPoll(at time.Time) {
	s.mu.Lock()
	s.polls++
	s.lastPollAt = at
	s.mu.Unlock()
}

func (s *stats) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		JobsClaimed:        s.claimed,
		JobsCompleted:      s.completed,
		JobsFailed:         s.failed,
		JobsRetried:        s.retried,
		JobsRecovered:      s.recovered,
		PollCycles:         s.polls,
		StartedAt:          s.startedAt,
		LastPollAt:         s.lastPollAt,
		LastJobAt:          s.lastJobAt,
		TotalExecutionTime: s.totalExecTime,
		SuccessfulRetries:  s.successfulRetries,
	}
	if !s.startedAt.IsZero() {
		snap.Uptime = time.Since(s.startedAt)
	}
	if finished := s.completed + s.failed; finished > 0 {
		snap.SuccessRate = float64(s.completed) / float64(finished)
		snap.AvgExecutionTime = s.totalExecTime / time.Duration(finished)
	}
	if s.retried > 0 {
		snap.RetrySuccessRate = float64(s.successfulRetries) / float64(s.retried)
	}
	return snap
}
