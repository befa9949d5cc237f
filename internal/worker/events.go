package worker

import "time"

// EventType identifies a lifecycle or job event emitted by the worker.
type EventType string

const (
	EventStarted EventType = "worker:started"
	EventStopped EventType = "worker:stopped"
	EventPaused  EventType = "worker:paused"
	EventResumed EventType = "worker:resumed"
	EventError   EventType = "worker:error"

	EventJobStart    EventType = "job:start"
	EventJobComplete EventType = "job:complete"
	EventJobRetry    EventType = "job:retry"
	EventJobFailed   EventType = "job:failed"
	EventJobError    EventType = "job:error"
)

// Event is a point-in-time notification. Job fields are empty for worker
// lifecycle events; Result, Duration, NextRetryAt and Remaining are set
// only on the event types that produce them.
type Event struct {
	Type     EventType
	Time     time.Time
	JobID    string
	TaskType string
	Attempt  int
	Err      string

	// job:complete
	Result   map[string]any
	Duration time.Duration

	// job:retry
	NextRetryAt time.Time
	Remaining   int
}

// events is a bounded fan-in of worker notifications. Emission never
// blocks; when the consumer falls behind, events are dropped.
type events struct {
	ch chan Event
}

func newEvents(size int) *events {
	return &events{ch: make(chan Event, size)}
}

func (e *events) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
	default:
	}
}
