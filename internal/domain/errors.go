package domain

import "errors"

var (
	// ErrInvalidJob wraps all job definition validation failures.
	ErrInvalidJob = errors.New("invalid job")

	// ErrJobNotFound is returned when no job matches the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrLogNotFound is returned when no execution log matches the given id.
	ErrLogNotFound = errors.New("execution log not found")

	// ErrJobOwnershipLost is returned by ownership-gated updates when the
	// job is no longer locked by this worker. The caller must drop the
	// outcome; another worker has reclaimed the job.
	ErrJobOwnershipLost = errors.New("job ownership lost")

	// ErrJobTerminal is returned when an edit targets a job that already
	// reached COMPLETED, FAILED or CANCELLED.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrJobNotCancellable is returned when a cancel request hits a job
	// outside PENDING, SCHEDULED or QUEUED.
	ErrJobNotCancellable = errors.New("job not cancellable")

	// ErrJobNotPausable is returned when a pause request hits a job outside
	// PENDING or SCHEDULED.
	ErrJobNotPausable = errors.New("job not pausable")

	// ErrJobNotResumable is returned when a resume request hits a job that
	// is not PAUSED.
	ErrJobNotResumable = errors.New("job not resumable")

	// ErrLockNotHeld is returned by lock operations gated on ownership.
	ErrLockNotHeld = errors.New("lock not held by this worker")

	// ErrNoHandler is returned when a job's taskType has no registered
	// handler. Non-retryable.
	ErrNoHandler = errors.New("no handler registered for task type")
)

// NonRetryableError marks a handler failure as permanent regardless of the
// job's retry budget.
type NonRetryableError struct {
	Err error
}

// NonRetryable wraps err so the engine fails the job without retrying.
func NonRetryable(err error) error {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryableError reports whether err carries the permanent-failure mark.
func IsNonRetryableError(err error) bool {
	var nre NonRetryableError
	return errors.As(err, &nre)
}
