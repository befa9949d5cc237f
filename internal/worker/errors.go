package worker

import (
	"errors"
	"fmt"
)

// ErrExecutionTimeout is recorded when a handler outlives the job's lock
// timeout. The attempt is abandoned; the goroutine may still be running,
// which is why handlers must watch their context.
var ErrExecutionTimeout = errors.New("job execution timed out")

// PanicError indicates a handler panicked. Panics indicate programming
// errors, not transient conditions, so they never retry.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic returns true if the error came from a recovered panic.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}
