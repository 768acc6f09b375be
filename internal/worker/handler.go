package worker

import (
	"context"
	"errors"
)

// Task is a unit of periodic background work.
type Task interface {
	// Name identifies the task in logs and metrics.
	Name() string

	// Run executes one pass. Returning a PermanentError stops the schedule.
	Run(ctx context.Context) error
}

// PermanentError marks a failure that will not go away by retrying on the
// next tick, such as a misconfiguration.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the runner disables the task.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
