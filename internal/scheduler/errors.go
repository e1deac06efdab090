package scheduler

import (
	"errors"
	"fmt"

	"taskpilot/internal/job"
)

var (
	// ErrShuttingDown is returned once Shutdown has been signalled;
	// the executor accepts no further work after that.
	ErrShuttingDown = errors.New("scheduler shutting down")

	// ErrMaxRetriesExceeded is available to callers that treat retry
	// exhaustion as an error. The engine itself leaves an exhausted
	// job terminally failed without returning this.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// NotFoundError reports an unknown job id or name.
type NotFoundError struct {
	ID   job.ID
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("job not found: %s", e.Name)
	}
	return fmt.Sprintf("job not found: %s", e.ID)
}

// DuplicateError reports a job name already registered.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string { return fmt.Sprintf("duplicate job name: %s", e.Name) }

// ExecutionError reports that a run could not be attempted at all,
// as opposed to a run that happened and failed.
type ExecutionError struct {
	Reason string
}

func (e *ExecutionError) Error() string { return "execution error: " + e.Reason }

func execErr(format string, args ...any) error {
	return &ExecutionError{Reason: fmt.Sprintf(format, args...)}
}
