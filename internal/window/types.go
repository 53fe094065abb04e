package window

import (
	"fmt"
	"time"
)

// Handle is the opaque OS-level handle of a bound automation window.
// Handle acquisition is the discovery collaborator's job; the engine only
// treats it as part of the window identity.
type Handle uint64

// String formats the handle the way window tooling prints it
func (h Handle) String() string {
	return fmt.Sprintf("0x%X", uint64(h))
}

// Status represents the lifecycle state of a window task
type Status string

const (
	// StatusPending means the task is registered and waiting to run
	StatusPending Status = "Pending"
	// StatusRunning means the task's execution unit is active
	StatusRunning Status = "Running"
	// StatusCompleted means the workflow finished successfully
	StatusCompleted Status = "Completed"
	// StatusFailed means the workflow failed after exhausting retries
	StatusFailed Status = "Failed"
	// StatusCancelled means the task was stopped before completion
	StatusCancelled Status = "Cancelled"
	// StatusRetrying means the last attempt failed and a retry is pending
	StatusRetrying Status = "Retrying"
)

// Terminal reports whether the status is an end state for one run
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Stoppable is the capability every execution unit must satisfy so the stop
// protocol can reason about it without knowing the concurrency substrate
// (goroutine, background task, external process).
type Stoppable interface {
	// RequestStop asks the unit to stop cooperatively
	RequestStop()

	// Join waits up to timeout for the unit to finish and reports success
	Join(timeout time.Duration) bool

	// Kill terminates the unit unconditionally
	Kill()

	// IsAlive reports whether the unit is still running
	IsAlive() bool
}

// Task represents one execution target: a bound automation window and the
// state of its current run. Tasks are owned by the registry and mutated only
// under the registry lock; readers always receive copies.
type Task struct {
	// ID is the stable key, derived from title and handle since titles
	// may collide across windows
	ID string

	// Title is the window title the task was bound with
	Title string

	// Handle is the OS window handle
	Handle Handle

	// Enabled indicates if this window participates in runs
	Enabled bool

	// Status is the current lifecycle state
	Status Status

	// StartTime is when the current run started (zero when not started)
	StartTime time.Time

	// EndTime is when the current run reached a terminal status
	EndTime time.Time

	// RetryCount is the number of retries consumed in the current run
	RetryCount int

	// LastError is the message of the most recent failure, if any
	LastError string
}

// Duration returns the elapsed run time of the task, using the current time
// while the task is still running
func (t Task) Duration() time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// TaskID derives the stable registry key for a title/handle pair
func TaskID(title string, handle Handle) string {
	return fmt.Sprintf("%s#%x", title, uint64(handle))
}
