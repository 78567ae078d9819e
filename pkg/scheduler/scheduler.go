package scheduler

import (
	"time"
)

// Task is a handle to a function that was scheduled for execution at a
// point of time in the future.
type Task interface {
	// Prevent the function from being executed. Calling Cancel()
	// after the function has started executing has no effect.
	Cancel()

	// Discard the currently pending execution, if any, and execute
	// the function after a new delay instead. Reschedule() may be
	// called on tasks that were cancelled or have already executed,
	// in which case the function is executed once more.
	Reschedule(delay time.Duration)
}

// Scheduler runs functions after a delay, returning a handle through
// which the pending execution can be cancelled or rescheduled. It is
// used by ShardMap to drive backed off refresh retries. This interface
// has been added to aid unit testing.
type Scheduler interface {
	Schedule(task func(), delay time.Duration) Task
}
