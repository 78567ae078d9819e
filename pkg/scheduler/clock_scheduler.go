package scheduler

import (
	"sync"
	"time"

	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/clock"
)

type clockScheduler struct {
	clock clock.Clock
}

// NewClockScheduler creates a Scheduler that executes every scheduled
// function on its own goroutine, after waiting on a timer obtained from
// a Clock.
func NewClockScheduler(clock clock.Clock) Scheduler {
	return &clockScheduler{
		clock: clock,
	}
}

func (s *clockScheduler) Schedule(task func(), delay time.Duration) Task {
	t := &clockTask{
		clock: s.clock,
		task:  task,
	}
	t.lock.Lock()
	t.arm(delay)
	t.lock.Unlock()
	return t
}

type clockTask struct {
	clock clock.Clock
	task  func()

	lock       sync.Mutex
	timer      clock.Timer
	generation uint64
}

// arm starts a timer for a new pending execution. The caller must hold
// the task's lock.
func (t *clockTask) arm(delay time.Duration) {
	t.generation++
	generation := t.generation
	timer, timerChannel := t.clock.NewTimer(delay)
	t.timer = timer
	go func() {
		<-timerChannel
		t.lock.Lock()
		if t.generation != generation {
			// Cancelled or rescheduled while the timer fired.
			t.lock.Unlock()
			return
		}
		t.timer = nil
		t.lock.Unlock()
		t.task()
	}()
}

func (t *clockTask) Cancel() {
	t.lock.Lock()
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.lock.Unlock()
}

func (t *clockTask) Reschedule(delay time.Duration) {
	t.lock.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.arm(delay)
	t.lock.Unlock()
}
