package responder

import (
	"sync"
	"time"
)

// Timer is a pending task handle.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via RealAfter.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfter schedules on the runtime timer wheel.
func RealAfter(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Scheduler runs delayed steps on timers tracked per inbound event so they
// can be cancelled individually or all at once on shutdown.
type Scheduler struct {
	after AfterFunc

	mu      sync.Mutex
	seq     uint64
	tasks   map[string]map[uint64]Timer
	stopped bool
}

func NewScheduler(after AfterFunc) *Scheduler {
	if after == nil {
		after = RealAfter
	}
	return &Scheduler{
		after: after,
		tasks: make(map[string]map[uint64]Timer),
	}
}

// Schedule runs fn after d on behalf of eventID. It reports false once the
// scheduler has been stopped.
func (s *Scheduler) Schedule(eventID string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.seq++
	id := s.seq
	if s.tasks[eventID] == nil {
		s.tasks[eventID] = make(map[uint64]Timer)
	}
	s.tasks[eventID][id] = s.after(d, func() {
		if !s.finish(eventID, id) {
			return
		}
		fn()
	})
	return true
}

// finish drops a fired task, reporting whether it was still pending.
func (s *Scheduler) finish(eventID string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, ok := s.tasks[eventID]
	if !ok {
		return false
	}
	if _, ok := tasks[id]; !ok {
		return false
	}
	delete(tasks, id)
	if len(tasks) == 0 {
		delete(s.tasks, eventID)
	}
	return true
}

// Pending returns the number of scheduled tasks that have not fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tasks := range s.tasks {
		n += len(tasks)
	}
	return n
}

// Cancel stops every pending task of one event and returns how many were stopped.
func (s *Scheduler) Cancel(eventID string) int {
	s.mu.Lock()
	tasks := s.tasks[eventID]
	delete(s.tasks, eventID)
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	return len(tasks)
}

// Stop cancels all pending tasks and refuses new ones.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	s.stopped = true
	all := s.tasks
	s.tasks = make(map[string]map[uint64]Timer)
	s.mu.Unlock()

	n := 0
	for _, tasks := range all {
		for _, t := range tasks {
			t.Stop()
			n++
		}
	}
	return n
}
