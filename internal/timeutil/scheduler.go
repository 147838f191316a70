package timeutil

import (
	"sort"
	"sync"
	"time"
)

// TaskID identifies a scheduled task. The zero value never names a task.
type TaskID uint64

type scheduledTask struct {
	id       TaskID
	name     string
	deadline time.Time
	fn       func()
}

// Scheduler holds deferred tasks that run when the owner calls RunDue.
// Nothing runs on a background goroutine: tasks execute on whatever
// goroutine drives the tick loop, so they may touch state owned by that
// loop without further locking.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	nextID TaskID
	tasks  map[TaskID]*scheduledTask
}

// NewScheduler creates a scheduler reading deadlines from clock.
// A nil clock falls back to RealClock.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		clock: clock,
		tasks: make(map[TaskID]*scheduledTask),
	}
}

// After schedules fn to run on the first RunDue at or after now+d.
func (s *Scheduler) After(d time.Duration, name string, fn func()) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.tasks[id] = &scheduledTask{
		id:       id,
		name:     name,
		deadline: s.clock.Now().Add(d),
		fn:       fn,
	}
	return id
}

// Cancel removes a pending task. It reports whether the task was still
// pending; a task that already ran cannot be cancelled.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// CancelAll drops every pending task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[TaskID]*scheduledTask)
}

// Pending returns the number of tasks that have not run yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// RunDue runs every task whose deadline has passed, earliest deadline first
// (ties in scheduling order), and returns how many ran. Tasks run outside the
// scheduler lock so they may schedule or cancel further work.
func (s *Scheduler) RunDue() int {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*scheduledTask, 0, len(s.tasks))
	for id, task := range s.tasks {
		if !now.Before(task.deadline) {
			due = append(due, task)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, task := range due {
		task.fn()
	}
	return len(due)
}
