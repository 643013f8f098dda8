// Package scheduler implements the single-priority timed task engine every
// other subsystem enqueues future work on: gossip keepalives, election
// announcement rounds and peer purges.
//
// It is a min-heap on wakeup time guarded by a mutex and condition
// variable, the same shape as the original processor_service this module
// is descended from (a std::priority_queue<operation> behind a mutex and
// condition_variable).
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// Op is one scheduled unit of work.
type Op struct {
	Wakeup time.Time
	Thunk  func()
}

// opQueue is a min-heap on Wakeup.
type opQueue []Op

func (q opQueue) Len() int            { return len(q) }
func (q opQueue) Less(i, j int) bool  { return q[i].Wakeup.Before(q[j].Wakeup) }
func (q opQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *opQueue) Push(x interface{}) { *q = append(*q, x.(Op)) }
func (q *opQueue) Pop() interface{} {
	old := *q
	n := len(old)
	op := old[n-1]
	*q = old[:n-1]
	return op
}

// Scheduler is a single-priority queue of scheduled ops. Thunks run outside
// the scheduler's lock on a worker goroutine started by Run; they must not
// block longer than the gossip period, or re-enqueue the remainder of their
// work instead.
type Scheduler struct {
	log log.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	queue opQueue
	done  bool
}

// New returns an idle Scheduler. Call Run to start its worker.
func New(logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	s := &Scheduler{log: logger}
	s.cond = sync.NewCond(&s.mu)
	heap.Init(&s.queue)
	return s
}

// Add schedules thunk to run at or after when. A no-op after Stop.
func (s *Scheduler) Add(when time.Time, thunk func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	heap.Push(&s.queue, Op{Wakeup: when, Thunk: thunk})
	s.cond.Broadcast()
}

// Len reports the number of pending ops.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Stop marks the scheduler done and wakes every waiter so Run can exit.
// All further Add calls become no-ops. Stop does not block for Run's
// goroutines to exit; each drains and returns on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Run blocks, repeatedly dequeuing and executing due ops, until Stop is
// called. Intended to run on its own goroutine; callers may start more than
// one to form a small worker pool, since each dequeue-and-execute happens
// outside the lock.
func (s *Scheduler) Run() {
	for {
		thunk, ok := s.waitForDue()
		if !ok {
			return
		}
		if thunk != nil {
			thunk()
		}
	}
}

// waitForDue blocks until the earliest op is due or the scheduler stops. It
// returns ok=false once stopped with an empty queue.
func (s *Scheduler) waitForDue() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.done && s.queue.Len() == 0 {
			return nil, false
		}
		if s.queue.Len() == 0 {
			s.cond.Wait()
			continue
		}
		next := s.queue[0]
		now := time.Now()
		if !next.Wakeup.After(now) {
			heap.Pop(&s.queue)
			return next.Thunk, true
		}
		if s.done {
			return nil, false
		}
		s.waitUntil(next.Wakeup)
	}
}

// waitUntil releases the lock and blocks until either wakeup or a signal
// from Add/Stop, then reacquires the lock.
func (s *Scheduler) waitUntil(wakeup time.Time) {
	d := time.Until(wakeup)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, s.cond.Broadcast)
	defer timer.Stop()
	s.cond.Wait()
}

// Poll executes every op whose wakeup is already due, without blocking.
func (s *Scheduler) Poll() int {
	n := 0
	for s.pollOnce() {
		n++
	}
	return n
}

// PollOne executes at most one due op without blocking, reporting whether
// it ran one.
func (s *Scheduler) PollOne() bool {
	return s.pollOnce()
}

func (s *Scheduler) pollOnce() bool {
	s.mu.Lock()
	if s.queue.Len() == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.queue[0]
	if next.Wakeup.After(time.Now()) {
		s.mu.Unlock()
		return false
	}
	heap.Pop(&s.queue)
	s.mu.Unlock()
	if next.Thunk != nil {
		next.Thunk()
	}
	return true
}
