package bridge

import (
	"sync"
	"time"
)

// Scheduler runs delayed callbacks that can be cancelled individually or
// all at once on shutdown.
type Scheduler struct {
	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*time.Timer
	closed bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[uint64]*time.Timer)}
}

// After runs fn once on its own goroutine after d. cancel reports whether
// it prevented fn from running.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() bool { return false }
	}

	id := s.nextID
	s.nextID++
	s.timers[id] = time.AfterFunc(d, func() {
		if !s.release(id) {
			return
		}
		fn()
	})

	return func() bool {
		s.mu.Lock()
		t, ok := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if ok {
			t.Stop()
		}
		return ok
	}
}

// release removes a fired timer, false if it was cancelled meanwhile.
func (s *Scheduler) release(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; !ok {
		return false
	}
	delete(s.timers, id)
	return true
}

// Pending is the number of callbacks that have neither fired nor been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels all pending callbacks and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
