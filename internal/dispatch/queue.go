// Package dispatch provides the unbounded FIFO used to marshal work onto a
// webview's owner thread.
package dispatch

import "sync"

// Queue is an unbounded FIFO of functions. Push never blocks, so it is
// safe to call from timer callbacks and from the owner thread itself.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends fn. It reports false once the queue is closed.
func (q *Queue) Push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return true
}

// Pop blocks until an item is available. After Close it keeps returning
// the remaining items, then false.
func (q *Queue) Pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.take()
}

// TryPop returns the next item without blocking.
func (q *Queue) TryPop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

func (q *Queue) take() (func(), bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and wakes blocked Pop calls.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Loop runs queued functions on the calling goroutine until the queue is
// closed and drained. Panics are passed to recovered and do not stop the
// loop.
func (q *Queue) Loop(recovered func(any)) {
	for {
		fn, ok := q.Pop()
		if !ok {
			return
		}
		run(fn, recovered)
	}
}

// Drain runs the functions queued at the time of the call without
// blocking and returns how many ran. Hosts whose owner thread is driven by
// a foreign event loop call it from that loop's idle hook.
func (q *Queue) Drain(recovered func(any)) int {
	n := q.Len()
	ran := 0
	for ; ran < n; ran++ {
		fn, ok := q.TryPop()
		if !ok {
			break
		}
		run(fn, recovered)
	}
	return ran
}

func run(fn func(), recovered func(any)) {
	defer func() {
		if r := recover(); r != nil && recovered != nil {
			recovered(r)
		}
	}()
	fn()
}
