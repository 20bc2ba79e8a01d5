package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// Completion is the single-resolution result of a native function call.
// The first Resolve or Reject wins; later attempts return ErrAlreadyCompleted.
type Completion struct {
	once     sync.Once
	attempts atomic.Int32
	done     chan struct{}

	result string
	err    error

	respond func(result string, err error)
}

func newCompletion(respond func(result string, err error)) *Completion {
	return &Completion{
		done:    make(chan struct{}),
		respond: respond,
	}
}

// Resolve completes the call with a result.
func (c *Completion) Resolve(result string) error {
	return c.complete(result, nil)
}

// Reject completes the call with an error outcome.
func (c *Completion) Reject(err error) error {
	if err == nil {
		err = context.Canceled
	}
	return c.complete("", err)
}

func (c *Completion) complete(result string, err error) error {
	c.attempts.Add(1)
	first := false
	c.once.Do(func() {
		first = true
		c.result, c.err = result, err
		close(c.done)
		if c.respond != nil {
			c.respond(result, err)
		}
	})
	if !first {
		return ErrAlreadyCompleted
	}
	return nil
}

// Done is closed once the call completed.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Completed reports whether the call completed.
func (c *Completion) Completed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the call completed or ctx is done.
func (c *Completion) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Attempts counts every Resolve and Reject call, including rejected repeats.
func (c *Completion) Attempts() int {
	return int(c.attempts.Load())
}
