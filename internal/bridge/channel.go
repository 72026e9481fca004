package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Channel is a bounded single-producer single-consumer handoff.
//
// The producer calls Put and at most one of SignalDone or SignalFailure. The consumer
// calls Get until it reports false, or stops early and lets Task.Finish abandon the
// channel. Terminal state is observed only after every earlier item.
type Channel[T any] struct {
	items       chan T
	abandoned   chan struct{}
	abandonOnce sync.Once

	// terminated is written only by the producer goroutine.
	terminated atomic.Bool
	early      atomic.Bool
	finished   atomic.Bool
	count      atomic.Int64

	mu        sync.Mutex
	failure   error
	violation *Error
}

// NewChannel returns a channel holding at most capacity pending items.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		items:     make(chan T, capacity),
		abandoned: make(chan struct{}),
	}
}

// Put hands item to the consumer, blocking while the channel is full.
// It returns false without enqueuing once the consumer has abandoned the channel.
// Calling Put after a terminal signal panics.
func (c *Channel[T]) Put(item T) bool {
	if c.terminated.Load() {
		panic(violation("put", "item produced after terminal signal", nil))
	}
	select {
	case <-c.abandoned:
		return false
	default:
	}
	select {
	case c.items <- item:
		c.count.Add(1)
		return true
	case <-c.abandoned:
		return false
	}
}

// Get returns the next item, blocking while none is pending and the producer has not
// signaled. It reports false once the channel is drained and terminated. Get never
// surfaces the producer's failure; Task.Finish does.
func (c *Channel[T]) Get() (T, bool) {
	c.checkOpen()
	item, ok := <-c.items
	return item, ok
}

// GetContext is Get bounded by a consumer-side deadline. A consumer that gives up
// must still call Task.Finish.
func (c *Channel[T]) GetContext(ctx context.Context) (T, bool, error) {
	c.checkOpen()
	select {
	case item, ok := <-c.items:
		return item, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, fmt.Errorf("get item: %w", ctx.Err())
	}
}

// SignalDone marks successful completion. Items already queued remain readable.
func (c *Channel[T]) SignalDone() {
	c.signal(nil)
}

// SignalFailure records err as the channel's only failure.
func (c *Channel[T]) SignalFailure(err error) {
	if err == nil {
		err = violation("signal failure", "nil failure", nil)
	}
	c.signal(err)
}

// Abandon tells the producer to stop. It wakes a producer blocked in Put but does
// not wait for the goroutine; Task.Finish does that.
func (c *Channel[T]) Abandon() {
	c.abandonOnce.Do(func() {
		if !c.terminated.Load() {
			c.early.Store(true)
		}
		close(c.abandoned)
	})
}

// IsAbandoned reports whether the consumer has abandoned the channel.
// Producers poll it between pages of a paginated remote call.
func (c *Channel[T]) IsAbandoned() bool {
	select {
	case <-c.abandoned:
		return true
	default:
		return false
	}
}

// Abandoned is closed when the consumer abandons the channel.
func (c *Channel[T]) Abandoned() <-chan struct{} {
	return c.abandoned
}

// Err returns the captured failure. It is meaningful only after the producer
// has terminated.
func (c *Channel[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Len returns the number of pending items.
func (c *Channel[T]) Len() int {
	return len(c.items)
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.items)
}

func (c *Channel[T]) checkOpen() {
	if c.finished.Load() {
		panic(violation("get", "item requested after finish", nil))
	}
}

func (c *Channel[T]) signal(err error) {
	if !c.terminate(err) {
		c.recordViolation(violation("signal", "terminal signal sent twice", err))
	}
}

func (c *Channel[T]) terminate(err error) bool {
	if !c.terminated.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.failure = err
	c.mu.Unlock()
	close(c.items)
	return true
}

func (c *Channel[T]) recordViolation(v *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.violation == nil {
		c.violation = v
	}
}

func (c *Channel[T]) abandon() { c.Abandon() }

func (c *Channel[T]) isTerminated() bool { return c.terminated.Load() }

func (c *Channel[T]) abandonedEarly() bool { return c.early.Load() }

func (c *Channel[T]) markFinished() { c.finished.Store(true) }

func (c *Channel[T]) transferred() int64 { return c.count.Load() }

func (c *Channel[T]) pending() int { return len(c.items) }

func (c *Channel[T]) recordedViolation() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violation
}
