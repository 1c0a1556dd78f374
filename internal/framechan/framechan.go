// Package framechan implements the bounded single-producer single-consumer
// queue that carries decoded frames from the streaming decode loop to the
// caller.
//
// The producer blocks in Push while the ring is full and the consumer blocks
// in Pop until a full batch is available. PushDone marks the end of
// production: a Pop that cannot be satisfied then returns whatever is left,
// and every later Pop returns an empty batch until Clear resets the channel.
package framechan

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBatchTooLarge is returned by Pop when the requested batch exceeds the
// channel capacity and could never be satisfied.
var ErrBatchTooLarge = errors.New("framechan: batch larger than capacity")

// Channel is a fixed-capacity ring guarded by a mutex and two condition
// variables. The zero value is not usable; create one with New.
type Channel[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	ring  []T
	head  int // next write
	tail  int // next read
	count int
	drain bool
}

// New returns a channel holding at most capacity items. Capacity below one
// is raised to one.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Channel[T]{ring: make([]T, capacity)}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// Push appends item, blocking while the channel is full.
func (c *Channel[T]) Push(item T) {
	c.mu.Lock()
	for c.count == len(c.ring) {
		c.notFull.Wait()
	}
	c.ring[c.head] = item
	c.head = (c.head + 1) % len(c.ring)
	c.count++
	c.notEmpty.Signal()
	c.mu.Unlock()
}

// PushDone signals that no more items will be pushed.
func (c *Channel[T]) PushDone() {
	c.mu.Lock()
	c.drain = true
	c.notEmpty.Broadcast()
	c.mu.Unlock()
}

// Pop removes n items in FIFO order. It waits until n items are present or
// production has finished, in which case the remaining items are returned.
// n == 0 returns everything currently queued without waiting.
func (c *Channel[T]) Pop(n int) ([]T, error) {
	if n < 0 || n > len(c.ring) {
		return nil, fmt.Errorf("%w: requested %d, capacity %d", ErrBatchTooLarge, n, len(c.ring))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n == 0 {
		n = c.count
	}
	for c.count < n && !c.drain {
		c.notEmpty.Wait()
	}
	if c.count < n {
		n = c.count
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = c.ring[c.tail]
		c.ring[c.tail] = zero
		c.tail = (c.tail + 1) % len(c.ring)
	}
	c.count -= n
	if n > 0 {
		c.notFull.Signal()
	}
	return out, nil
}

// Clear empties the channel and rearms it for a new producer. It must not
// race with Push or Pop.
func (c *Channel[T]) Clear() {
	c.mu.Lock()
	clear(c.ring)
	c.head, c.tail, c.count = 0, 0, 0
	c.drain = false
	c.mu.Unlock()
}

// Len returns the number of queued items.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int { return len(c.ring) }

// Drained reports whether PushDone has been called since the last Clear.
func (c *Channel[T]) Drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drain
}
