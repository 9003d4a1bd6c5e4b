// Package limiter implements the counting semaphore that bounds
// simultaneous synthesis calls.
//
// Waiters are served strictly first-in-first-out: a released permit goes to
// the oldest waiter, never to a later arrival that happened to be scheduled
// first. This keeps sentence dispatch latency fair under sustained load.
package limiter

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrOverRelease is returned by [Limiter.Release] when no permit is
// outstanding. A release without a matching acquire is a caller bug; it is
// reported rather than silently absorbed so the bug cannot hide.
var ErrOverRelease = errors.New("limiter: release without matching acquire")

// Limiter is a FIFO counting semaphore. The zero value is not usable; use
// [New].
type Limiter struct {
	mu       sync.Mutex
	capacity int
	active   int
	waiters  *list.List // of chan struct{}
}

// New creates a [Limiter] with capacity permits. Capacity below 1 is
// raised to 1.
func New(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		capacity: capacity,
		waiters:  list.New(),
	}
}

// Acquire consumes a permit, blocking until one is available or ctx is
// cancelled. Waiters are granted permits in arrival order.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.capacity && l.waiters.Len() == 0 {
		l.active++
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// The permit was handed over in the race window before we took
			// the lock. We own it now and must pass it on.
			l.mu.Unlock()
			if err := l.Release(); err != nil {
				return fmt.Errorf("limiter: hand back permit: %w", err)
			}
			return ctx.Err()
		default:
			l.waiters.Remove(elem)
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Release returns a permit. If waiters are queued, the permit passes
// directly to the oldest one; otherwise the active count drops. Returns
// [ErrOverRelease] when no permit is outstanding.
func (l *Limiter) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == 0 {
		return ErrOverRelease
	}
	if front := l.waiters.Front(); front != nil {
		// Hand the permit over without dropping the active count: the
		// waiter becomes the new holder atomically.
		l.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return nil
	}
	l.active--
	return nil
}

// Active reports how many permits are currently held.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Waiting reports how many acquirers are queued.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Capacity returns the permit cap.
func (l *Limiter) Capacity() int { return l.capacity }
