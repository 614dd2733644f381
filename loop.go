package rstate

import (
	"context"
	"sync"
)

// Loop is the cooperative queue on which state mutations happen. Host
// operations run on their own goroutines and hand their completions to
// Dispatch; the completions are applied, in the order they were dispatched,
// by whichever goroutine calls Flush or Run.
//
// A Loop must be drained by a single goroutine at a time.
type Loop struct {
	mu       sync.Mutex
	idle     *sync.Cond
	queue    []func()
	inflight int
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// Dispatch queues fn. It returns false if the loop is closed.
func (l *Loop) Dispatch(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Go runs fn on a new goroutine and tracks it until it returns, so Wait and
// Settle can tell when no host operation is in flight.
func (l *Loop) Go(fn func()) {
	l.mu.Lock()
	l.inflight++
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.inflight--
			if l.inflight == 0 {
				l.idle.Broadcast()
			}
			l.mu.Unlock()
		}()
		fn()
	}()
}

// Flush runs queued callbacks on the calling goroutine until the queue is
// empty, including callbacks queued while flushing. It returns how many ran.
func (l *Loop) Flush() int {
	n := 0
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Run flushes the loop whenever work is dispatched, until ctx is done or the
// loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Flush()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			l.Flush()
			return ErrLoopClosed
		case <-l.wake:
		}
	}
}

// Wait blocks until no goroutine started with Go is running.
func (l *Loop) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inflight > 0 {
		l.idle.Wait()
	}
}

// Settle waits for in-flight operations and flushes their completions,
// repeating until the loop is quiescent. Intended for tests and for hosts
// that drive the loop manually.
func (l *Loop) Settle() {
	for {
		l.Wait()
		if l.Flush() == 0 {
			return
		}
	}
}

// Len returns the number of queued callbacks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting callbacks. Callbacks already queued are still run by
// Run before it returns.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}
