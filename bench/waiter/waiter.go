// Package waiter provides a one-shot signal primitive the benchmark driver
// uses to block its sequential request/response loop on an asynchronous
// Session callback without polling.
package waiter

import (
	"sync"
	"time"
)

// Waiter is a level-triggered signal built on a closable channel rather than
// a condvar, so a timed wait needs no helper goroutine: Wait and a timer
// simply race on the same channel.
type Waiter struct {
	mu   sync.Mutex
	ch   chan struct{}
	done bool
}

// New constructs a ready-to-use Waiter.
func New() *Waiter {
	return &Waiter{ch: make(chan struct{})}
}

// Signal marks the waiter signaled and wakes any blocked Wait/WaitTimeout.
// Calling Signal more than once between Resets is a no-op.
func (w *Waiter) Signal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	close(w.ch)
}

// Reset clears the signal, preparing the waiter for its next use.
func (w *Waiter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ch = make(chan struct{})
	w.done = false
}

// Wait blocks until Signal is called.
func (w *Waiter) Wait() {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()
	<-ch
}

// WaitTimeout blocks until Signal is called or d elapses, returning false on
// timeout, true if the signal arrived first.
func (w *Waiter) WaitTimeout(d time.Duration) bool {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
