package phasebarrier

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// manualResetEvent is a level-triggered, closed-channel broadcast signal: a
// minimal stand-in for the manual-reset event primitive the barrier design
// treats as an external collaborator. Set puts it in the signaled state,
// where it stays until Reset; any number of goroutines may Wait on it
// concurrently, and all are released together when it is set.
type manualResetEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

func newManualResetEvent(signaled bool) *manualResetEvent {
	e := &manualResetEvent{ch: make(chan struct{})}
	if signaled {
		close(e.ch)
	}
	return e
}

// Set puts the event into the signaled state, waking every current and
// future waiter until the next Reset.
func (e *manualResetEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		// already signaled
	default:
		close(e.ch)
	}
}

// Reset puts the event back into the non-signaled state. Waiters blocked
// before Reset runs are unaffected; they were already observing the
// pre-reset signaled channel and will return immediately.
func (e *manualResetEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
		// already non-signaled
	}
}

// IsSet reports whether the event is currently in the signaled state.
func (e *manualResetEvent) IsSet() bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// snapshot returns the channel backing the event's current signaled state,
// for a caller that wants to block on this specific occurrence of the
// event even across an intervening Reset.
func (e *manualResetEvent) snapshot() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// waitUntilReset busy-waits until the event is observed in the
// non-signaled state. It has no timeout or cancellation: callers only use
// it to cross a brief, already-in-flight transition (see
// Barrier.AddParticipants), never to wait on arbitrary application state.
func (e *manualResetEvent) waitUntilReset() {
	for e.IsSet() {
		runtime.Gosched()
	}
}

// waitResult distinguishes why a Wait call returned.
type waitResult int

const (
	waitSucceeded waitResult = iota
	waitTimedOut
	waitCanceled
)

// Wait blocks until the event is signaled, the timeout elapses, or ctx is
// canceled, whichever happens first. A negative timeout means "wait
// forever" (subject only to ctx). A zero timeout polls without blocking.
func (e *manualResetEvent) Wait(ctx context.Context, timeout time.Duration) waitResult {
	ch := e.snapshot()

	select {
	case <-ch:
		return waitSucceeded
	default:
	}

	if timeout == 0 {
		return waitTimedOut
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-ch:
		return waitSucceeded
	case <-timerC:
		return waitTimedOut
	case <-ctx.Done():
		return waitCanceled
	}
}
