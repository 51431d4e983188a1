package phasebarrier

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Infinite, passed as the timeout to SignalAndWait, means "wait
// indefinitely for release, subject only to ctx". It is the barrier's
// analogue of a platform's Timeout.Infinite constant.
const Infinite time.Duration = -1

// Barrier coordinates a dynamically sized group of participants through
// numbered phases. The zero value is not usable; construct one with New.
type Barrier struct {
	state packedState
	phase atomic.Int64

	evenEvent *manualResetEvent
	oddEvent  *manualResetEvent

	ppa     PostPhaseAction
	ppaCtx  context.Context
	logger  *zerolog.Logger
	reentry reentryGuard

	carriedErr atomic.Pointer[PostPhaseFailureError]
	disposed   atomic.Bool
}

// New creates a barrier with the given initial participant count. total
// must be between 0 and MaxParticipants inclusive.
func New(total int, opts ...Option) (*Barrier, error) {
	if total < 0 || total > MaxParticipants {
		return nil, newInvalidArgumentError("total", fmt.Sprintf("must be between 0 and %d", MaxParticipants))
	}

	o := options{ctx: context.Background(), logger: defaultLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Barrier{
		state:     newPackedState(uint32(total), false),
		evenEvent: newManualResetEvent(false),
		oddEvent:  newManualResetEvent(true),
		ppa:       o.ppa,
		ppaCtx:    o.ctx,
		logger:    o.logger,
	}, nil
}

// ParticipantCount returns the number of participants currently
// registered with the barrier.
func (b *Barrier) ParticipantCount() int {
	_, total, _ := b.state.load()
	return int(total)
}

// ParticipantsRemaining returns the number of registered participants that
// have not yet arrived in the current phase.
func (b *Barrier) ParticipantsRemaining() int {
	current, total, _ := b.state.load()
	return int(total - current)
}

// CurrentPhase returns the number of the phase currently in progress.
func (b *Barrier) CurrentPhase() int64 {
	return b.phase.Load()
}

func (b *Barrier) eventFor(sense bool) *manualResetEvent {
	if sense {
		return b.oddEvent
	}
	return b.evenEvent
}

// SignalAndWait arrives at the barrier and blocks until every other
// registered participant has also arrived (and the post-phase action, if
// any, has completed), or until timeout elapses, or until ctx is done.
//
// ctx must not be nil; pass context.Background() for a call with no
// cancellation. Pass Infinite for timeout to wait without a time bound.
//
// It returns true if the phase completed and released this call, false on
// timeout. A non-nil error means either the call was canceled, a
// precondition was violated, or the phase's post-phase action failed.
func (b *Barrier) SignalAndWait(ctx context.Context, timeout time.Duration) (bool, error) {
	if ctx == nil {
		panic("phasebarrier: nil context")
	}
	if b.disposed.Load() {
		return false, ErrDisposed
	}
	if timeout < Infinite {
		return false, newInvalidArgumentError("timeout", "must be >= -1 (Infinite) or non-negative")
	}
	if b.reentry.heldByCaller() {
		return false, ErrReentryFromPostPhaseAction
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	for {
		raw := b.state.word.Load()
		current, total, sense := decodeState(raw)

		if total == 0 {
			return false, ErrZeroParticipants
		}

		phaseIsOdd := b.phase.Load()%2 != 0
		if current == 0 && sense != phaseIsOdd {
			return false, ErrParticipantOverflow
		}

		if current+1 == total {
			// Last arrival: flip sense, zero the counter, run the
			// post-phase action, and release every waiter.
			if !b.state.tryStore(raw, 0, total, !sense) {
				runtime.Gosched()
				continue
			}
			err := b.finishPhase(sense, total)
			return true, err
		}

		if !b.state.tryStore(raw, current+1, total, sense) {
			runtime.Gosched()
			continue
		}

		return b.waitForRelease(ctx, timeout, sense)
	}
}

// waitForRelease is the post-arrival half of SignalAndWait, for every
// participant except the one that completed the phase.
func (b *Barrier) waitForRelease(ctx context.Context, timeout time.Duration, sense bool) (bool, error) {
	phaseAtArrival := b.phase.Load()
	event := b.eventFor(sense)

	res := event.Wait(ctx, timeout)
	if res == waitSucceeded {
		return b.releaseResult()
	}

	// Backout: undo the arrival, unless the phase completed concurrently
	// with our timeout/cancellation (in which case the race was lost and
	// we must treat this call as a successful arrival).
	for {
		raw := b.state.word.Load()
		current, total, newSense := decodeState(raw)

		if b.phase.Load() != phaseAtArrival || newSense != sense {
			// The phase finished; our wait's failure is moot. Block
			// unconditionally since the event is about to be (or
			// already was) set.
			event.Wait(context.Background(), Infinite)
			return b.releaseResult()
		}

		if b.state.tryStore(raw, current-1, total, sense) {
			if res == waitCanceled {
				return false, ctx.Err()
			}
			return false, nil
		}

		runtime.Gosched()
	}
}

// releaseResult reports a successful release, surfacing the just-finished
// phase's post-phase action failure (if any) to the caller.
func (b *Barrier) releaseResult() (bool, error) {
	if pf := b.carriedErr.Load(); pf != nil {
		return true, pf
	}
	return true, nil
}

// finishPhase runs the post-phase action (if configured) and then flips
// the release events, returning the wrapped post-phase failure, if any.
// Called only by the single arrival that completes a phase, whether via
// SignalAndWait or RemoveParticipants.
func (b *Barrier) finishPhase(observedSense bool, total uint32) error {
	finishedPhase := b.phase.Load()

	var ppaErr error
	ranPPA := b.ppa != nil
	if ranPPA {
		b.reentry.acquire()
		func() {
			defer func() {
				if r := recover(); r != nil {
					if err, ok := r.(error); ok {
						ppaErr = err
					} else {
						ppaErr = fmt.Errorf("phasebarrier: post-phase action panicked: %v", r)
					}
				}
			}()
			ppaErr = b.ppa(b.ppaCtx, finishedPhase)
		}()
		b.reentry.release()
	}

	var wrapped *PostPhaseFailureError
	if ppaErr != nil {
		wrapped = &PostPhaseFailureError{Phase: finishedPhase, Cause: ppaErr}
	}
	b.carriedErr.Store(wrapped)

	b.setResetEvents(observedSense)

	b.trace(PhaseFinishedEvent{
		Phase:              finishedPhase,
		Sense:              observedSense,
		Participants:       total,
		PostPhaseActionRan: ranPPA,
		PostPhaseActionErr: ppaErr,
	})

	if wrapped != nil {
		return wrapped
	}
	return nil
}

// setResetEvents advances the phase counter and flips the release events.
// The reset-before-set ordering guarantees that by the time the new
// phase's event is observably set, its successor (the one that will be
// used to release the phase after that) is already back in the reset
// state.
func (b *Barrier) setResetEvents(observedSense bool) {
	b.phase.Add(1)
	if !observedSense {
		b.oddEvent.Reset()
		b.evenEvent.Set()
	} else {
		b.evenEvent.Reset()
		b.oddEvent.Set()
	}
}

// AddParticipant registers one additional participant and returns the
// phase number it first participates in.
func (b *Barrier) AddParticipant() (int64, error) {
	return b.AddParticipants(1)
}

// AddParticipants registers n additional participants and returns the
// phase number they first participate in. It may block briefly if called
// while a phase is in the middle of being finished.
func (b *Barrier) AddParticipants(n int) (int64, error) {
	if b.disposed.Load() {
		return 0, ErrDisposed
	}
	if n < 1 {
		return 0, newInvalidArgumentError("n", "must be >= 1")
	}
	if n > MaxParticipants {
		return 0, ErrOverflow
	}
	if b.reentry.heldByCaller() {
		return 0, ErrReentryFromPostPhaseAction
	}

	un := uint32(n)

	for {
		raw := b.state.word.Load()
		current, total, sense := decodeState(raw)

		if un > MaxParticipants-total {
			return 0, ErrOverflow
		}
		newTotal := total + un

		if !b.state.tryStore(raw, current, newTotal, sense) {
			runtime.Gosched()
			continue
		}

		currPhase := b.phase.Load()
		phaseIsOdd := currPhase%2 != 0

		if sense != phaseIsOdd {
			// A phase is being finished right now: sense already
			// reflects the next phase, but the counter hasn't caught
			// up. New participants join that next phase, and must not
			// observe the stale "set" state their event is still in
			// from two phases back.
			b.eventFor(sense).waitUntilReset()
			return currPhase + 1, nil
		}

		if ev := b.eventFor(sense); ev.IsSet() {
			ev.Reset()
		}
		return currPhase, nil
	}
}

// RemoveParticipant unregisters one participant.
func (b *Barrier) RemoveParticipant() error {
	return b.RemoveParticipants(1)
}

// RemoveParticipants unregisters n participants. If doing so completes the
// current phase (every remaining participant had already arrived), the
// phase is finished exactly as if the last straggler had called
// SignalAndWait, including running the post-phase action; that action's
// failure is not returned from RemoveParticipants, only carried forward to
// participants released by the phase.
func (b *Barrier) RemoveParticipants(n int) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	if n < 1 {
		return newInvalidArgumentError("n", "must be >= 1")
	}
	if n > MaxParticipants {
		return ErrOutOfRange
	}
	if b.reentry.heldByCaller() {
		return ErrReentryFromPostPhaseAction
	}

	un := uint32(n)

	for {
		raw := b.state.word.Load()
		current, total, sense := decodeState(raw)

		if un > total {
			return ErrOutOfRange
		}
		remaining := total - un
		if remaining < current {
			return ErrWouldOrphan
		}

		if remaining > 0 && current == remaining {
			if !b.state.tryStore(raw, 0, remaining, !sense) {
				runtime.Gosched()
				continue
			}
			_ = b.finishPhase(sense, remaining)
			return nil
		}

		if b.state.tryStore(raw, current, remaining, sense) {
			return nil
		}
		runtime.Gosched()
	}
}

// Dispose releases the barrier's underlying events, waking anything still
// waiting. It is not safe to call concurrently with any other operation;
// the caller must ensure the barrier is quiescent first.
func (b *Barrier) Dispose() error {
	if b.reentry.heldByCaller() {
		return ErrReentryFromPostPhaseAction
	}
	b.disposed.Store(true)
	b.evenEvent.Set()
	b.oddEvent.Set()
	return nil
}
