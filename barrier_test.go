package phasebarrier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesTotal(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("expected error for negative total")
	}
	if _, err := New(MaxParticipants + 1); err == nil {
		t.Fatal("expected error for total exceeding MaxParticipants")
	}
	b, err := New(MaxParticipants)
	require.NoError(t, err)
	require.Equal(t, MaxParticipants, b.ParticipantCount())
}

func TestZeroParticipants(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)

	_, err = b.SignalAndWait(context.Background(), Infinite)
	require.ErrorIs(t, err, ErrZeroParticipants)
}

func TestAddParticipantOverflow(t *testing.T) {
	b, err := New(MaxParticipants)
	require.NoError(t, err)

	_, err = b.AddParticipant()
	require.ErrorIs(t, err, ErrOverflow)
}

// TestAddParticipantsHugeCountDoesNotTruncate checks that n values well
// beyond uint32's range are rejected as ErrOverflow rather than wrapping
// around to a small residual during the int-to-uint32 conversion.
func TestAddParticipantsHugeCountDoesNotTruncate(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)

	_, err = b.AddParticipants(1 << 32)
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, 1, b.ParticipantCount())

	_, err = b.AddParticipants(1<<32 + 40000)
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, 1, b.ParticipantCount())
}

// TestRemoveParticipantsHugeCountDoesNotTruncate checks that n values well
// beyond uint32's range are rejected as ErrOutOfRange rather than wrapping
// around to a small residual during the int-to-uint32 conversion.
func TestRemoveParticipantsHugeCountDoesNotTruncate(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)

	err = b.RemoveParticipants(1 << 32)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 1, b.ParticipantCount())
}

func TestSignalAndWaitTimeoutDoesNotDisturbOtherWaiters(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)

	ok, err := b.SignalAndWait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, b.ParticipantsRemaining())
	require.Equal(t, int64(0), b.CurrentPhase())
}

func TestSignalAndWaitZeroTimeoutPolls(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)

	ok, err := b.SignalAndWait(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, b.ParticipantsRemaining())
}

func TestSignalAndWaitInvalidTimeout(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)

	_, err = b.SignalAndWait(context.Background(), -2*time.Millisecond)
	require.Error(t, err)
}

func TestSignalAndWaitNilContextPanics(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil context")
		}
	}()
	//lint:ignore SA1012 intentionally passing nil to exercise the guard
	_, _ = b.SignalAndWait(nil, Infinite)
}

func TestSignalAndWaitPreCanceled(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.SignalAndWait(ctx, Infinite)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, b.ParticipantsRemaining())
}

func TestSignalAndWaitCanceledWhileWaiting(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = b.SignalAndWait(ctx, Infinite)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, b.ParticipantsRemaining())
	require.Equal(t, int64(0), b.CurrentPhase())
}

func TestDisposedBarrierRejectsOperations(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)
	require.NoError(t, b.Dispose())

	_, err = b.SignalAndWait(context.Background(), Infinite)
	require.ErrorIs(t, err, ErrDisposed)

	_, err = b.AddParticipant()
	require.ErrorIs(t, err, ErrDisposed)

	err = b.RemoveParticipant()
	require.ErrorIs(t, err, ErrDisposed)
}

func TestRemoveParticipantsOutOfRangeAndOrphan(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)

	require.ErrorIs(t, b.RemoveParticipants(3), ErrOutOfRange)

	done := make(chan struct{})
	go func() {
		_, _ = b.SignalAndWait(context.Background(), Infinite)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	// One participant has already arrived; removing both would orphan it.
	require.ErrorIs(t, b.RemoveParticipants(2), ErrWouldOrphan)

	_, err = b.SignalAndWait(context.Background(), Infinite)
	require.NoError(t, err)
	<-done
}

func TestAddThenRemoveRoundTrip(t *testing.T) {
	b, err := New(3)
	require.NoError(t, err)

	phase, err := b.AddParticipants(4)
	require.NoError(t, err)
	require.Equal(t, int64(0), phase)
	require.Equal(t, 7, b.ParticipantCount())

	require.NoError(t, b.RemoveParticipants(4))
	require.Equal(t, 3, b.ParticipantCount())
	require.Equal(t, int64(0), b.CurrentPhase())
}

// TestTwoThreadPingPong checks that two participants complete five rounds
// in lock-step.
func TestTwoThreadPingPong(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)

	const rounds = 5
	var wg sync.WaitGroup
	wg.Add(2)

	run := func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			ok, err := b.SignalAndWait(context.Background(), Infinite)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}

	go run()
	go run()
	wg.Wait()

	require.Equal(t, int64(rounds), b.CurrentPhase())
}

// TestPostPhaseActionFailurePropagates checks that a failing PPA fails
// every participant released by that phase, but the barrier recovers for
// subsequent phases.
func TestPostPhaseActionFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	var shouldFail atomic.Bool

	b, err := New(3, WithPostPhaseAction(func(ctx context.Context, phase int64) error {
		if shouldFail.Load() {
			return boom
		}
		return nil
	}))
	require.NoError(t, err)

	shouldFail.Store(true)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = b.SignalAndWait(context.Background(), Infinite)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, ErrPostPhaseFailure)
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, int64(1), b.CurrentPhase())

	shouldFail.Store(false)

	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = b.SignalAndWait(context.Background(), Infinite)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), b.CurrentPhase())
}

// TestAddParticipantDuringPhase checks that a participant added while one
// of two is still arriving joins the in-progress phase.
func TestAddParticipantDuringPhase(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := b.SignalAndWait(context.Background(), Infinite)
		require.NoError(t, err)
		require.True(t, ok)
	}()

	time.Sleep(20 * time.Millisecond)

	phase, err := b.AddParticipant()
	require.NoError(t, err)
	require.Equal(t, int64(0), phase)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			ok, err := b.SignalAndWait(context.Background(), Infinite)
			require.NoError(t, err)
			require.True(t, ok)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), b.CurrentPhase())
}

// TestAddParticipantDuringPostPhaseAction checks that adding a participant
// while the post-phase action is still running blocks inside the call
// until the phase is fully released.
func TestAddParticipantDuringPostPhaseAction(t *testing.T) {
	ppaStarted := make(chan struct{})
	releasePPA := make(chan struct{})

	b, err := New(2, WithPostPhaseAction(func(ctx context.Context, phase int64) error {
		close(ppaStarted)
		<-releasePPA
		return nil
	}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = b.SignalAndWait(context.Background(), Infinite)
	}()
	go func() {
		defer wg.Done()
		_, _ = b.SignalAndWait(context.Background(), Infinite)
	}()

	<-ppaStarted

	addDone := make(chan int64, 1)
	go func() {
		phase, err := b.AddParticipant()
		require.NoError(t, err)
		addDone <- phase
	}()

	select {
	case <-addDone:
		t.Fatal("AddParticipant returned before the post-phase action finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(releasePPA)
	wg.Wait()

	select {
	case phase := <-addDone:
		require.Equal(t, int64(1), phase)
	case <-time.After(time.Second):
		t.Fatal("AddParticipant never returned")
	}

	require.Equal(t, int64(1), b.CurrentPhase())
}

// TestOverArrivalDetection checks that an extra arrival during the narrow
// window between the sense flip and the phase counter advance is
// (best-effort) detected as ParticipantOverflow.
func TestOverArrivalDetection(t *testing.T) {
	releasePPA := make(chan struct{})
	b, err := New(1, WithPostPhaseAction(func(ctx context.Context, phase int64) error {
		<-releasePPA
		return nil
	}))
	require.NoError(t, err)

	firstDone := make(chan struct{})
	go func() {
		_, _ = b.SignalAndWait(context.Background(), Infinite)
		close(firstDone)
	}()

	time.Sleep(20 * time.Millisecond)

	_, err = b.SignalAndWait(context.Background(), Infinite)
	require.ErrorIs(t, err, ErrParticipantOverflow)

	close(releasePPA)
	<-firstDone
}
