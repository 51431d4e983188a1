package phasebarrier

import (
	"runtime"
	"sync/atomic"
)

// currentGoroutineID returns a stable integer identifying the calling
// goroutine, used as the thread-identity collaborator the reentry guard
// compares against. Go gives no public API for this; parsing the first
// line of runtime.Stack is the conventional workaround and is cheap enough
// to call on every SignalAndWait.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// reentryGuard records which goroutine, if any, is currently executing the
// barrier's post-phase action. Mutating operations (SignalAndWait,
// AddParticipants, RemoveParticipants, Dispose) must refuse to run if
// called by that same goroutine, since the PPA is not reentrant-safe
// against the barrier it belongs to.
type reentryGuard struct {
	goroutineID atomic.Uint64
}

func (g *reentryGuard) acquire() {
	g.goroutineID.Store(currentGoroutineID())
}

func (g *reentryGuard) release() {
	g.goroutineID.Store(0)
}

// heldByCaller reports whether the guard is currently held by the calling
// goroutine, i.e. the caller is the post-phase action attempting reentry.
func (g *reentryGuard) heldByCaller() bool {
	id := g.goroutineID.Load()
	return id != 0 && id == currentGoroutineID()
}
