// Package phasebarrier implements a reusable phased barrier: a rendezvous
// point for a dynamically sized group of goroutines that repeatedly arrive,
// wait for every other participant, and advance together through numbered
// phases.
//
// The barrier optionally runs a post-phase action (PPA) exactly once per
// phase, invoked by whichever goroutine is the last to arrive. All other
// participants are released only after the PPA completes, and a PPA failure
// is delivered to every participant released by that phase.
//
// The arrival state (sense, arrival count and participant count) lives in a
// single packed atomic word, advanced via compare-and-swap. Per-phase release uses two alternating manual-reset
// events (see event.go) to avoid the classic sense-reversing-barrier hazard
// where a fast arrival from phase p+1 starts draining the event meant for
// phase p.
//
// Participants may be added or removed while other participants are
// blocked waiting on the current phase; see AddParticipants and
// RemoveParticipants.
package phasebarrier
