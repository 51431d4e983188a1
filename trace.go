package phasebarrier

import "github.com/rs/zerolog"

// PhaseFinishedEvent is the structured trace record emitted once per
// completed phase, after the post-phase action has run and the phase
// counter has advanced and the release events have been flipped.
type PhaseFinishedEvent struct {
	// Phase is the phase number that just finished.
	Phase int64
	// Sense is the sense observed by the arrival that finished the phase,
	// i.e. the sense of the phase being released, not the one about to
	// start.
	Sense bool
	// Participants is the registered participant count at the moment the
	// phase finished.
	Participants uint32
	// PostPhaseActionRan is true if a post-phase action was configured and
	// invoked for this phase.
	PostPhaseActionRan bool
	// PostPhaseActionErr is the error (if any) the post-phase action
	// produced. Nil on success or when no action was configured.
	PostPhaseActionErr error
}

func (b *Barrier) trace(ev PhaseFinishedEvent) {
	logger := b.logger
	if logger == nil {
		return
	}
	e := logger.Debug()
	if ev.PostPhaseActionErr != nil {
		e = logger.Warn()
	}
	e.Int64("phase", ev.Phase).
		Bool("sense", ev.Sense).
		Uint32("participants", ev.Participants).
		Bool("ppa_ran", ev.PostPhaseActionRan).
		AnErr("ppa_err", ev.PostPhaseActionErr).
		Msg("phasebarrier: phase finished")
}

// defaultLogger is used when a Barrier is constructed without WithLogger;
// it discards everything, so tracing costs nothing unless explicitly
// enabled.
func defaultLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
