package phasebarrier

import (
	"context"

	"github.com/rs/zerolog"
)

// PostPhaseAction is invoked exactly once per phase, by whichever
// participant is last to arrive, after every other participant's arrival
// has been observed but before any of them is released. phase is the
// number of the phase that just completed. An error (or a panic, which is
// recovered and treated identically) fails the phase for every participant
// released by it.
type PostPhaseAction func(ctx context.Context, phase int64) error

// options collects the New constructor's optional settings.
type options struct {
	ppa    PostPhaseAction
	logger *zerolog.Logger
	ctx    context.Context
}

// Option configures a Barrier at construction time.
type Option func(*options)

// WithPostPhaseAction registers the action run by the last-arriving
// participant of every phase.
func WithPostPhaseAction(fn PostPhaseAction) Option {
	return func(o *options) { o.ppa = fn }
}

// WithLogger sets the zerolog.Logger used to emit the per-phase trace
// event. The default, zerolog.Nop(), discards every event.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithContext sets the ambient context captured at construction and
// threaded through to every PostPhaseAction invocation. Defaults to
// context.Background().
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}
