// Command barrierdemo drives a Barrier through several phases with a
// configurable worker count, printing a structured trace line per phase.
// It exercises the barrier end-to-end from outside the test suite: a fixed
// number of workers advancing in multi-round lock-step, and optionally a
// deliberately failing post-phase action on one phase. The participant
// count stays fixed; no participants are added or removed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	phasebarrier "github.com/joeycumines/go-phasebarrier"
	"github.com/joeycumines/go-phasebarrier/internal/democonfig"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "barrierdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := democonfig.Load()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("run_id", runID).
		Logger()

	b, err := phasebarrier.New(cfg.Workers,
		phasebarrier.WithLogger(&logger),
		phasebarrier.WithContext(context.Background()),
		phasebarrier.WithPostPhaseAction(func(ctx context.Context, phase int64) error {
			if phase == cfg.FailPhase {
				return fmt.Errorf("barrierdemo: injected failure on phase %d", phase)
			}
			logger.Info().Int64("phase", phase).Msg("post-phase action ran")
			return nil
		}),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			for phase := 0; phase < cfg.Phases; phase++ {
				time.Sleep(cfg.WorkDuration)
				_, err := b.SignalAndWait(ctx, phasebarrier.Infinite)
				if err != nil && !isExpectedFailure(err, cfg.FailPhase) {
					return fmt.Errorf("worker %d: %w", worker, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Int64("final_phase", b.CurrentPhase()).Msg("demo complete")
	return nil
}

// isExpectedFailure reports whether err is the single PostPhaseFailure the
// demo deliberately injects, which every worker should tolerate and keep
// going past.
func isExpectedFailure(err error, failPhase int64) bool {
	if failPhase < 0 {
		return false
	}
	var ppf *phasebarrier.PostPhaseFailureError
	return errors.As(err, &ppf) && ppf.Phase == failPhase
}
