package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per agent iteration.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune loop behaviour.
type Options struct {
	Cadence      time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the agent iteration loop. The cadence is measured from
// iteration start, so a slow iteration shortens the following sleep rather
// than shifting every subsequent tick.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Cadence <= 0 {
		panic("scheduler cadence must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function every cadence until ctx is cancelled.
// Tick errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		s.logger.Info().Dur("delay", s.opts.StartupDelay).Msg("delaying startup")
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		start := time.Now().UTC()
		s.logger.Info().Time("tick", start).Msg("executing iteration")

		if err := tick(ctx, start); err != nil {
			s.logger.Error().Err(err).Time("tick", start).Msg("iteration failed")
		}

		delay := s.opts.Cadence - time.Since(start)
		if delay < 0 {
			delay = 0
		}
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honour cancellation between back-to-back iterations.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
