package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesTicks(t *testing.T) {
	s := New(Options{Cadence: 10 * time.Millisecond}, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	tick := func(ctx context.Context, _ time.Time) error {
		if atomic.AddInt64(&ticks, 1) >= 3 {
			cancel()
		}
		return nil
	}

	err := s.Run(ctx, tick)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if atomic.LoadInt64(&ticks) < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}

func TestRunContinuesPastTickErrors(t *testing.T) {
	s := New(Options{Cadence: 5 * time.Millisecond}, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	tick := func(ctx context.Context, _ time.Time) error {
		if atomic.AddInt64(&ticks, 1) >= 2 {
			cancel()
		}
		return errors.New("iteration blew up")
	}

	_ = s.Run(ctx, tick)
	if atomic.LoadInt64(&ticks) < 2 {
		t.Fatalf("loop stopped after a tick error, got %d ticks", ticks)
	}
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s := New(Options{Cadence: time.Minute, StartupDelay: time.Minute}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error { return nil })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation during startup delay")
	}
}

func TestNewRejectsNonPositiveCadence(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero cadence")
		}
	}()
	New(Options{}, zerolog.Nop())
}
