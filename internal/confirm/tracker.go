package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a pending confirmation. Transitions are
// Pending -> Confirmed or Pending -> TimedOut, both terminal.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusTimedOut
)

// String renders the status for logs and alerts.
func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// LogStreamer opens a ledger log subscription scoped to contract addresses.
type LogStreamer interface {
	SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Options tune the tracker.
type Options struct {
	// Contracts whose events the shared stream carries.
	Contracts []common.Address
	// VerifyWait is how long a pending action waits for its event.
	VerifyWait time.Duration
}

// Tracker owns the event-stream subscription and a registry of pending
// confirmations. Registration and removal are safe while a dispatch is in
// progress.
type Tracker struct {
	opts     Options
	streamer LogStreamer
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[uint64]*Pending
	nextID  uint64
}

// NewTracker constructs a confirmation tracker.
func NewTracker(opts Options, streamer LogStreamer, logger zerolog.Logger) *Tracker {
	return &Tracker{
		opts:     opts,
		streamer: streamer,
		logger:   logger.With().Str("component", "confirmation_tracker").Logger(),
		pending:  make(map[uint64]*Pending),
	}
}

// Start establishes the log subscription and begins dispatching. It returns
// only once the stream is ready; an unreachable stream at boot is fatal.
func (t *Tracker) Start(ctx context.Context) error {
	ch := make(chan types.Log, 64)
	sub, err := t.streamer.SubscribeLogs(ctx, t.opts.Contracts, ch)
	if err != nil {
		return err
	}

	t.logger.Info().Int("contracts", len(t.opts.Contracts)).Msg("event stream established")
	go t.run(ctx, sub, ch)
	return nil
}

func (t *Tracker) run(ctx context.Context, sub ethereum.Subscription, ch chan types.Log) {
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			sub.Unsubscribe()
			t.logger.Error().Err(err).Msg("event stream dropped; resubscribing")
			sub = t.resubscribe(ctx, ch)
			if sub == nil {
				return
			}
		case l := <-ch:
			t.dispatch(l)
		}
	}
}

func (t *Tracker) resubscribe(ctx context.Context, ch chan types.Log) ethereum.Subscription {
	for {
		sub, err := t.streamer.SubscribeLogs(ctx, t.opts.Contracts, ch)
		if err == nil {
			t.logger.Info().Msg("event stream re-established")
			return sub
		}

		t.logger.Error().Err(err).Msg("resubscribe failed; retrying")
		timer := time.NewTimer(5 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (t *Tracker) dispatch(l types.Log) {
	t.mu.Lock()
	waiting := make([]*Pending, 0, len(t.pending))
	for _, p := range t.pending {
		waiting = append(waiting, p)
	}
	t.mu.Unlock()

	for _, p := range waiting {
		if p.match(l) {
			p.resolve(l)
		}
	}
}

// Expect registers interest in the first log satisfying match. The deadline
// clock starts now.
func (t *Tracker) Expect(match func(types.Log) bool) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	p := &Pending{
		tracker:  t,
		id:       t.nextID,
		match:    match,
		deadline: time.Now().Add(t.opts.VerifyWait),
		done:     make(chan struct{}),
	}
	t.pending[p.id] = p
	return p
}

func (t *Tracker) remove(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Result is the terminal outcome of a pending confirmation.
type Result struct {
	Status Status
	// Log is set when Status is StatusConfirmed.
	Log types.Log
}

// Pending tracks one in-flight action's expected event. Exactly one terminal
// resolution is ever produced: the status transition is guarded by a mutex,
// so a late event cannot resolve an already-timed-out action.
type Pending struct {
	tracker  *Tracker
	id       uint64
	match    func(types.Log) bool
	deadline time.Time
	done     chan struct{}

	mu     sync.Mutex
	status Status
	log    types.Log
}

func (p *Pending) resolve(l types.Log) {
	p.mu.Lock()
	if p.status != StatusPending {
		p.mu.Unlock()
		return
	}
	p.status = StatusConfirmed
	p.log = l
	close(p.done)
	p.mu.Unlock()

	p.tracker.remove(p.id)
}

func (p *Pending) expire() bool {
	p.mu.Lock()
	if p.status != StatusPending {
		p.mu.Unlock()
		return false
	}
	p.status = StatusTimedOut
	close(p.done)
	p.mu.Unlock()

	p.tracker.remove(p.id)
	return true
}

// Cancel deregisters a pending confirmation whose action never made it onto
// the wire. Await must not be called afterwards.
func (p *Pending) Cancel() {
	p.expire()
}

// Await blocks until the expected event arrives or the deadline passes. A
// timeout is not a failure: the underlying transaction may still succeed, so
// callers report "unconfirmed" rather than "failed".
func (p *Pending) Await(ctx context.Context) (Result, error) {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result(), nil
	case <-timer.C:
		if p.expire() {
			return Result{Status: StatusTimedOut}, nil
		}
		// The event won the race; the terminal state is already set.
		<-p.done
		return p.result(), nil
	case <-ctx.Done():
		p.expire()
		return Result{}, ctx.Err()
	}
}

func (p *Pending) result() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Result{Status: p.status, Log: p.log}
}
