package confirm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

type fakeSubscription struct {
	errs chan error
	once sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errs: make(chan error)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errs) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errs
}

type fakeStreamer struct {
	mu   sync.Mutex
	ch   chan<- types.Log
	subs int
}

func (f *fakeStreamer) SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = ch
	f.subs++
	return newFakeSubscription(), nil
}

func (f *fakeStreamer) emit(l types.Log) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- l
}

func topicLog(topic common.Hash) types.Log {
	return types.Log{Topics: []common.Hash{topic}}
}

func matchTopic(topic common.Hash) func(types.Log) bool {
	return func(l types.Log) bool {
		return len(l.Topics) > 0 && l.Topics[0] == topic
	}
}

func startTracker(t *testing.T, wait time.Duration) (*Tracker, *fakeStreamer, context.CancelFunc) {
	t.Helper()

	streamer := &fakeStreamer{}
	tracker := NewTracker(Options{VerifyWait: wait}, streamer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := tracker.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start tracker: %v", err)
	}
	return tracker, streamer, cancel
}

func TestAwaitConfirmed(t *testing.T) {
	tracker, streamer, cancel := startTracker(t, 5*time.Second)
	defer cancel()

	topic := common.HexToHash("0xaa")
	pending := tracker.Expect(matchTopic(topic))

	go streamer.emit(topicLog(topic))

	result, err := pending.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", result.Status)
	}
	if result.Log.Topics[0] != topic {
		t.Fatal("confirmed result should carry the matching log")
	}
}

func TestAwaitTimesOut(t *testing.T) {
	tracker, _, cancel := startTracker(t, 50*time.Millisecond)
	defer cancel()

	pending := tracker.Expect(matchTopic(common.HexToHash("0xaa")))

	result, err := pending.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", result.Status)
	}
}

func TestNonMatchingLogIgnored(t *testing.T) {
	tracker, streamer, cancel := startTracker(t, 150*time.Millisecond)
	defer cancel()

	pending := tracker.Expect(matchTopic(common.HexToHash("0xaa")))

	go streamer.emit(topicLog(common.HexToHash("0xbb")))

	result, err := pending.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Fatalf("non-matching log must not confirm, got %s", result.Status)
	}
}

func TestLateEventDoesNotResolveTwice(t *testing.T) {
	tracker, streamer, cancel := startTracker(t, 30*time.Millisecond)
	defer cancel()

	topic := common.HexToHash("0xaa")
	pending := tracker.Expect(matchTopic(topic))

	result, err := pending.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", result.Status)
	}

	// The event arriving after expiry must not flip the terminal state.
	go streamer.emit(topicLog(topic))
	time.Sleep(50 * time.Millisecond)

	if got := pending.result().Status; got != StatusTimedOut {
		t.Fatalf("late event flipped status to %s", got)
	}
}

func TestCancelRemovesPending(t *testing.T) {
	tracker, _, cancel := startTracker(t, time.Second)
	defer cancel()

	pending := tracker.Expect(matchTopic(common.HexToHash("0xaa")))
	pending.Cancel()

	tracker.mu.Lock()
	remaining := len(tracker.pending)
	tracker.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected empty registry, %d left", remaining)
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	tracker, _, cancel := startTracker(t, time.Minute)
	defer cancel()

	pending := tracker.Expect(matchTopic(common.HexToHash("0xaa")))

	ctx, ctxCancel := context.WithCancel(context.Background())
	ctxCancel()

	if _, err := pending.Await(ctx); err == nil {
		t.Fatal("cancelled context should surface an error")
	}
}
