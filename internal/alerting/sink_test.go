package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func captureSink(t *testing.T, dryRun bool) (*Sink, *webhookPayload, func()) {
	t.Helper()

	captured := &webhookPayload{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Fatalf("decode webhook payload: %v", err)
		}
	}))

	sink := NewSink(Options{
		WebhookURL: srv.URL,
		Timeout:    time.Second,
		AgentName:  "keeper-1",
		DryRun:     dryRun,
	}, zerolog.Nop())

	return sink, captured, srv.Close
}

func TestInitAlert(t *testing.T) {
	sink, payload, done := captureSink(t, false)
	defer done()

	sink.Init(context.Background(), "FLM", "FUSD", decimal.NewFromInt(500))

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(payload.Embeds))
	}
	e := payload.Embeds[0]
	if e.Title != "Initialized Agent" {
		t.Fatalf("unexpected title %q", e.Title)
	}
	if e.Color != colorInfo {
		t.Fatalf("unexpected color %d", e.Color)
	}
	if len(e.Fields) != 1 || e.Fields[0].Name != "Agent: keeper-1" {
		t.Fatalf("unexpected fields %+v", e.Fields)
	}
	if !strings.Contains(e.Fields[0].Value, "Balance: 500.00") {
		t.Fatalf("details missing balance: %q", e.Fields[0].Value)
	}
}

func TestDryRunTitlePrefix(t *testing.T) {
	sink, payload, done := captureSink(t, true)
	defer done()

	sink.CorrectionInitiated(context.Background(), "liquidation", "FLM", "FUSD", decimal.NewFromInt(10), "")

	if got := payload.Embeds[0].Title; got != "[DRY RUN]: Liquidation Initiated" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestCorrectionLifecycleColors(t *testing.T) {
	sink, payload, done := captureSink(t, false)
	defer done()

	ctx := context.Background()

	sink.CorrectionConfirmed(ctx, "maintenance", "FLM", "FUSD", decimal.NewFromInt(10), decimal.NewFromInt(12))
	if payload.Embeds[0].Title != "Maintenance Successful" || payload.Embeds[0].Color != colorSuccess {
		t.Fatalf("unexpected confirmed embed %+v", payload.Embeds[0])
	}

	sink.CorrectionUnconfirmed(ctx, "maintenance", "FLM", "FUSD")
	if payload.Embeds[0].Color != colorWarning {
		t.Fatalf("unconfirmed should be a warning, got %d", payload.Embeds[0].Color)
	}

	sink.CorrectionFailed(ctx, "maintenance", "FLM", "FUSD")
	if payload.Embeds[0].Color != colorFailure {
		t.Fatalf("failed should be a failure color, got %d", payload.Embeds[0].Color)
	}
}

func TestTxHashIncludedWhenPresent(t *testing.T) {
	sink, payload, done := captureSink(t, false)
	defer done()

	sink.CorrectionInitiated(context.Background(), "liquidation", "FLM", "FUSD", decimal.NewFromInt(10), "0xabc")

	if !strings.Contains(payload.Embeds[0].Fields[0].Value, "Tx Hash: 0xabc") {
		t.Fatalf("details missing tx hash: %q", payload.Embeds[0].Fields[0].Value)
	}
}

func TestNoURLIsNoOp(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	sink := NewSink(Options{AgentName: "keeper-1"}, zerolog.Nop())
	sink.Init(context.Background(), "FLM", "FUSD", decimal.Zero)

	if called {
		t.Fatal("sink without a URL must not post")
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	sink := NewSink(Options{WebhookURL: srv.URL, AgentName: "keeper-1"}, zerolog.Nop())

	// Must not panic or block; alerting is best-effort.
	sink.LowBalance(context.Background(), "FLM", "FUSD", decimal.NewFromInt(1), decimal.NewFromInt(5))
}
