package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"payload": "0xdead",
			"signature": "0xbeef",
			"data": {
				"decimals": 20,
				"prices": {"FLM": "123450000000000000000", "FUSD": "100000000000000000000"}
			}
		}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPSourceOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	feed, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if feed.Payload != "0xdead" || feed.Signature != "0xbeef" {
		t.Fatalf("attestation fields wrong: %+v", feed)
	}
	if feed.Decimals != 20 {
		t.Fatalf("expected 20 decimals, got %d", feed.Decimals)
	}
	want, _ := decimal.NewFromString("123450000000000000000")
	if !feed.Prices["FLM"].Equal(want) {
		t.Fatalf("FLM price wrong: %s", feed.Prices["FLM"])
	}
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPSourceOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := source.Fetch(context.Background()); !errors.Is(err, ErrPriceFeedUnavailable) {
		t.Fatalf("expected ErrPriceFeedUnavailable, got %v", err)
	}
}

func TestHTTPSourceBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPSourceOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := source.Fetch(context.Background()); !errors.Is(err, ErrPriceFeedUnavailable) {
		t.Fatalf("expected ErrPriceFeedUnavailable, got %v", err)
	}
}

func TestHTTPSourceMissingURL(t *testing.T) {
	source := NewHTTPSource(HTTPSourceOptions{}, zerolog.Nop())
	if _, err := source.Fetch(context.Background()); !errors.Is(err, ErrPriceFeedUnavailable) {
		t.Fatalf("expected ErrPriceFeedUnavailable, got %v", err)
	}
}
