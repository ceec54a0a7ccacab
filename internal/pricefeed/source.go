package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrPriceUnavailable indicates an on-chain oracle read failed.
	ErrPriceUnavailable = errors.New("on-chain price unavailable")
	// ErrPriceFeedUnavailable indicates the signed feed could not be used.
	ErrPriceFeedUnavailable = errors.New("price feed unavailable")
)

// Feed is one response from the signed off-chain price service. Payload and
// Signature are opaque attestation bytes consumed by the vault contract.
type Feed struct {
	Payload   string
	Signature string
	Decimals  int64
	Prices    map[string]decimal.Decimal
}

// Source fetches the external signed price feed.
type Source interface {
	Fetch(ctx context.Context) (Feed, error)
}

// HTTPSourceOptions parameterise the feed client.
type HTTPSourceOptions struct {
	URL     string
	Timeout time.Duration
}

// HTTPSource fetches the signed feed over HTTP GET.
type HTTPSource struct {
	opts   HTTPSourceOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTPSource constructs a feed client.
func NewHTTPSource(opts HTTPSourceOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		opts:   opts,
		logger: logger.With().Str("component", "price_feed").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type feedResponse struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Data      struct {
		Decimals int64                      `json:"decimals"`
		Prices   map[string]decimal.Decimal `json:"prices"`
	} `json:"data"`
}

// Fetch retrieves and decodes the signed feed.
func (s *HTTPSource) Fetch(ctx context.Context) (Feed, error) {
	if s.opts.URL == "" {
		return Feed{}, fmt.Errorf("%w: url not configured", ErrPriceFeedUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return Feed{}, fmt.Errorf("%w: %v", ErrPriceFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Feed{}, fmt.Errorf("%w: %v", ErrPriceFeedUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Feed{}, fmt.Errorf("%w: %v", ErrPriceFeedUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Feed{}, fmt.Errorf("%w: status %d: %s", ErrPriceFeedUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded feedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Feed{}, fmt.Errorf("%w: decode response: %v", ErrPriceFeedUnavailable, err)
	}

	return Feed{
		Payload:   decoded.Payload,
		Signature: decoded.Signature,
		Decimals:  decoded.Data.Decimals,
		Prices:    decoded.Data.Prices,
	}, nil
}

var _ Source = (*HTTPSource)(nil)
