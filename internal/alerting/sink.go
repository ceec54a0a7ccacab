package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Embed colors, matching the conventions of the receiving webhook.
const (
	colorInfo    = 3447003
	colorSuccess = 5763719
	colorWarning = 16776960
	colorFailure = 15548997
)

// Options configure the outbound webhook.
type Options struct {
	WebhookURL string
	Timeout    time.Duration
	AgentName  string
	DryRun     bool
}

// Sink mirrors agent lifecycle events to a webhook. Delivery is best-effort:
// failures are logged and swallowed, and the sink is a no-op when no URL is
// configured.
type Sink struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
}

// NewSink constructs a webhook sink.
func NewSink(opts Options, logger zerolog.Logger) *Sink {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		opts:   opts,
		logger: logger.With().Str("component", "alert_sink").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type embedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title  string       `json:"title"`
	Color  int          `json:"color"`
	Footer embedFooter  `json:"footer"`
	Fields []embedField `json:"fields"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

func (s *Sink) post(ctx context.Context, title, details string, color int) {
	if s.opts.WebhookURL == "" {
		return
	}
	if s.opts.DryRun {
		title = "[DRY RUN]: " + title
	}

	payload := webhookPayload{Embeds: []embed{{
		Title:  title,
		Color:  color,
		Footer: embedFooter{Text: time.Now().UTC().Format(time.RFC1123)},
		Fields: []embedField{{Name: "Agent: " + s.opts.AgentName, Value: details}},
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("failed to encode alert")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("failed to deliver alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn().Int("status", resp.StatusCode).Str("title", title).Msg("alert endpoint returned error")
	}
}

func pairDetails(collateral, debt string) string {
	return fmt.Sprintf("Collateral: %s\nDebt Asset: %s", collateral, debt)
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Init announces a started agent and its opening balance.
func (s *Sink) Init(ctx context.Context, collateral, debt string, balance decimal.Decimal) {
	details := fmt.Sprintf("%s\nBalance: %s", pairDetails(collateral, debt), amount(balance))
	s.post(ctx, "Initialized Agent", details, colorInfo)
}

// LowBalance warns that the agent's debt-asset balance is running out.
func (s *Sink) LowBalance(ctx context.Context, collateral, debt string, balance, threshold decimal.Decimal) {
	details := fmt.Sprintf("%s\nBalance: %s\nThreshold: %s", pairDetails(collateral, debt), amount(balance), amount(threshold))
	s.post(ctx, "Low Balance", details, colorWarning)
}

// CorrectionInitiated reports a submitted correction transaction.
func (s *Sink) CorrectionInitiated(ctx context.Context, kind, collateral, debt string, quantity decimal.Decimal, txHash string) {
	details := fmt.Sprintf("%s\nQuantity: %s", pairDetails(collateral, debt), amount(quantity))
	if txHash != "" {
		details += "\nTx Hash: " + txHash
	}
	s.post(ctx, title(kind)+" Initiated", details, colorInfo)
}

// CorrectionConfirmed reports the quantities observed in the ledger event.
func (s *Sink) CorrectionConfirmed(ctx context.Context, kind, collateral, debt string, debtQuantity, collateralQuantity decimal.Decimal) {
	details := fmt.Sprintf("%s\nDebt Quantity: %s\nCollateral Quantity: %s", pairDetails(collateral, debt), amount(debtQuantity), amount(collateralQuantity))
	s.post(ctx, title(kind)+" Successful", details, colorSuccess)
}

// CorrectionUnconfirmed reports a deadline expiry. The transaction may still
// have succeeded, so this is distinct from failure.
func (s *Sink) CorrectionUnconfirmed(ctx context.Context, kind, collateral, debt string) {
	s.post(ctx, title(kind)+" Unconfirmed", pairDetails(collateral, debt), colorWarning)
}

// CorrectionFailed reports a correction that never made it onto the wire.
func (s *Sink) CorrectionFailed(ctx context.Context, kind, collateral, debt string) {
	s.post(ctx, title(kind)+" Failed", pairDetails(collateral, debt), colorFailure)
}

// ExitInitiated reports a wrapped-position exit submission.
func (s *Sink) ExitInitiated(ctx context.Context, symbol string, quantity decimal.Decimal, txHash string) {
	details := fmt.Sprintf("Token: %s\nQuantity: %s", symbol, amount(quantity))
	if txHash != "" {
		details += "\nTx Hash: " + txHash
	}
	s.post(ctx, "Exit Initiated", details, colorInfo)
}

// ExitConfirmed reports a completed wrapped-position exit.
func (s *Sink) ExitConfirmed(ctx context.Context, fromSymbol, toSymbol string, inQuantity, outQuantity decimal.Decimal) {
	details := fmt.Sprintf("From: %s\nTo: %s\nIn: %s\nOut: %s", fromSymbol, toSymbol, amount(inQuantity), amount(outQuantity))
	s.post(ctx, "Exit Successful", details, colorSuccess)
}

// ExitUnconfirmed reports an exit whose event never arrived in time.
func (s *Sink) ExitUnconfirmed(ctx context.Context, symbol string) {
	s.post(ctx, "Exit Unconfirmed", "Token: "+symbol, colorWarning)
}

// ExitFailed reports an exit that could not be submitted.
func (s *Sink) ExitFailed(ctx context.Context, symbol string) {
	s.post(ctx, "Exit Failed", "Token: "+symbol, colorFailure)
}

// SwapInitiated reports a rebalancing swap submission.
func (s *Sink) SwapInitiated(ctx context.Context, fromSymbol, toSymbol string, quantity decimal.Decimal, txHash string) {
	details := fmt.Sprintf("From: %s\nTo: %s\nQuantity: %s", fromSymbol, toSymbol, amount(quantity))
	if txHash != "" {
		details += "\nTx Hash: " + txHash
	}
	s.post(ctx, "Swap Initiated", details, colorInfo)
}

// SwapConfirmed reports a completed rebalancing swap.
func (s *Sink) SwapConfirmed(ctx context.Context, fromSymbol, toSymbol string, inQuantity, outQuantity decimal.Decimal) {
	details := fmt.Sprintf("From: %s\nTo: %s\nIn: %s\nOut: %s", fromSymbol, toSymbol, amount(inQuantity), amount(outQuantity))
	s.post(ctx, "Swap Successful", details, colorSuccess)
}

// SwapUnconfirmed reports a swap whose event never arrived in time.
func (s *Sink) SwapUnconfirmed(ctx context.Context, fromSymbol, toSymbol string) {
	s.post(ctx, "Swap Unconfirmed", fmt.Sprintf("From: %s\nTo: %s", fromSymbol, toSymbol), colorWarning)
}

// SwapFailed reports a swap that could not be submitted.
func (s *Sink) SwapFailed(ctx context.Context, fromSymbol, toSymbol string) {
	s.post(ctx, "Swap Failed", fmt.Sprintf("From: %s\nTo: %s", fromSymbol, toSymbol), colorFailure)
}

func title(kind string) string {
	switch kind {
	case "liquidation":
		return "Liquidation"
	case "maintenance":
		return "Maintenance"
	default:
		return "Correction"
	}
}
