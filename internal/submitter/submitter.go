package submitter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/risk"
)

// Ledger is the slice of the chain client the submitter needs.
type Ledger interface {
	CheckFees(ctx context.Context, call chain.Call) (chain.FeeEstimate, error)
	SignAndBroadcast(ctx context.Context, call chain.Call, fees chain.FeeEstimate) (common.Hash, error)
}

// Options bind the submitter to the protocol and pricing mode.
type Options struct {
	Vault            common.Address
	DebtToken        common.Address
	CollateralToken  common.Address
	OnChainPriceOnly bool
	DryRun           bool
}

// Submitter turns correction intents into broadcast transactions.
type Submitter struct {
	opts   Options
	ledger Ledger
	logger zerolog.Logger
}

// New constructs a submitter.
func New(opts Options, ledger Ledger, logger zerolog.Logger) *Submitter {
	return &Submitter{
		opts:   opts,
		ledger: ledger,
		logger: logger.With().Str("component", "action_submitter").Logger(),
	}
}

// Submit builds the correction call for the intent, checks both fee
// components, and broadcasts unless running dry. A nil hash with nil error
// means the dry run short-circuited after the fee checks passed.
func (s *Submitter) Submit(ctx context.Context, intent risk.Intent) (*common.Hash, error) {
	call, err := s.buildCall(intent)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, call)
}

// Send fee-checks and broadcasts an arbitrary call with the same dry-run
// discipline as corrections. Used for rebalancing transactions.
func (s *Submitter) Send(ctx context.Context, call chain.Call) (*common.Hash, error) {
	fees, err := s.ledger.CheckFees(ctx, call)
	if err != nil {
		return nil, err
	}

	if s.opts.DryRun {
		s.logger.Info().Str("call", call.Description).Msg("not submitting transaction since dry run")
		return nil, nil
	}

	s.logger.Info().Str("call", call.Description).Msg("submitting transaction")
	hash, err := s.ledger.SignAndBroadcast(ctx, call, fees)
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

func (s *Submitter) buildCall(intent risk.Intent) (chain.Call, error) {
	switch intent.Kind {
	case risk.KindLiquidation:
		if s.opts.OnChainPriceOnly {
			return chain.LiquidateOCPCall(s.opts.Vault, s.opts.DebtToken, s.opts.CollateralToken, intent.Target, intent.Quantity)
		}
		return chain.LiquidateCall(s.opts.Vault, s.opts.DebtToken, s.opts.CollateralToken, intent.Target, intent.Quantity, intent.Quote.Payload, intent.Quote.Signature)
	case risk.KindMaintenance:
		if s.opts.OnChainPriceOnly {
			return chain.MaintainOCPCall(s.opts.Vault, s.opts.DebtToken, s.opts.CollateralToken, intent.Target, intent.Quantity)
		}
		return chain.MaintainCall(s.opts.Vault, s.opts.DebtToken, s.opts.CollateralToken, intent.Target, intent.Quantity, intent.Quote.Payload, intent.Quote.Signature)
	default:
		return chain.Call{}, fmt.Errorf("unknown correction kind %q", intent.Kind)
	}
}
