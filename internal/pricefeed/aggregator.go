package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// onChainPriceDecimals is the fixed precision used when the signed feed is
// not consulted. Only whitelisted agents may correct with on-chain prices
// alone, so the contract pins the precision.
const onChainPriceDecimals = 20

// Oracle reads an asset price from the vault contract's on-chain oracle.
type Oracle interface {
	OnChainPrice(ctx context.Context, vault, token common.Address, decimals int64) (*big.Int, error)
}

// Quote is the unified view of the pair's prices for one iteration. Prices
// are raw integers at the quote's decimal precision; the precision cancels
// in every ratio the risk engine computes.
type Quote struct {
	Decimals           int64
	DebtPrice          decimal.Decimal
	CollateralOnChain  decimal.Decimal
	CollateralOffChain decimal.Decimal
	CollateralCombined decimal.Decimal
	Payload            []byte
	Signature          []byte
}

// Options bind the aggregator to one (collateral, debt) pair.
type Options struct {
	Vault            common.Address
	DebtToken        common.Address
	CollateralToken  common.Address
	CollateralSymbol string
}

// Aggregator blends the on-chain oracle price with the signed off-chain feed.
type Aggregator struct {
	opts   Options
	oracle Oracle
	source Source
	logger zerolog.Logger
}

// NewAggregator constructs a price aggregator.
func NewAggregator(opts Options, oracle Oracle, source Source, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		opts:   opts,
		oracle: oracle,
		source: source,
		logger: logger.With().Str("component", "price_aggregator").Logger(),
	}
}

// Quote aggregates the pair's prices. In on-chain-only mode both assets are
// read from the oracle at a fixed precision and no attestation is produced.
// Otherwise the combined collateral price is the arithmetic mean of the
// on-chain and off-chain sources, keeping a single stale or manipulated
// source from dominating while the attestation stays usable on-chain.
func (a *Aggregator) Quote(ctx context.Context, onChainOnly bool) (Quote, error) {
	if onChainOnly {
		debtPrice, collateralPrice, err := a.readPair(ctx, onChainPriceDecimals)
		if err != nil {
			return Quote{}, err
		}
		return Quote{
			Decimals:           onChainPriceDecimals,
			DebtPrice:          debtPrice,
			CollateralOnChain:  collateralPrice,
			CollateralOffChain: collateralPrice,
			CollateralCombined: collateralPrice,
		}, nil
	}

	feed, err := a.source.Fetch(ctx)
	if err != nil {
		return Quote{}, err
	}

	offChain, ok := feed.Prices[a.opts.CollateralSymbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w: symbol %s absent from feed", ErrPriceFeedUnavailable, a.opts.CollateralSymbol)
	}

	debtPrice, onChain, err := a.readPair(ctx, feed.Decimals)
	if err != nil {
		return Quote{}, err
	}

	combined := onChain.Add(offChain).Div(decimal.NewFromInt(2))
	a.logger.Debug().
		Str("on_chain", onChain.String()).
		Str("off_chain", offChain.String()).
		Str("combined", combined.String()).
		Msg("collateral price aggregated")

	return Quote{
		Decimals:           feed.Decimals,
		DebtPrice:          debtPrice,
		CollateralOnChain:  onChain,
		CollateralOffChain: offChain,
		CollateralCombined: combined,
		Payload:            []byte(feed.Payload),
		Signature:          []byte(feed.Signature),
	}, nil
}

func (a *Aggregator) readPair(ctx context.Context, decimals int64) (debt, collateral decimal.Decimal, err error) {
	debtRaw, err := a.oracle.OnChainPrice(ctx, a.opts.Vault, a.opts.DebtToken, decimals)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: debt asset: %v", ErrPriceUnavailable, err)
	}

	collateralRaw, err := a.oracle.OnChainPrice(ctx, a.opts.Vault, a.opts.CollateralToken, decimals)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: collateral asset: %v", ErrPriceUnavailable, err)
	}

	return decimal.NewFromBigInt(debtRaw, 0), decimal.NewFromBigInt(collateralRaw, 0), nil
}
