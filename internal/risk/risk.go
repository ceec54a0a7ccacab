package risk

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/pricefeed"
)

// Kind distinguishes the two correction strategies.
type Kind string

const (
	KindLiquidation Kind = "liquidation"
	KindMaintenance Kind = "maintenance"
)

var (
	hundred = decimal.NewFromInt(100)
	ninety  = decimal.NewFromInt(90)
)

// Params is the immutable protocol context the risk math runs against,
// resolved once at startup.
type Params struct {
	DebtMultiplier       decimal.Decimal
	CollateralMultiplier decimal.Decimal
	MaxLoanToValue       decimal.Decimal
	LiquidationLimit     decimal.Decimal
	MaintenanceLimit     decimal.Decimal
	MaintenanceBonus     decimal.Decimal
	// MaintenanceThreshold is in human units of the debt asset; maintenance
	// below it is not worth the gas.
	MaintenanceThreshold decimal.Decimal
}

// Intent is a decided correction, ready for submission.
type Intent struct {
	Kind     Kind
	Target   common.Address
	Quantity *big.Int
	Quote    pricefeed.Quote
}

// LoanToValue computes a position's LTV percent, normalized for each asset's
// decimal multiplier. A zero debt numerator is a legitimate "no risk" result,
// not a division fault.
func LoanToValue(p Params, pos chain.Position, q pricefeed.Quote) decimal.Decimal {
	numerator := decimal.NewFromBigInt(pos.DebtBalance, 0).
		Mul(q.DebtPrice).
		Mul(p.CollateralMultiplier)
	if numerator.IsZero() {
		return decimal.Zero
	}

	denominator := decimal.NewFromBigInt(pos.CollateralBalance, 0).
		Mul(q.CollateralCombined).
		Mul(p.DebtMultiplier)
	if denominator.IsZero() {
		return decimal.Zero
	}

	return hundred.Mul(numerator).Div(denominator)
}

// LiquidationQuantity computes the maximum safe liquidation quantity:
// floor(min(actor balance, limit% of the target's debt)).
func LiquidationQuantity(p Params, actorBalance *big.Int, pos chain.Position) *big.Int {
	maxQuantity := p.LiquidationLimit.
		Mul(decimal.NewFromBigInt(pos.DebtBalance, 0)).
		Div(hundred)
	clipped := decimal.Min(decimal.NewFromBigInt(actorBalance, 0), maxQuantity).Floor()
	return clipped.BigInt()
}

// MaintenanceQuantity computes the maximum safe maintenance quantity. Besides
// the protocol's percentage cap and the actor's own balance, it is bounded by
// the collateral actually present in the vault: in the unlikely case the
// vault is under-collateralized we can only maintain as much collateral as
// exists, and a conservative 90% haircut avoids an on-chain abort.
func MaintenanceQuantity(p Params, actorBalance *big.Int, pos chain.Position, q pricefeed.Quote) *big.Int {
	if q.DebtPrice.IsZero() {
		return big.NewInt(0)
	}

	maxFromDebt := p.MaintenanceLimit.
		Mul(decimal.NewFromBigInt(pos.DebtBalance, 0)).
		Div(hundred)

	maxCollateral := ninety.
		Mul(decimal.NewFromBigInt(pos.CollateralBalance, 0)).
		Div(hundred.Add(p.MaintenanceBonus))
	maxFromCollateral := maxCollateral.
		Mul(q.CollateralCombined).
		Mul(p.DebtMultiplier).
		Div(q.DebtPrice.Mul(p.CollateralMultiplier))

	maxQuantity := decimal.Min(maxFromDebt, maxFromCollateral)
	clipped := decimal.Min(decimal.NewFromBigInt(actorBalance, 0), maxQuantity).Floor()
	return clipped.BigInt()
}

// Decision is the outcome of evaluating one position.
type Decision struct {
	LoanToValue decimal.Decimal
	Quantity    *big.Int
	// Skip names why no correction should be attempted; empty means act.
	Skip string
}

// Evaluate applies the decision policy to one position: act only when LTV
// exceeds the protocol maximum, and for maintenance only when the quantity
// clears the configured minimum in human units.
func Evaluate(p Params, kind Kind, actorBalance *big.Int, pos chain.Position, q pricefeed.Quote) Decision {
	ltv := LoanToValue(p, pos, q)
	if !ltv.GreaterThan(p.MaxLoanToValue) {
		return Decision{LoanToValue: ltv, Skip: "ltv within bounds"}
	}

	var quantity *big.Int
	switch kind {
	case KindMaintenance:
		quantity = MaintenanceQuantity(p, actorBalance, pos, q)
		scaled := decimal.NewFromBigInt(quantity, 0).Div(p.DebtMultiplier)
		if !scaled.GreaterThan(p.MaintenanceThreshold) {
			return Decision{LoanToValue: ltv, Quantity: quantity, Skip: "quantity below maintenance threshold"}
		}
	default:
		quantity = LiquidationQuantity(p, actorBalance, pos)
	}

	if quantity.Sign() <= 0 {
		return Decision{LoanToValue: ltv, Quantity: quantity, Skip: "no usable quantity"}
	}

	return Decision{LoanToValue: ltv, Quantity: quantity}
}

// IntentKind maps an agent mode string to a correction kind.
func IntentKind(mode string) Kind {
	if mode == "liquidate" {
		return KindLiquidation
	}
	return KindMaintenance
}
