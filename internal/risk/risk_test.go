package risk

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/pricefeed"
)

func testParams() Params {
	return Params{
		DebtMultiplier:       decimal.New(1, 8),
		CollateralMultiplier: decimal.New(1, 8),
		MaxLoanToValue:       decimal.NewFromInt(60),
		LiquidationLimit:     decimal.NewFromInt(50),
		MaintenanceLimit:     decimal.NewFromInt(100),
		MaintenanceBonus:     decimal.NewFromInt(20),
	}
}

func evenQuote() pricefeed.Quote {
	price := decimal.New(1, 20)
	return pricefeed.Quote{
		Decimals:           20,
		DebtPrice:          price,
		CollateralOnChain:  price,
		CollateralOffChain: price,
		CollateralCombined: price,
	}
}

func position(collateral, debt int64) chain.Position {
	scale := big.NewInt(100_000_000)
	return chain.Position{
		Account:           common.HexToAddress("0x01"),
		CollateralBalance: new(big.Int).Mul(big.NewInt(collateral), scale),
		DebtBalance:       new(big.Int).Mul(big.NewInt(debt), scale),
	}
}

func TestLoanToValue(t *testing.T) {
	// Equal prices and multipliers: 100 debt against 50 collateral is 200%.
	ltv := LoanToValue(testParams(), position(50, 100), evenQuote())
	if !ltv.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected LTV 200, got %s", ltv)
	}
}

func TestLoanToValueZeroDebt(t *testing.T) {
	ltv := LoanToValue(testParams(), position(50, 0), evenQuote())
	if !ltv.IsZero() {
		t.Fatalf("zero debt should produce zero LTV, got %s", ltv)
	}
}

func TestLoanToValueZeroCollateral(t *testing.T) {
	ltv := LoanToValue(testParams(), position(0, 100), evenQuote())
	if !ltv.IsZero() {
		t.Fatalf("zero collateral should not fault, got %s", ltv)
	}
}

func TestLiquidationQuantityCappedByLimit(t *testing.T) {
	// 50% of a 600 debt is 300; the agent holds 500, so the cap binds.
	p := testParams()
	pos := position(1000, 600)
	balance := new(big.Int).Mul(big.NewInt(500), big.NewInt(100_000_000))

	quantity := LiquidationQuantity(p, balance, pos)
	want := new(big.Int).Mul(big.NewInt(300), big.NewInt(100_000_000))
	if quantity.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, quantity)
	}
}

func TestLiquidationQuantityCappedByBalance(t *testing.T) {
	p := testParams()
	pos := position(1000, 600)
	balance := new(big.Int).Mul(big.NewInt(100), big.NewInt(100_000_000))

	quantity := LiquidationQuantity(p, balance, pos)
	if quantity.Cmp(balance) != 0 {
		t.Fatalf("expected balance cap %s, got %s", balance, quantity)
	}
}

func TestMaintenanceQuantityBoundedByCollateral(t *testing.T) {
	// An under-collateralized vault: 120 collateral against 10000 debt. The
	// collateral bound with a 20% bonus is 90*120/120 = 90, well under the
	// 100% debt limit, and the haircut keeps the result strictly below what
	// the vault could pay out.
	p := testParams()
	pos := position(120, 10_000)
	balance := new(big.Int).Mul(big.NewInt(100_000), big.NewInt(100_000_000))

	quantity := MaintenanceQuantity(p, balance, pos, evenQuote())
	want := new(big.Int).Mul(big.NewInt(90), big.NewInt(100_000_000))
	if quantity.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, quantity)
	}
}

func TestMaintenanceQuantityZeroDebtPrice(t *testing.T) {
	q := evenQuote()
	q.DebtPrice = decimal.Zero

	quantity := MaintenanceQuantity(testParams(), big.NewInt(1), position(100, 100), q)
	if quantity.Sign() != 0 {
		t.Fatalf("zero debt price should yield zero quantity, got %s", quantity)
	}
}

func TestMaintenanceQuantityNonNegative(t *testing.T) {
	quantity := MaintenanceQuantity(testParams(), big.NewInt(0), position(100, 100), evenQuote())
	if quantity.Sign() < 0 {
		t.Fatalf("quantity must never be negative, got %s", quantity)
	}
}

func TestEvaluateSkipsHealthyPosition(t *testing.T) {
	balance := new(big.Int).Mul(big.NewInt(1000), big.NewInt(100_000_000))
	decision := Evaluate(testParams(), KindLiquidation, balance, position(1000, 100), evenQuote())
	if decision.Skip == "" {
		t.Fatal("healthy position should be skipped")
	}
}

func TestEvaluateActsOnRiskyPosition(t *testing.T) {
	balance := new(big.Int).Mul(big.NewInt(1000), big.NewInt(100_000_000))
	decision := Evaluate(testParams(), KindLiquidation, balance, position(100, 100), evenQuote())
	if decision.Skip != "" {
		t.Fatalf("risky position should be corrected, skipped with %q", decision.Skip)
	}
	if decision.Quantity.Sign() <= 0 {
		t.Fatalf("expected positive quantity, got %s", decision.Quantity)
	}
}

func TestEvaluateMaintenanceThreshold(t *testing.T) {
	p := testParams()
	p.MaintenanceThreshold = decimal.NewFromInt(1000)

	balance := new(big.Int).Mul(big.NewInt(1000), big.NewInt(100_000_000))
	decision := Evaluate(p, KindMaintenance, balance, position(100, 100), evenQuote())
	if decision.Skip == "" {
		t.Fatal("quantity under the maintenance threshold should be skipped")
	}
}

func TestEvaluateZeroBalance(t *testing.T) {
	decision := Evaluate(testParams(), KindLiquidation, big.NewInt(0), position(100, 100), evenQuote())
	if decision.Skip == "" {
		t.Fatal("a broke agent has no usable quantity")
	}
}

func TestIntentKind(t *testing.T) {
	if IntentKind("liquidate") != KindLiquidation {
		t.Fatal("liquidate mode should map to liquidation")
	}
	if IntentKind("maintain") != KindMaintenance {
		t.Fatal("maintain mode should map to maintenance")
	}
}
