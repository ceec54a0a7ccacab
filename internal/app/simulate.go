package app

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/shopspring/decimal"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/pricefeed"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/risk"
)

// SimulateOptions supply a synthetic position and market for an offline
// decision dry-run. Balances are raw integer amounts, prices are raw
// integers at a shared precision, mirroring what the ledger would return.
type SimulateOptions struct {
	CollateralBalance string
	DebtBalance       string
	CollateralPrice   string
	DebtPrice         string
	AgentBalance      string

	MaxLoanToValue int64
	Limit          int64
	Bonus          int64

	CollateralDecimals int64
	DebtDecimals       int64
}

// SimulateCorrection evaluates the configured strategy against a synthetic
// position and prints the decision. Nothing touches the ledger.
func (a *App) SimulateCorrection(ctx context.Context, opts SimulateOptions) error {
	pos := chain.Position{}
	var err error
	if pos.CollateralBalance, err = parseBig(opts.CollateralBalance, "collateral balance"); err != nil {
		return err
	}
	if pos.DebtBalance, err = parseBig(opts.DebtBalance, "debt balance"); err != nil {
		return err
	}
	agentBalance, err := parseBig(opts.AgentBalance, "agent balance")
	if err != nil {
		return err
	}
	collateralPrice, err := parseDecimal(opts.CollateralPrice, "collateral price")
	if err != nil {
		return err
	}
	debtPrice, err := parseDecimal(opts.DebtPrice, "debt price")
	if err != nil {
		return err
	}

	kind := risk.IntentKind(a.Config.Agent.Mode)
	params := risk.Params{
		DebtMultiplier:       decimal.New(1, int32(opts.DebtDecimals)),
		CollateralMultiplier: decimal.New(1, int32(opts.CollateralDecimals)),
		MaxLoanToValue:       decimal.NewFromInt(opts.MaxLoanToValue),
		MaintenanceThreshold: decimal.NewFromFloat(a.Config.Agent.MaintenanceThreshold),
	}
	switch kind {
	case risk.KindLiquidation:
		params.LiquidationLimit = decimal.NewFromInt(opts.Limit)
	case risk.KindMaintenance:
		params.MaintenanceLimit = decimal.NewFromInt(opts.Limit)
		params.MaintenanceBonus = decimal.NewFromInt(opts.Bonus)
	}

	quote := pricefeed.Quote{
		DebtPrice:          debtPrice,
		CollateralOnChain:  collateralPrice,
		CollateralOffChain: collateralPrice,
		CollateralCombined: collateralPrice,
	}

	decision := risk.Evaluate(params, kind, agentBalance, pos, quote)

	fmt.Fprintf(os.Stdout, "strategy:      %s\n", kind)
	fmt.Fprintf(os.Stdout, "loan-to-value: %s%%\n", decision.LoanToValue.StringFixed(2))
	if decision.Skip != "" {
		fmt.Fprintf(os.Stdout, "decision:      skip (%s)\n", decision.Skip)
		return nil
	}
	fmt.Fprintf(os.Stdout, "decision:      correct with quantity %s\n", decision.Quantity.String())
	return nil
}

func parseBig(v, name string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", name, v)
	}
	return parsed, nil
}

func parseDecimal(v, name string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	parsed, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return parsed, nil
}
