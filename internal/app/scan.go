package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/risk"
)

// Scan walks the vault listing once and prints every open position with its
// current loan-to-value. Read-only; no transactions are submitted.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	client, err := a.newChain()
	if err != nil {
		return err
	}

	aggregator, err := a.newAggregator(ctx, client)
	if err != nil {
		return err
	}

	quote, err := aggregator.Quote(ctx, a.Config.Agent.OnChainPriceOnly)
	if err != nil {
		return err
	}

	vault := common.HexToAddress(a.Config.Protocol.VaultAddress)
	collateral := common.HexToAddress(a.Config.Protocol.CollateralTokenAddress)
	debt := common.HexToAddress(a.Config.Protocol.DebtTokenAddress)

	collateralDecimals, err := client.Decimals(ctx, collateral)
	if err != nil {
		return fmt.Errorf("resolve collateral decimals: %w", err)
	}
	debtDecimals, err := client.Decimals(ctx, debt)
	if err != nil {
		return fmt.Errorf("resolve debt decimals: %w", err)
	}
	maxLTV, err := client.MaxLoanToValue(ctx, vault, collateral)
	if err != nil {
		return fmt.Errorf("resolve max loan to value: %w", err)
	}
	liquidationBonus, err := client.LiquidationBonus(ctx, vault, collateral)
	if err != nil {
		return fmt.Errorf("resolve liquidation bonus: %w", err)
	}
	height, err := client.BlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("read block height: %w", err)
	}
	fmt.Fprintf(os.Stdout, "block %d, max LTV %d%%, liquidation bonus %d%%\n\n", height, maxLTV, liquidationBonus)

	params := risk.Params{
		DebtMultiplier:       decimal.New(1, int32(debtDecimals)),
		CollateralMultiplier: decimal.New(1, int32(collateralDecimals)),
		MaxLoanToValue:       decimal.NewFromInt(maxLTV),
	}

	scan := a.newScanner(client)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Account\tCollateral\tDebt\tLTV%\tAbove Ceiling")

	total, flagged := 0, 0
	for pageNum := 0; opts.MaxPages <= 0 || pageNum < opts.MaxPages; pageNum++ {
		positions, err := scan.Page(ctx, pageNum)
		if err != nil {
			return fmt.Errorf("scan page %d: %w", pageNum, err)
		}
		if len(positions) == 0 {
			break
		}

		for _, pos := range positions {
			if pos.CollateralBalance == nil || pos.CollateralBalance.Sign() == 0 {
				continue
			}

			ltv := risk.LoanToValue(params, pos, quote)
			above := ltv.GreaterThan(params.MaxLoanToValue)
			total++
			if above {
				flagged++
			}

			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%v\n",
				pos.Account.Hex(),
				decimal.NewFromBigInt(pos.CollateralBalance, 0).Div(params.CollateralMultiplier).StringFixed(4),
				decimal.NewFromBigInt(pos.DebtBalance, 0).Div(params.DebtMultiplier).StringFixed(4),
				ltv.StringFixed(2),
				above,
			)
		}
	}

	writer.Flush()
	fmt.Fprintf(os.Stdout, "\n%d open positions, %d above the %s%% ceiling\n", total, flagged, params.MaxLoanToValue.String())
	return nil
}
