package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-correction",
	Short: "Evaluate the correction decision against a synthetic position",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.CollateralBalance == "" || simulateOpts.DebtBalance == "" {
			return errors.New("--collateral-balance and --debt-balance must be provided")
		}
		if simulateOpts.MaxLoanToValue <= 0 {
			return errors.New("--max-ltv must be greater than zero")
		}
		return getApp().SimulateCorrection(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.CollateralBalance, "collateral-balance", "", "Position collateral balance (raw integer)")
	simulateCmd.Flags().StringVar(&simulateOpts.DebtBalance, "debt-balance", "", "Position debt balance (raw integer)")
	simulateCmd.Flags().StringVar(&simulateOpts.CollateralPrice, "collateral-price", "", "Collateral price (raw integer)")
	simulateCmd.Flags().StringVar(&simulateOpts.DebtPrice, "debt-price", "", "Debt asset price (raw integer)")
	simulateCmd.Flags().StringVar(&simulateOpts.AgentBalance, "agent-balance", "", "Agent debt-asset balance (raw integer)")
	simulateCmd.Flags().Int64Var(&simulateOpts.MaxLoanToValue, "max-ltv", 0, "Protocol LTV ceiling percent")
	simulateCmd.Flags().Int64Var(&simulateOpts.Limit, "limit", 0, "Correction quantity limit percent")
	simulateCmd.Flags().Int64Var(&simulateOpts.Bonus, "bonus", 0, "Maintenance bonus percent")
	simulateCmd.Flags().Int64Var(&simulateOpts.CollateralDecimals, "collateral-decimals", 8, "Collateral token decimals")
	simulateCmd.Flags().Int64Var(&simulateOpts.DebtDecimals, "debt-decimals", 8, "Debt token decimals")
}
