package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/app"
)

var (
	showLimit       int
	showCorrections bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent iteration samples or correction attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:       showLimit,
			Corrections: showCorrections,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showCorrections, "corrections", false, "Show correction attempts instead of iteration samples")
}
