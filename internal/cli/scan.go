package cli

import (
	"github.com/spf13/cobra"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/app"
)

var scanMaxPages int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List open vault positions and their loan-to-value",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), app.ScanOptions{MaxPages: scanMaxPages})
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanMaxPages, "max-pages", 0, "Maximum pages to scan (0 scans the full listing)")
}
