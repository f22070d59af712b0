package cli

import (
	"github.com/spf13/cobra"

	"drawdown-alerts/internal/app"
)

var statusSkipQuotes bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report device tokens, seeded peaks, and current drawdowns",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.StatusOptions{
			SkipQuotes: statusSkipQuotes,
		}
		return getApp().Status(cmd.Context(), opts)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusSkipQuotes, "skip-quotes", false, "Skip live quote fetches and report stored state only")
}
