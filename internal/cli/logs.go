package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"drawdown-alerts/internal/app"
)

var (
	logsExecutions int
	logsAlerts     int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Display recent execution records and alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsExecutions <= 0 {
			return fmt.Errorf("--executions must be greater than zero")
		}

		opts := app.LogsOptions{
			Executions: logsExecutions,
			Alerts:     logsAlerts,
		}
		return getApp().Logs(cmd.Context(), opts)
	},
}

func init() {
	logsCmd.Flags().IntVar(&logsExecutions, "executions", 10, "Number of execution records to display")
	logsCmd.Flags().IntVar(&logsAlerts, "alerts", 10, "Number of alerts to display (0 to skip)")
}
