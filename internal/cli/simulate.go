package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"drawdown-alerts/internal/app"
)

var (
	simulateSymbol string
	simulateName   string
	simulateClass  string
	simulatePrice  float64
	simulatePeak   float64
	simulateDryRun bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-drawdown",
	Short: "模拟一次回撤检查并在越过阈值时触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 必须提供")
		}
		if simulatePrice <= 0 || simulatePeak <= 0 {
			return errors.New("--price 与 --peak 必须大于 0")
		}

		opts := app.SimulateOptions{
			Symbol: simulateSymbol,
			Name:   simulateName,
			Class:  simulateClass,
			Price:  decimal.NewFromFloat(simulatePrice),
			Peak:   decimal.NewFromFloat(simulatePeak),
			DryRun: simulateDryRun,
		}
		return getApp().SimulateDrawdown(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Asset symbol")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "Asset display name")
	simulateCmd.Flags().StringVar(&simulateClass, "class", "EQUITY_ETF", "Asset class (EQUITY_ETF or CRYPTO)")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的当前价格")
	simulateCmd.Flags().Float64Var(&simulatePeak, "peak", 0, "模拟的历史峰值")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "Skip the store and push relay entirely")
}
