package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "defi-engine",
	Short: "A simulated DeFi trading engine",
	Long: `defi-engine simulates a small DeFi venue against an in-process wallet.

It provides:
  - A randomly walking market data feed
  - Leveraged positions and spot market/limit orders
  - Constant-product liquidity pools and swaps
  - Put, call and straddle hedges with time decay
  - An HTTP and WebSocket API for UI clients`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "engine YAML config (default $ENGINE_CONFIG)")
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	return logger
}
