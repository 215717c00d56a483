package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aptpay/defi-engine/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  defi-engine config init -o engine.yaml
  defi-engine config validate -c engine.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "engine.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if err := config.Default().SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration: %s\n", configInitOutput)
	fmt.Fprintf(cmd.OutOrStdout(), "Run with:\n  defi-engine serve -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid\n")
	fmt.Fprintf(out, "  Quote asset: %s\n", cfg.Engine.QuoteAsset)
	fmt.Fprintf(out, "  Markets: %d, pools: %d\n", len(cfg.Engine.Markets), len(cfg.Engine.Pools))
	fmt.Fprintf(out, "  Tick: %s, match delay: %s\n", cfg.Engine.TickInterval, cfg.Engine.MatchDelay)
	return nil
}
