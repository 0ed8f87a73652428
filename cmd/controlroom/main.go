package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"controlroom/internal/config"
	"controlroom/internal/logging"
)

var (
	flagStore     string
	flagPolicy    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "controlroom",
	Short: "Consolidate producer snapshots into one operational view",
	Long: `controlroom discovers the JSON snapshots written by the suite's producers,
validates and normalizes them, classifies project health and serves the
latest-per-project view.

Examples:
  controlroom serve --store outputs
  controlroom discover --store s3://snapshots/suite --format markdown
  controlroom check --policy policy.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "Store location: path, file://, s3://bucket/prefix or postgres:// DSN (overrides CONTROLROOM_STORE)")
	rootCmd.PersistentFlags().StringVar(&flagPolicy, "policy", "", "YAML policy file (overrides CONTROLROOM_POLICY_FILE)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")
}

// loadConfig applies flag overrides on top of the environment and sets up
// logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagStore != "" {
		cfg.Store.Location = flagStore
	}
	if flagPolicy != "" {
		cfg.PolicyFile = flagPolicy
		if err := cfg.ReloadPolicy(); err != nil {
			return nil, err
		}
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.LogFormat, os.Stderr)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
