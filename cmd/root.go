package main

import (
	"context"
	"fmt"

	"web_relay/internal/config"
	"web_relay/internal/logger"

	"github.com/spf13/cobra"
)

var (
	// cfgFile is the YAML config path; empty means defaults plus environment.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "web_relay",
		Short:         "Crawl sites for files and relay new ones to Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRelay,
	}
)

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); .env and environment variables override it")
	rootCmd.Flags().Bool("once", false, "run a single cycle and exit (same as RUN_ONCE=1)")

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(chatIDCommand())
	rootCmd.AddCommand(ledgerCommand())
}

func loadConfig() (*config.RelayConfig, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.RelayConfig) (logger.Interface, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}
