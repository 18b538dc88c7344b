package main

import (
	"fmt"

	"web_relay/internal/app"

	"github.com/spf13/cobra"
)

func runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run relay cycles every poll interval (default command)",
		RunE:  runRelay,
	}
	cmd.Flags().Bool("once", false, "run a single cycle and exit (same as RUN_ONCE=1)")
	return cmd
}

// runRelay validates the whole configuration before touching the network.
func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if once, _ := cmd.Flags().GetBool("once"); once {
		cfg.Schedule.RunOnce = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	relay, err := app.NewRelayApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := relay.Close(ctx); err != nil {
			log.Warn("close failed", "error", err)
		}
	}()

	return relay.Run(ctx)
}
