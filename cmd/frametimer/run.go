package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/frametimer/internal/bench"
)

func runCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured frame workload and export its samples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cfgFile)
		},
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func run(cfgFile string) error {
	cfg, err := bench.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	b, err := bench.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating bench: %w", err)
	}

	log.Info("Starting frametimer run")

	res, err := b.Run(ctx)
	if err != nil {
		return fmt.Errorf("running bench: %w", err)
	}

	log.WithField("hints", res.Hints).Info("Run complete")

	return nil
}
