package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/frametimer/internal/bench"
	"github.com/ethpandaops/frametimer/internal/migrate"
)

func migrateCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse samples schema",
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file with sinks.clickhouse set (required)",
	)

	_ = cmd.MarkPersistentFlagRequired("config")

	newMigrator := func() (migrate.Migrator, error) {
		cfg, err := bench.LoadConfig(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		ch := cfg.Sinks.ClickHouse
		if !ch.Enabled {
			return nil, errors.New("sinks.clickhouse is not enabled")
		}

		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return nil, err
		}

		return migrate.New(log, ch.DSN()), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				return m.Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				return m.Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				v, dirty, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %t\n", v, dirty)

				return nil
			},
		},
	)

	return cmd
}
