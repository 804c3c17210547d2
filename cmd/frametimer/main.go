package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/frametimer/internal/version"
)

var logLevel string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frametimer",
		Short: "Per-thread event timing and hardware counters for frame loops",
		Long: `frametimer records start/stop timings and hardware counter deltas
per thread, event kind and frame, then writes them as a tabular report,
to ClickHouse, or to an HTTP collector.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.AddCommand(
		runCmd(),
		overheadCmd(),
		migrateCmd(),
		versionCmd(),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// newLogger returns a text logger at the --log-level flag, falling back to
// fallback and then to info.
func newLogger(fallback string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl := logLevel
	if lvl == "" {
		lvl = fallback
	}

	if lvl == "" {
		lvl = "info"
	}

	level, err := logrus.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", lvl, err)
	}

	log.SetLevel(level)

	return log, nil
}
