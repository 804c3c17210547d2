package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/frametimer/internal/bench"
)

func overheadCmd() *cobra.Command {
	cfg := bench.OverheadConfig{
		Threads: 1,
		Frames:  100000,
	}

	cmd := &cobra.Command{
		Use:   "overhead",
		Short: "Measure the cost of an empty start/stop pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger("")
			if err != nil {
				return err
			}

			res, err := bench.MeasureOverhead(log, cfg)
			if err != nil {
				return fmt.Errorf("measuring overhead: %w", err)
			}

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Threads: %d\n", res.Threads)
			fmt.Fprintf(out, "Frames: %d\n", res.Frames)
			fmt.Fprintf(out, "%d pairs of start stop events\n\n", res.Pairs)
			fmt.Fprintln(out, "Average per pair:")
			fmt.Fprintf(out, "%.1f nsec\n", res.NsPerPair)

			if cfg.Counters {
				fmt.Fprintf(out, "%.1f cycles\n", res.CyclesPerPair)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.Threads, "threads", cfg.Threads, "number of threads")
	cmd.Flags().IntVar(&cfg.Frames, "frames", cfg.Frames, "start/stop pairs per thread")
	cmd.Flags().BoolVar(&cfg.Counters, "counters", false, "also read CPU cycles")

	return cmd
}
