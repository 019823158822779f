package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"narrate/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		worker bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log (or the synthesis worker log with --worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path := cfg.DaemonLogPath()
			if worker {
				path = cfg.Synthesis.WorkerLog
			}
			out := cmd.OutOrStdout()
			emitLine := func(line string) { fmt.Fprintln(out, line) }

			if !follow {
				tail, _, err := logs.Last(path, lines)
				if err != nil {
					return err
				}
				if len(tail) == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log output at %s\n", path)
					return nil
				}
				for _, line := range tail {
					emitLine(line)
				}
				return nil
			}

			followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(followCtx, path, logs.Options{Lines: lines}, emitLine)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	cmd.Flags().BoolVar(&worker, "worker", false, "Show the synthesis worker log instead")
	return cmd
}
