package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"narrate/internal/api"
	"narrate/internal/daemonctl"
	"narrate/internal/daemonrun"
	"narrate/internal/store"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the narrate daemon",
	}
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			cfg := ctx.configValue()
			opts := daemonctl.LaunchOptions{LogLevel: logLevel}
			if ctx.configFlag != nil {
				opts.ConfigPath = strings.TrimSpace(*ctx.configFlag)
			}
			if cfg != nil {
				opts.LogFile = filepath.Join(cfg.Paths.LogDir, "narrated.out")
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.client(), exe, opts, wait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d) at %s\n", result.PID, ctx.baseURL())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the daemon")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the API to answer")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, killing it if it does not exit in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), ctx.client(), ctx.configValue(), grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not exit in %s; killed pid %d\n", grace, result.PID)
				return nil
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 15*time.Second, "Time allowed for a graceful shutdown")
	return cmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				if !daemonctl.IsUnavailable(err) {
					return err
				}
				return printOfflineStatus(ctx, cmd)
			}
			return emit(ctx, cmd, status, func() error {
				printDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Enable development logging")
	cmd.Flags().BoolVar(&opts.StopWorker, "stop-worker", false, "Stop the synthesis worker when the daemon exits")
	return cmd
}

func printDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	printSection(out, "Daemon", colorize)
	fmt.Fprintln(out, renderStatusLine("narrated", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Transport", statusInfo, status.Transport, colorize))
	fmt.Fprintln(out, renderStatusLine("Storage", statusInfo, status.Storage, colorize))
	fmt.Fprintln(out)

	printSection(out, "Workflow", colorize)
	wf := status.Workflow
	generating := "none"
	if len(wf.Generating) > 0 {
		ids := make([]string, 0, len(wf.Generating))
		for _, id := range wf.Generating {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		generating = strings.Join(ids, ", ")
	}
	fmt.Fprintln(out, renderStatusLine("Generating", statusInfo, generating, colorize))
	fmt.Fprintln(out, renderStatusLine("Synthesizing", statusInfo,
		fmt.Sprintf("%d (pool %d/%d, %d waiting)", wf.Synthesizing, wf.PoolRunning, wf.PoolCapacity, wf.PoolWaiting), colorize))
	if wf.Worker != nil {
		kind := statusWarn
		if wf.Worker.Ready {
			kind = statusOK
		}
		fmt.Fprintln(out, renderStatusLine("Worker", kind, workerDetail(*wf.Worker), colorize))
	}
	for _, comp := range wf.Components {
		kind := statusOK
		if !comp.Ready {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(comp.Name, kind, comp.Detail, colorize))
	}
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, wf.LastError, colorize))
	}
	fmt.Fprintln(out)

	printDependencies(out, status.Dependencies, colorize)

	if len(status.WorkDirs) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(status.WorkDirs))
		for _, dir := range status.WorkDirs {
			rows = append(rows, []string{dir.Name, humanBytes(dir.Size), dir.ModTime})
		}
		fmt.Fprint(out, tableView{
			Title:   "Run directories",
			Headers: []string{"Name", "Size", "Modified"},
			Aligns:  []columnAlignment{alignLeft, alignRight, alignLeft},
			Rows:    rows,
		}.render())
	}
}

func printDependencies(out io.Writer, deps []api.DependencyStatus, colorize bool) {
	printSection(out, "Dependencies", colorize)
	summary := api.BuildDependencySummary(deps)
	fmt.Fprintln(out, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
	}
}

func printOfflineStatus(ctx *commandContext, cmd *cobra.Command) error {
	offline, err := daemonctl.BuildOfflineStatus(cmd.Context(), ctx.configValue())
	if err != nil {
		return err
	}
	return emit(ctx, cmd, offline, func() error {
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)
		printSection(out, "Daemon", colorize)
		fmt.Fprintln(out, renderStatusLine("narrated", statusWarn, "Not running (run `narrate daemon start`)", colorize))
		fmt.Fprintln(out)
		printDependencies(out, offline.Dependencies, colorize)
		fmt.Fprintln(out)

		states := make([]string, 0, len(offline.States))
		for state := range offline.States {
			states = append(states, string(state))
		}
		if len(states) == 0 {
			fmt.Fprintln(out, "No projects")
			return nil
		}
		sort.Strings(states)
		rows := make([][]string, 0, len(states))
		for _, state := range states {
			rows = append(rows, []string{state, strconv.Itoa(offline.States[store.State(state)])})
		}
		fmt.Fprint(out, tableView{
			Title:   "Projects",
			Headers: []string{"State", "Count"},
			Aligns:  []columnAlignment{alignLeft, alignRight},
			Rows:    rows,
		}.render())
		return nil
	})
}

func workerDetail(w api.WorkerStatus) string {
	detail := w.State
	if w.PID > 0 {
		detail = fmt.Sprintf("%s (pid %d)", detail, w.PID)
	}
	return detail
}

func humanBytes(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}
