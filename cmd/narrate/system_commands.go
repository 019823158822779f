package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"narrate/internal/api"
	"narrate/internal/daemonctl"
	"narrate/internal/preflight"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect and control the speech synthesis worker",
	}

	printWorker := func(cmd *cobra.Command, status *api.WorkerStatus) error {
		return emit(ctx, cmd, status, func() error {
			kind := statusWarn
			if status.Ready {
				kind = statusOK
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("Worker", kind, workerDetail(*status), shouldColorize(cmd.OutOrStdout())))
			return nil
		})
	}

	workerCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show worker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().WorkerStatus(cmd.Context())
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return printWorker(cmd, status)
		},
	})
	workerCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Launch the worker and wait until it is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().StartWorker(cmd.Context())
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return printWorker(cmd, status)
		},
	})
	workerCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Terminate the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().StopWorker(cmd.Context())
			if err != nil {
				return ctx.wrapClientError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	})
	return workerCmd
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, disk space and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report api.DoctorReport
			var remote *api.DoctorReport
			var err error
			if !local {
				remote, err = ctx.client().Doctor(cmd.Context())
			}
			switch {
			case !local && err == nil:
				report = *remote
			case !local && !daemonctl.IsUnavailable(err):
				return ctx.wrapClientError(err)
			default:
				cfg, cfgErr := ctx.ensureConfig()
				if cfgErr != nil {
					return cfgErr
				}
				report = api.BuildDoctorReport(preflight.RunAll(cmd.Context(), cfg), preflight.CheckSystemDeps(cfg))
			}
			if err := emit(ctx, cmd, report, func() error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				printSection(out, "Checks", colorize)
				for _, check := range report.Checks {
					kind := statusOK
					if !check.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				fmt.Fprintln(out)
				printDependencies(out, report.Dependencies, colorize)
				return nil
			}); err != nil {
				return err
			}
			if !report.Healthy {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Run checks in this process instead of asking the daemon")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().TestNotification(cmd.Context())
			if err != nil {
				return ctx.wrapClientError(err)
			}
			switch {
			case resp.Message != "":
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			case resp.OK:
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
			}
			return nil
		},
	}
}
