package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"narrate/internal/api"
	"narrate/internal/textutil"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "generate <project>",
		Short: "Assemble the project's video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			client := ctx.client()
			resp, err := client.Generate(cmd.Context(), projectID)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			if !wait {
				return emit(ctx, cmd, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Generation started for project %d\n", projectID)
					return nil
				})
			}

			out := cmd.OutOrStdout()
			progress := newJobProgress(out)
			if ctx.jsonOutput() {
				progress = &jobProgress{out: cmd.ErrOrStderr()}
			}
			final, err := followJob(cmd.Context(), client, projectID, pollInterval(ctx), progress.update)
			progress.finish()
			if err != nil {
				return ctx.wrapClientError(err)
			}
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, api.StatusResponse{ProjectID: projectID, Status: final}); err != nil {
					return err
				}
			}
			switch final.State {
			case "completed":
				if !ctx.jsonOutput() {
					fmt.Fprintf(out, "Video ready: %s\n", client.VideoURL(projectID))
				}
				return nil
			case "cancelled":
				return errors.New("generation cancelled")
			default:
				return fmt.Errorf("generation failed: %s", final.Error)
			}
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow progress until the job finishes")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return jobActionCommand(ctx, "cancel <project>", "Cancel a running generation", "cancelled",
		func(cmd *cobra.Command, client *api.Client, id int64) (*api.StatusResponse, error) {
			return client.Cancel(cmd.Context(), id)
		})
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return jobActionCommand(ctx, "reset <project>", "Return a finished job to not_started", "reset",
		func(cmd *cobra.Command, client *api.Client, id int64) (*api.StatusResponse, error) {
			return client.Reset(cmd.Context(), id)
		})
}

func jobActionCommand(ctx *commandContext, use, short, verb string, action func(*cobra.Command, *api.Client, int64) (*api.StatusResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			resp, err := action(cmd, ctx.client(), projectID)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, resp, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Project %d %s (state %s)\n", projectID, verb, resp.Status.State)
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status <project>",
		Short: "Show a project's job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			client := ctx.client()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if watch {
				_, err := followJob(cmd.Context(), client, projectID, pollInterval(ctx), func(status api.JobStatus) {
					if ctx.jsonOutput() {
						_ = writeJSON(cmd, status)
						return
					}
					fmt.Fprintln(out, formatJobStatus(status, colorize))
				})
				return ctx.wrapClientError(err)
			}
			resp, err := client.JobStatus(cmd.Context(), projectID)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, resp, func() error {
				fmt.Fprintln(out, formatJobStatus(resp.Status, colorize))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream changes until the job finishes")
	return cmd
}

func newVideoCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "video <project>",
		Short: "Download a project's finished video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			client := ctx.client()
			target := output
			if target == "" {
				project, err := client.GetProject(cmd.Context(), projectID)
				if err != nil {
					return ctx.wrapClientError(err)
				}
				target = textutil.VideoFileName(project.Project.Title, projectID, ".mp4")
			}
			tmp := target + ".part"
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			file, err := os.Create(tmp)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			written, err := client.DownloadVideo(cmd.Context(), projectID, file)
			closeErr := file.Close()
			if err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(tmp)
				return ctx.wrapClientError(err)
			}
			if err := os.Rename(tmp, target); err != nil {
				_ = os.Remove(tmp)
				return fmt.Errorf("finalize output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", target, humanBytes(written))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default <project title>.mp4)")
	return cmd
}

func formatJobStatus(status api.JobStatus, colorize bool) string {
	detail := fmt.Sprintf("%s %d%%", status.State, status.Progress)
	if status.Message != "" {
		detail += " - " + status.Message
	}
	if status.Error != "" {
		detail += " (" + status.Error + ")"
	}
	return renderStatusLine("Job", jobStateKind(status.State), detail, colorize)
}

func pollInterval(ctx *commandContext) time.Duration {
	if cfg := ctx.configValue(); cfg != nil && cfg.Workflow.StatusPollMillis > 0 {
		return time.Duration(cfg.Workflow.StatusPollMillis) * time.Millisecond
	}
	return 500 * time.Millisecond
}
