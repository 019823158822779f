package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"narrate/internal/api"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "Manage projects",
	}

	projectCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := ctx.client().ListProjects(cmd.Context())
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, projects, func() error {
				out := cmd.OutOrStdout()
				if len(projects) == 0 {
					fmt.Fprintln(out, "No projects")
					return nil
				}
				fmt.Fprint(out, projectTable(projects))
				return nil
			})
		},
	})

	projectCmd.AddCommand(&cobra.Command{
		Use:   "create [title]",
		Short: "Create a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			resp, err := ctx.client().CreateProject(cmd.Context(), title)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, resp, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Created project %d (%s)\n", resp.Project.ID, resp.Project.Title)
				return nil
			})
		},
	})

	projectCmd.AddCommand(&cobra.Command{
		Use:   "show <project>",
		Short: "Show a project and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			resp, err := ctx.client().GetProject(cmd.Context(), id)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, resp, func() error {
				printProject(cmd.OutOrStdout(), resp, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	})

	projectCmd.AddCommand(&cobra.Command{
		Use:   "rename <project> <title>",
		Short: "Rename a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			resp, err := ctx.client().RenameProject(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, resp, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Project %d renamed to %s\n", id, resp.Project.Title)
				return nil
			})
		},
	})

	projectCmd.AddCommand(&cobra.Command{
		Use:     "delete <project>",
		Aliases: []string{"rm"},
		Short:   "Delete a project with its items, media and video",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			if err := ctx.client().DeleteProject(cmd.Context(), id); err != nil {
				return ctx.wrapClientError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %d\n", id)
			return nil
		},
	})

	return projectCmd
}

func projectTable(projects []api.Project) string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			p.Title,
			strconv.Itoa(p.ItemCount),
			p.Status.State,
			strconv.Itoa(p.Status.Progress) + "%",
			yesNo(p.HasVideo),
		})
	}
	return tableView{
		Headers: []string{"ID", "Title", "Items", "State", "Progress", "Video"},
		Aligns:  []columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		Rows:    rows,
	}.render()
}

func printProject(out io.Writer, resp *api.ProjectResponse, colorize bool) {
	p := resp.Project
	printSection(out, fmt.Sprintf("Project %d: %s", p.ID, p.Title), colorize)
	fmt.Fprintln(out, renderStatusLine("State", jobStateKind(p.Status.State),
		fmt.Sprintf("%s (%d%%)", p.Status.State, p.Status.Progress), colorize))
	if p.Status.Message != "" {
		fmt.Fprintln(out, renderStatusLine("Message", statusInfo, p.Status.Message, colorize))
	}
	if p.Status.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, p.Status.Error, colorize))
	}
	if p.HasVideo {
		fmt.Fprintln(out, renderStatusLine("Video", statusOK, p.VideoURL, colorize))
	}
	fmt.Fprintln(out)
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "No items")
		return
	}
	fmt.Fprint(out, itemTable(resp.Items))
}
