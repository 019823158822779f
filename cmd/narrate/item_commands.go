package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"narrate/internal/api"
)

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:     "item",
		Aliases: []string{"items", "i"},
		Short:   "Manage the narrated stills of a project",
	}

	itemCmd.AddCommand(&cobra.Command{
		Use:   "list <project>",
		Short: "List items in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			items, err := ctx.client().ListItems(cmd.Context(), projectID)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, items, func() error {
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No items")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), itemTable(items))
				return nil
			})
		},
	})

	var addInstruct string
	var addImage string
	addCmd := &cobra.Command{
		Use:   "add <project> <text>",
		Short: "Append an item with its narration text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			client := ctx.client()
			item, err := client.AddItem(cmd.Context(), projectID, strings.Join(args[1:], " "), addInstruct)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			if addImage != "" {
				item, err = uploadImage(cmd, client, projectID, item.ID, addImage)
				if err != nil {
					return err
				}
			}
			return emit(ctx, cmd, item, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Added item %d at position %d\n", item.ID, item.Position)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addInstruct, "instruct", "", "Voice style instruction for this item")
	addCmd.Flags().StringVar(&addImage, "image", "", "Image file to attach")
	itemCmd.AddCommand(addCmd)

	var editText string
	var editInstruct string
	editCmd := &cobra.Command{
		Use:   "edit <project> <item>",
		Short: "Change an item's text or instruction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, itemID, err := parseItemArgs(args)
			if err != nil {
				return err
			}
			var req api.ItemRequest
			if cmd.Flags().Changed("text") {
				req.Content = &editText
			}
			if cmd.Flags().Changed("instruct") {
				req.Instruct = &editInstruct
			}
			if req.Content == nil && req.Instruct == nil {
				return fmt.Errorf("nothing to change: pass --text and/or --instruct")
			}
			item, err := ctx.client().UpdateItem(cmd.Context(), projectID, itemID, req)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, item, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Updated item %d\n", item.ID)
				return nil
			})
		},
	}
	editCmd.Flags().StringVar(&editText, "text", "", "New narration text")
	editCmd.Flags().StringVar(&editInstruct, "instruct", "", "New voice style instruction (empty clears it)")
	itemCmd.AddCommand(editCmd)

	itemCmd.AddCommand(&cobra.Command{
		Use:     "rm <project> <item>",
		Aliases: []string{"delete"},
		Short:   "Delete an item and its media",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, itemID, err := parseItemArgs(args)
			if err != nil {
				return err
			}
			if err := ctx.client().DeleteItem(cmd.Context(), projectID, itemID); err != nil {
				return ctx.wrapClientError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted item %d\n", itemID)
			return nil
		},
	})

	itemCmd.AddCommand(&cobra.Command{
		Use:       "move <project> <item> <up|down>",
		Short:     "Swap an item with its neighbour",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, itemID, err := parseItemArgs(args[:2])
			if err != nil {
				return err
			}
			items, err := ctx.client().MoveItem(cmd.Context(), projectID, itemID, args[2])
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, items, func() error {
				fmt.Fprint(cmd.OutOrStdout(), itemTable(items))
				return nil
			})
		},
	})

	itemCmd.AddCommand(&cobra.Command{
		Use:   "image <project> <item> <file>",
		Short: "Attach an image to an item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, itemID, err := parseItemArgs(args[:2])
			if err != nil {
				return err
			}
			item, err := uploadImage(cmd, ctx.client(), projectID, itemID, args[2])
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(ctx, cmd, item, func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Attached image to item %d\n", item.ID)
				return nil
			})
		},
	})

	return itemCmd
}

func newSynthesizeCommand(ctx *commandContext) *cobra.Command {
	var background bool
	cmd := &cobra.Command{
		Use:     "synthesize <project> [item...]",
		Aliases: []string{"tts"},
		Short:   "Generate speech for items (all items without audio when none are named)",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			client := ctx.client()
			var itemIDs []int64
			for _, arg := range args[1:] {
				id, err := parseID("item", arg)
				if err != nil {
					return err
				}
				itemIDs = append(itemIDs, id)
			}
			if len(itemIDs) == 0 {
				items, err := client.ListItems(cmd.Context(), projectID)
				if err != nil {
					return ctx.wrapClientError(err)
				}
				for _, item := range items {
					if !item.HasAudio && strings.TrimSpace(item.Content) != "" {
						itemIDs = append(itemIDs, item.ID)
					}
				}
				if len(itemIDs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Every item already has audio")
					return nil
				}
			}

			out := cmd.OutOrStdout()
			responses := make([]*api.SynthesisResponse, 0, len(itemIDs))
			var failed int
			for _, itemID := range itemIDs {
				resp, err := client.Synthesize(cmd.Context(), projectID, itemID, !background)
				if err != nil {
					return ctx.wrapClientError(err)
				}
				responses = append(responses, resp)
				if ctx.jsonOutput() {
					continue
				}
				switch {
				case resp.Error != "":
					failed++
					fmt.Fprintf(out, "Item %d: synthesis failed: %s\n", itemID, resp.Error)
					if resp.Hint != "" {
						fmt.Fprintf(out, "  hint: %s\n", resp.Hint)
					}
				case resp.Accepted:
					fmt.Fprintf(out, "Item %d: queued\n", itemID)
				case resp.Skipped:
					fmt.Fprintf(out, "Item %d: no text, skipped\n", itemID)
				default:
					duration := 0.0
					if resp.Item != nil {
						duration = resp.Item.AudioDuration
					}
					fmt.Fprintf(out, "Item %d: %.2fs of audio in %s\n", itemID, duration,
						(time.Duration(resp.ElapsedMS) * time.Millisecond).Round(time.Millisecond))
				}
			}
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, responses); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d items failed to synthesize", failed, len(itemIDs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "Queue synthesis and return without waiting")
	return cmd
}

func uploadImage(cmd *cobra.Command, client *api.Client, projectID, itemID int64, path string) (*api.Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()
	return client.UploadImage(cmd.Context(), projectID, itemID, path, file)
}

func parseItemArgs(args []string) (int64, int64, error) {
	projectID, err := parseID("project", args[0])
	if err != nil {
		return 0, 0, err
	}
	itemID, err := parseID("item", args[1])
	if err != nil {
		return 0, 0, err
	}
	return projectID, itemID, nil
}

func itemTable(items []api.Item) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		audio := "-"
		switch {
		case item.Synthesizing:
			audio = "synthesizing"
		case item.HasAudio:
			audio = strconv.FormatFloat(item.AudioDuration, 'f', 2, 64) + "s"
		}
		rows = append(rows, []string{
			strconv.Itoa(item.Position),
			strconv.FormatInt(item.ID, 10),
			truncate(item.Content, 48),
			yesNo(item.HasImage),
			audio,
		})
	}
	return tableView{
		Headers: []string{"#", "ID", "Text", "Image", "Audio"},
		Aligns:  []columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight},
		Rows:    rows,
	}.render()
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
