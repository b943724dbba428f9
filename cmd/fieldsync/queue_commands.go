package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(statusFilter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Items)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{
						item.ID,
						item.Kind,
						item.Destination,
						item.Status,
						strconv.Itoa(item.RetryCount),
						truncate(item.LastError, 40),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Kind", "Destination", "Status", "Retries", "Last Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Filter by status (pending, syncing, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit items as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single queued item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueGet(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Item)
				}
				stdout := cmd.OutOrStdout()
				item := resp.Item
				fmt.Fprintf(stdout, "ID:          %s\n", item.ID)
				fmt.Fprintf(stdout, "Kind:        %s\n", item.Kind)
				fmt.Fprintf(stdout, "Method:      %s\n", item.Method)
				fmt.Fprintf(stdout, "Destination: %s\n", item.Destination)
				fmt.Fprintf(stdout, "Status:      %s\n", item.Status)
				fmt.Fprintf(stdout, "Retries:     %d\n", item.RetryCount)
				if item.LastError != "" {
					fmt.Fprintf(stdout, "Last error:  %s\n", item.LastError)
				}
				if item.Caption != "" {
					fmt.Fprintf(stdout, "Caption:     %s\n", item.Caption)
				}
				if item.PhotoBytes > 0 {
					fmt.Fprintf(stdout, "Photo size:  %d bytes\n", item.PhotoBytes)
				}
				fmt.Fprintf(stdout, "Created:     %s\n", item.CreatedAt)
				fmt.Fprintf(stdout, "Updated:     %s\n", item.UpdatedAt)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the item as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Replay failed items (all of them when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRetry(args)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "%d item(s) synced\n", resp.Synced)
				if strings.TrimSpace(resp.Message) != "" {
					fmt.Fprintf(stdout, "Some items did not sync: %s\n", resp.Message)
				}
				return nil
			})
		},
	}
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove items from the queue without replaying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRemove(args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) removed\n", resp.Removed)
				return nil
			})
		},
	}
	return cmd
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-failed",
		Short: "Discard all failed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClearFailed()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d failed item(s) discarded\n", resp.Removed)
				return nil
			})
		},
	}
	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
