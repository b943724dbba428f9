package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldsync/internal/ipc"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var itemID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass now (pending and failed items)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sync(itemID)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if itemID != "" {
					fmt.Fprintf(stdout, "Item %s synced\n", itemID)
					return nil
				}
				fmt.Fprintf(stdout, "%d synced, %d failed, %d remaining\n",
					resp.Synced, resp.Failed, resp.Remaining)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "Replay a single item by id")
	return cmd
}
