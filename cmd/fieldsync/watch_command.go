package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fieldsync/internal/observer"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the queue live until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			obs := observer.New(observer.Options{
				Bridge:       client,
				EventSocket:  cfg.EventSocketPath(),
				PollInterval: cfg.PollInterval(),
				Debounce:     cfg.Debounce(),
			})

			done := make(chan struct{})
			go func() {
				defer close(done)
				for snapshot := range obs.Updates() {
					if asJSON {
						_ = writeJSON(cmd, snapshot)
						continue
					}
					printSnapshot(cmd, snapshot)
				}
			}()

			err = obs.Run(cmd.Context())
			<-done
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit snapshots as JSON lines")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snapshot observer.Snapshot) {
	stdout := cmd.OutOrStdout()
	stale := ""
	if snapshot.Stale {
		stale = " (stale)"
	}
	fmt.Fprintf(stdout, "%s%s  online=%s engine=%s  pending=%d syncing=%d failed=%d\n",
		snapshot.TakenAt.Local().Format("15:04:05"), stale,
		yesNo(snapshot.Online), snapshot.Engine,
		snapshot.Pending, snapshot.Syncing, snapshot.Failed)

	if len(snapshot.Items) == 0 {
		return
	}
	rows := make([][]string, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		rows = append(rows, []string{
			item.ID,
			item.Kind,
			item.Status,
			strconv.Itoa(item.RetryCount),
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"ID", "Kind", "Status", "Retries"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
}
