package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"fieldsync/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logPath := filepath.Join(cfg.Logging.Directory, "fieldsync.log")
			stdout := cmd.OutOrStdout()

			tail, offset, err := logs.Tail(logPath, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(stdout, line)
			}
			if !follow {
				return nil
			}

			err = logs.Follow(cmd.Context(), logPath, offset, func(line string) {
				fmt.Fprintln(stdout, line)
			})
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming appended lines")
	return cmd
}
