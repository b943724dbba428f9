package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/internal/daemonctl"
	"fieldsync/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the fieldsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonctl.DaemonExecutable()
			if err != nil {
				return err
			}

			opts := daemonctl.LaunchOptions{LogLevel: startLogLevel}
			if ctx.configFlag != nil {
				opts.ConfigPath = *ctx.configFlag
			}
			result, err := daemonctl.EnsureStarted(ctx.configValue(), exe, opts, 10*time.Second)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Daemon log level (debug, info, warn, error)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the fieldsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the fieldsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonctl.DaemonExecutable()
			if err != nil {
				return err
			}

			_, stopErr := daemonctl.StopAndTerminate(ctx.configValue(), 5*time.Second)
			if stopErr != nil && !errors.Is(stopErr, daemonctl.ErrDaemonNotRunning) {
				return stopErr
			}

			var opts daemonctl.LaunchOptions
			if ctx.configFlag != nil {
				opts.ConfigPath = *ctx.configFlag
			}
			result, err := daemonctl.EnsureStarted(ctx.configValue(), exe, opts, 10*time.Second)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.PID)
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, usage, err := fetchStatus(ctx)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, statusDocument{Status: status, Usage: usage})
			}
			renderStatus(cmd, status, usage)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit status as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

type statusDocument struct {
	Status *ipc.StatusResponse       `json:"status"`
	Usage  *ipc.StorageUsageResponse `json:"usage,omitempty"`
}

// fetchStatus asks the daemon first and falls back to an offline view
// when it is unreachable.
func fetchStatus(ctx *commandContext) (*ipc.StatusResponse, *ipc.StorageUsageResponse, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, nil, err
	}

	client, dialErr := ctx.dialClient()
	if dialErr == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil {
			usage, _ := client.StorageUsage()
			return resp, usage, nil
		}
	}

	return &ipc.StatusResponse{
		Running:     false,
		QueueDBPath: cfg.QueueDBPath(),
		LockPath:    cfg.LockPath(),
	}, nil, nil
}

func renderStatus(cmd *cobra.Command, status *ipc.StatusResponse, usage *ipc.StorageUsageResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Running {
		fmt.Fprintln(stdout, renderStatusLine("Fieldsync", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Fieldsync", statusWarn, "Not running (run `fieldsync start`)", colorize))
	}

	connectivity := statusWarn
	connectivityDetail := "API origin unreachable"
	if status.Online {
		connectivity = statusOK
		connectivityDetail = "API origin reachable"
	}
	fmt.Fprintln(stdout, renderStatusLine("Connectivity", connectivity, connectivityDetail, colorize))

	engineKind := statusOK
	engineDetail := status.Engine
	if status.Degraded {
		engineKind = statusWarn
		engineDetail = fmt.Sprintf("%s (degraded from sqlite)", status.Engine)
	}
	fmt.Fprintln(stdout, renderStatusLine("Storage", engineKind, engineDetail, colorize))

	if usage != nil {
		detail := fmt.Sprintf("%s database, %s fallback",
			humanBytes(usage.QueueDBBytes), humanBytes(usage.FallbackBytes))
		fmt.Fprintln(stdout, renderStatusLine("Disk", statusInfo, detail, colorize))
	}

	if status.LastPass != nil {
		detail := fmt.Sprintf("%s: %d synced, %d failed, %d remaining",
			status.LastPass.At.Local().Format(time.RFC3339),
			status.LastPass.Synced, status.LastPass.Failed, status.LastPass.Remaining)
		fmt.Fprintln(stdout, renderStatusLine("Last sync", statusInfo, detail, colorize))
	}

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Total == 0 {
		fmt.Fprintln(stdout, "Queue is empty")
		return
	}
	rows := [][]string{
		{"pending", strconv.Itoa(status.Pending)},
		{"syncing", strconv.Itoa(status.Syncing)},
		{"failed", strconv.Itoa(status.Failed)},
		{"total", strconv.Itoa(status.Total)},
	}
	fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}
