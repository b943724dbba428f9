// Package daemonrun assembles and runs the fieldsyncd process.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"fieldsync/internal/config"
	"fieldsync/internal/daemon"
	"fieldsync/internal/interceptor"
	"fieldsync/internal/ipc"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the fieldsync daemon runtime loop and blocks until the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	notifier := notifications.NewService(cfg)

	store, err := openBackend(cfg, logger)
	if err != nil {
		logger.Error("open queue storage", logging.Error(err))
		return err
	}
	defer store.Close()
	if failoverBackend(store) == nil {
		go notifier.NotifyStorageDegraded(signalCtx, "queue database failed to open")
	}

	hub := syncer.NewHub(256)
	hub.AddSink(notifications.NewEventSink(notifier, logger))

	s := syncer.New(syncer.Options{
		Store:   store,
		BaseURL: cfg.API.BaseURL,
		Client:  &http.Client{Timeout: cfg.RequestTimeout()},
		Hub:     hub,
		Logger:  logger,
	})

	rules, err := interceptor.RulesFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("interception rules: %w", err)
	}

	var d *daemon.Daemon
	transport := interceptor.New(interceptor.Options{
		Rules:    rules,
		Store:    store,
		Notifier: s,
		Wake: func(tag string) error {
			if d == nil {
				return fmt.Errorf("daemon not ready")
			}
			d.RequestSync(tag)
			return nil
		},
		Logger: logger,
	})

	d, err = daemon.New(daemon.Options{
		Config:    cfg,
		Store:     store,
		Failover:  failoverBackend(store),
		Syncer:    s,
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	eventServer, err := ipc.NewEventServer(signalCtx, cfg.EventSocketPath(), hub, logger)
	if err != nil {
		return fmt.Errorf("start event stream: %w", err)
	}
	defer eventServer.Close()
	eventServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "captured items will not replay"),
		)
	}

	<-signalCtx.Done()
	logger.Info("fieldsync daemon shutting down")
	return nil
}

// openBackend opens SQLite with the file-snapshot store standing by. A
// primary that will not even open starts the process degraded instead of
// refusing to run.
func openBackend(cfg *config.Config, logger *slog.Logger) (queue.Backend, error) {
	fallback, err := queue.OpenFileStore(cfg.Storage.FallbackDir)
	if err != nil {
		return nil, fmt.Errorf("open fallback store: %w", err)
	}

	primary, err := queue.Open(cfg.QueueDBPath())
	if err != nil {
		logger.Warn("sqlite unavailable, starting on fallback storage",
			logging.Error(err),
			logging.String(logging.FieldEventType, "storage_failover"),
			logging.String(logging.FieldEngine, "fallback"),
		)
		return fallback, nil
	}
	return queue.NewFailover(primary, fallback, logger), nil
}

func failoverBackend(store queue.Backend) *queue.Failover {
	if fo, ok := store.(*queue.Failover); ok {
		return fo
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
