package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldsync/internal/config"
	"fieldsync/internal/daemon"
	"fieldsync/internal/interceptor"
	"fieldsync/internal/ipc"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
	"fieldsync/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	configPath string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T, apiURL string) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(apiURL))
	configPath := filepath.Join(filepath.Dir(cfg.Storage.DataDir), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	s := syncer.New(syncer.Options{
		Store:   store,
		BaseURL: cfg.API.BaseURL,
		Hub:     syncer.NewHub(64),
	})
	rules, err := interceptor.RulesFromConfig(cfg)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	transport := interceptor.New(interceptor.Options{
		Rules:    rules,
		Store:    store,
		Notifier: s,
	})
	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Store:     store,
		Syncer:    s,
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, nil)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		server:     srv,
		configPath: configPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return env
}

func writeCLIConfig(t *testing.T, apiURL string) string {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(apiURL))
	configPath := filepath.Join(filepath.Dir(cfg.Storage.DataDir), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return configPath
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[api]
base_url = %q

[storage]
data_dir = %q
fallback_dir = %q

[daemon]
runtime_dir = %q

[logging]
directory = %q
`,
		cfg.API.BaseURL,
		cfg.Storage.DataDir,
		cfg.Storage.FallbackDir,
		cfg.Daemon.RuntimeDir,
		cfg.Logging.Directory,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
