// Package testsupport provides helpers shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(base, "data")
	cfg.Storage.FallbackDir = filepath.Join(base, "data", "fallback")
	cfg.Daemon.RuntimeDir = filepath.Join(base, "run")
	cfg.Logging.Directory = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithBaseURL overrides the API origin on the test config.
func WithBaseURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.API.BaseURL = url
	}
}

// WithSyncInterval overrides the periodic sync interval in seconds.
func WithSyncInterval(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.Interval = seconds
	}
}

// MustOpenStore opens a SQLite queue store under the config's data dir
// and closes it when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg.QueueDBPath())
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
