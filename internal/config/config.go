package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// API describes the remote endpoint the queue replays against.
type API struct {
	BaseURL          string   `toml:"base_url"`
	Prefix           string   `toml:"prefix"`
	PhotoUploadPath  string   `toml:"photo_upload_path"`
	ExcludedPrefixes []string `toml:"excluded_prefixes"`
	RequestTimeout   int      `toml:"request_timeout"`
}

// Storage contains queue persistence locations.
type Storage struct {
	DataDir     string `toml:"data_dir"`
	FallbackDir string `toml:"fallback_dir"`
}

// Sync contains background pass timing and connectivity probing.
type Sync struct {
	Interval          int  `toml:"interval"`
	ConnectivityProbe bool `toml:"connectivity_probe"`
	ProbeInterval     int  `toml:"probe_interval"`
	ProbeTimeout      int  `toml:"probe_timeout"`
}

// Daemon contains runtime paths and the status bridge budget.
type Daemon struct {
	RuntimeDir          string `toml:"runtime_dir"`
	BridgeTimeoutMillis int    `toml:"bridge_timeout_millis"`
}

// Observer contains foreground view refresh timing.
type Observer struct {
	PollInterval   int `toml:"poll_interval"`
	DebounceMillis int `toml:"debounce_millis"`
}

// Notifications contains push alert delivery settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format    string `toml:"format"`
	Level     string `toml:"level"`
	Directory string `toml:"directory"`
}

// Config encapsulates all configuration values for fieldsync.
//
// Configuration sections by subsystem:
//   - API: replay target origin, interception prefix, exclusions
//   - Storage: queue database and fallback store locations
//   - Sync: periodic pass interval and connectivity probing
//   - Daemon: runtime directory (sockets, lock, pid) and bridge timeout
//   - Observer: foreground poll interval and refresh debounce
//   - Notifications: ntfy topic for sync alerts
//   - Logging: log format, level, and directory
type Config struct {
	API           API           `toml:"api"`
	Storage       Storage       `toml:"storage"`
	Sync          Sync          `toml:"sync"`
	Daemon        Daemon        `toml:"daemon"`
	Observer      Observer      `toml:"observer"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fieldsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/fieldsync/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fieldsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDir, c.Storage.FallbackDir, c.Daemon.RuntimeDir}
	if strings.TrimSpace(c.Logging.Directory) != "" {
		dirs = append(dirs, c.Logging.Directory)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the primary queue database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Storage.DataDir, "queue.db")
}

// SocketPath returns the Unix socket the daemon serves JSON-RPC on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "fieldsyncd.sock")
}

// EventSocketPath returns the Unix socket the daemon streams outcome events on.
func (c *Config) EventSocketPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "fieldsyncd-events.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "fieldsyncd.lock")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "fieldsyncd.pid")
}

// SyncInterval returns the periodic sync pass interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Second
}

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeInterval) * time.Second
}

// ProbeTimeout returns the per-probe request budget.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Sync.ProbeTimeout) * time.Second
}

// RequestTimeout returns the per-replay HTTP request budget.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeout) * time.Second
}

// BridgeTimeout returns the status bridge round-trip budget.
func (c *Config) BridgeTimeout() time.Duration {
	return time.Duration(c.Daemon.BridgeTimeoutMillis) * time.Millisecond
}

// PollInterval returns the foreground observer poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Observer.PollInterval) * time.Second
}

// Debounce returns the observer refresh coalescing window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Observer.DebounceMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
