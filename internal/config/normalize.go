package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeAPI(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeSync()
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeObserver()
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizeAPI() error {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultBaseURL
	}

	c.API.Prefix = strings.TrimSpace(c.API.Prefix)
	if c.API.Prefix == "" {
		c.API.Prefix = defaultAPIPrefix
	}
	if !strings.HasPrefix(c.API.Prefix, "/") {
		c.API.Prefix = "/" + c.API.Prefix
	}

	c.API.PhotoUploadPath = strings.TrimSpace(c.API.PhotoUploadPath)
	if c.API.PhotoUploadPath == "" {
		c.API.PhotoUploadPath = defaultPhotoUploadPath
	}
	if !strings.HasPrefix(c.API.PhotoUploadPath, "/") {
		c.API.PhotoUploadPath = "/" + c.API.PhotoUploadPath
	}

	if c.API.ExcludedPrefixes == nil {
		c.API.ExcludedPrefixes = defaultExcludedPrefixes()
	}
	prefixes := make([]string, 0, len(c.API.ExcludedPrefixes))
	seen := make(map[string]struct{}, len(c.API.ExcludedPrefixes))
	for _, prefix := range c.API.ExcludedPrefixes {
		trimmed := strings.TrimSpace(prefix)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		prefixes = append(prefixes, trimmed)
	}
	c.API.ExcludedPrefixes = prefixes

	if c.API.RequestTimeout <= 0 {
		c.API.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	var err error
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = defaultDataDir
	}
	if c.Storage.DataDir, err = expandPath(c.Storage.DataDir); err != nil {
		return fmt.Errorf("storage.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Storage.FallbackDir) == "" {
		c.Storage.FallbackDir = c.Storage.DataDir + "/fallback"
	}
	if c.Storage.FallbackDir, err = expandPath(c.Storage.FallbackDir); err != nil {
		return fmt.Errorf("storage.fallback_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSync() {
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = defaultSyncInterval
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = defaultProbeInterval
	}
	if c.Sync.ProbeTimeout <= 0 {
		c.Sync.ProbeTimeout = defaultProbeTimeout
	}
}

func (c *Config) normalizeDaemon() error {
	var err error
	if strings.TrimSpace(c.Daemon.RuntimeDir) == "" {
		c.Daemon.RuntimeDir = defaultRuntimeDir
	}
	if c.Daemon.RuntimeDir, err = expandPath(c.Daemon.RuntimeDir); err != nil {
		return fmt.Errorf("daemon.runtime_dir: %w", err)
	}
	if c.Daemon.BridgeTimeoutMillis <= 0 {
		c.Daemon.BridgeTimeoutMillis = defaultBridgeTimeoutMillis
	}
	return nil
}

func (c *Config) normalizeObserver() {
	if c.Observer.PollInterval <= 0 {
		c.Observer.PollInterval = defaultPollInterval
	}
	if c.Observer.DebounceMillis < 0 {
		c.Observer.DebounceMillis = defaultDebounceMillis
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Directory) == "" {
		c.Logging.Directory = defaultLogDir
	}
	var err error
	if c.Logging.Directory, err = expandPath(c.Logging.Directory); err != nil {
		return fmt.Errorf("logging.directory: %w", err)
	}
	return nil
}
