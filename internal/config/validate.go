package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("api.base_url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("api.base_url must include a host")
	}
	if !strings.HasPrefix(c.API.PhotoUploadPath, c.API.Prefix) {
		return fmt.Errorf("api.photo_upload_path %q must fall under api.prefix %q", c.API.PhotoUploadPath, c.API.Prefix)
	}
	return nil
}

func (c *Config) validateTiming() error {
	if err := ensurePositiveMap(map[string]int{
		"api.request_timeout":          c.API.RequestTimeout,
		"sync.interval":                c.Sync.Interval,
		"sync.probe_interval":          c.Sync.ProbeInterval,
		"sync.probe_timeout":           c.Sync.ProbeTimeout,
		"daemon.bridge_timeout_millis": c.Daemon.BridgeTimeoutMillis,
		"observer.poll_interval":       c.Observer.PollInterval,
	}); err != nil {
		return err
	}
	if c.Sync.ProbeTimeout > c.Sync.ProbeInterval {
		return errors.New("sync.probe_timeout must not exceed sync.probe_interval")
	}
	if c.Observer.DebounceMillis < 0 {
		return errors.New("observer.debounce_millis must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
