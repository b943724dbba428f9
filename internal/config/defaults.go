package config

const (
	defaultDataDir             = "~/.local/share/fieldsync"
	defaultFallbackDir         = "~/.local/share/fieldsync/fallback"
	defaultRuntimeDir          = "~/.local/share/fieldsync/run"
	defaultLogDir              = "~/.local/share/fieldsync/logs"
	defaultBaseURL             = "http://127.0.0.1:5000"
	defaultAPIPrefix           = "/api"
	defaultPhotoUploadPath     = "/api/photos/upload"
	defaultRequestTimeout      = 30
	defaultSyncInterval        = 30
	defaultProbeInterval       = 5
	defaultProbeTimeout        = 2
	defaultBridgeTimeoutMillis = 1500
	defaultPollInterval        = 5
	defaultDebounceMillis      = 250
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

func defaultExcludedPrefixes() []string {
	return []string{"/api/auth", "/api/admin"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:          defaultBaseURL,
			Prefix:           defaultAPIPrefix,
			PhotoUploadPath:  defaultPhotoUploadPath,
			ExcludedPrefixes: defaultExcludedPrefixes(),
			RequestTimeout:   defaultRequestTimeout,
		},
		Storage: Storage{
			DataDir:     defaultDataDir,
			FallbackDir: defaultFallbackDir,
		},
		Sync: Sync{
			Interval:          defaultSyncInterval,
			ConnectivityProbe: true,
			ProbeInterval:     defaultProbeInterval,
			ProbeTimeout:      defaultProbeTimeout,
		},
		Daemon: Daemon{
			RuntimeDir:          defaultRuntimeDir,
			BridgeTimeoutMillis: defaultBridgeTimeoutMillis,
		},
		Observer: Observer{
			PollInterval:   defaultPollInterval,
			DebounceMillis: defaultDebounceMillis,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format:    defaultLogFormat,
			Level:     defaultLogLevel,
			Directory: defaultLogDir,
		},
	}
}
