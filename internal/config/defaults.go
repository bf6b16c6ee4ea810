package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Tracking: TrackingConfig{
			ExcludeURLPrefixes: []string{
				"chrome://",
				"about:",
				"chrome-extension://",
				"edge://",
				"moz-extension://",
			},
			DenylistDomains:    []string{},
			DenylistRegex:      []string{},
			UseDefaultDenylist: false,
		},
		Sync: SyncConfig{
			Endpoint:                "",
			Email:                   "",
			TimeZone:                "",
			Version:                 "1",
			IntervalMinutes:         30,
			StartupThresholdMinutes: 120,
			TimeoutSeconds:          30,
			DailyReset:              true,
		},
		Storage: StorageConfig{
			Backend:           BackendSQLite,
			Path:              "~/.config/pagetrail",
			SQLiteFile:        "pagetrail.db",
			SQLiteJournalMode: "wal",
			RedisURL:          "",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8721,
			AuthToken:      "",
			MaxRequestSize: 1048576,
			AllowedOrigins: []string{"chrome-extension://*", "moz-extension://*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}
