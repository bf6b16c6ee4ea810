package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runnerr0/pagetrail/internal/filter"
)

// Default config file path.
const DefaultConfigPath = "~/.config/pagetrail/config.yaml"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all PageTrail configuration.
type Config struct {
	Tracking TrackingConfig `yaml:"tracking"`
	Sync     SyncConfig     `yaml:"sync"`
	Storage  StorageConfig  `yaml:"storage"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TrackingConfig struct {
	ExcludeURLPrefixes []string `yaml:"exclude_url_prefixes"`
	DenylistDomains    []string `yaml:"denylist_domains"`
	DenylistRegex      []string `yaml:"denylist_regex"`
	UseDefaultDenylist bool     `yaml:"use_default_denylist"`
}

type SyncConfig struct {
	Endpoint                string `yaml:"endpoint"`
	Email                   string `yaml:"email"`
	TimeZone                string `yaml:"time_zone"`
	Version                 string `yaml:"version"`
	IntervalMinutes         int    `yaml:"interval_minutes"`
	StartupThresholdMinutes int    `yaml:"startup_threshold_minutes"`
	TimeoutSeconds          int    `yaml:"timeout_seconds"`
	DailyReset              bool   `yaml:"daily_reset"`
}

type StorageConfig struct {
	Backend           string `yaml:"backend"`
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
	RedisURL          string `yaml:"redis_url"`
}

type DaemonConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AuthToken      string   `yaml:"auth_token"`
	MaxRequestSize int      `yaml:"max_request_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Interval returns the sync period.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// StartupThreshold returns how stale the last sync may be before one runs
// at startup.
func (s SyncConfig) StartupThreshold() time.Duration {
	return time.Duration(s.StartupThresholdMinutes) * time.Minute
}

// Timeout returns the HTTP timeout of one push.
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Addr returns the daemon listen address.
func (d DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Load reads a YAML config file at path, merges it with defaults and
// applies PAGETRAIL_* environment overrides.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PAGETRAIL_SYNC_ENDPOINT"); v != "" {
		c.Sync.Endpoint = v
	}
	if v := getenv("PAGETRAIL_SYNC_EMAIL"); v != "" {
		c.Sync.Email = v
	}
	if v := getenv("PAGETRAIL_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := getenv("PAGETRAIL_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("PAGETRAIL_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := getenv("PAGETRAIL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("PAGETRAIL_DAEMON_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PAGETRAIL_DAEMON_PORT: %w", err)
		}
		c.Daemon.Port = port
	}
	return nil
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Sync.IntervalMinutes <= 0 {
		return fmt.Errorf("sync.interval_minutes must be positive, got %d", c.Sync.IntervalMinutes)
	}
	if c.Sync.StartupThresholdMinutes < 0 {
		return fmt.Errorf("sync.startup_threshold_minutes must not be negative")
	}
	if c.Sync.TimeoutSeconds <= 0 {
		return fmt.Errorf("sync.timeout_seconds must be positive, got %d", c.Sync.TimeoutSeconds)
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	if c.Sync.TimeZone != "" {
		if _, err := time.LoadLocation(c.Sync.TimeZone); err != nil {
			return fmt.Errorf("sync.time_zone: %w", err)
		}
	}
	for _, expr := range c.Tracking.DenylistRegex {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("tracking.denylist_regex %q: %w", expr, err)
		}
	}
	return nil
}

// ExclusionRules returns the tracking rules from the config file, plus the
// curated denylist when enabled.
func (c *Config) ExclusionRules() []filter.Rule {
	var rules []filter.Rule
	for _, p := range c.Tracking.ExcludeURLPrefixes {
		rules = append(rules, filter.Rule{Kind: filter.KindPrefix, Value: p})
	}
	domains := c.Tracking.DenylistDomains
	if c.Tracking.UseDefaultDenylist {
		domains = append(append([]string{}, domains...), DefaultDenylistDomains()...)
	}
	for _, d := range domains {
		rules = append(rules, filter.Rule{Kind: filter.KindDomain, Value: d})
	}
	for _, r := range c.Tracking.DenylistRegex {
		rules = append(rules, filter.Rule{Kind: filter.KindRegex, Value: r})
	}
	return rules
}

// DBPath returns the expanded path of the SQLite database.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// LogPath returns the expanded log file path, or "" for stderr. A relative
// file name is placed next to the database.
func (c *Config) LogPath() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	p, err := expandPath(c.Logging.File)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// DefaultPath returns the expanded default config path, honouring
// PAGETRAIL_CONFIG_PATH.
func DefaultPath() (string, error) {
	if p := os.Getenv("PAGETRAIL_CONFIG_PATH"); p != "" {
		return expandPath(p)
	}
	return expandPath(DefaultConfigPath)
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
	}

	return Load(path)
}
