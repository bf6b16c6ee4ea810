package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/pagetrail/internal/config"
	"github.com/runnerr0/pagetrail/internal/filter"
	"github.com/runnerr0/pagetrail/internal/logging"
	"github.com/runnerr0/pagetrail/internal/pusher"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// appEnv is what a command runs against: the loaded config, the SQLite
// database holding exclusions and the sync log, and the page store, which is
// either the same database or Redis.
type appEnv struct {
	cfg    *config.Config
	dbPath string
	db     *sql.DB
	local  *storage.SQLiteStore
	pages  storage.Store
	redis  *storage.RedisStore
}

// loadConfig loads --config when given, otherwise the default config file.
// A missing file is created with defaults.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.LoadOrCreateAt(globals.Config)
	}
	return config.LoadOrCreate()
}

// openEnv opens the stores named by cfg and runs migrations.
func openEnv(cfg *config.Config) (*appEnv, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	db, err := storage.OpenSQLite(dbPath, cfg.Storage.SQLiteJournalMode)
	if err != nil {
		return nil, err
	}

	local, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	env := &appEnv{cfg: cfg, dbPath: dbPath, db: db, local: local, pages: local}
	if cfg.Storage.Backend == config.BackendRedis {
		rs, err := storage.NewRedisStore(cfg.Storage.RedisURL)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.redis = rs
		env.pages = rs
	}
	return env, nil
}

// Close releases the stores in reverse order of opening.
func (e *appEnv) Close() error {
	var firstErr error
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// backendName reports which store holds the page list.
func (e *appEnv) backendName() string {
	if e.redis != nil {
		return config.BackendRedis
	}
	return config.BackendSQLite
}

// withEnv runs fn against injected, or opens one from config and closes it
// afterwards.
func withEnv(globals *GlobalFlags, injected *appEnv, fn func(*appEnv) error) error {
	if injected != nil {
		return fn(injected)
	}
	cfg, err := loadConfig(globals)
	if err != nil {
		return err
	}
	env, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(env)
}

// buildFilter merges the config rules with the rules stored in the database.
func buildFilter(ctx context.Context, env *appEnv) (*filter.Filter, error) {
	rules := env.cfg.ExclusionRules()

	stored, err := env.local.ListExclusions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}
	for _, e := range stored {
		rules = append(rules, filter.Rule{Kind: e.RuleType, Value: e.RuleValue})
	}
	return filter.New(rules)
}

// newPusher builds a pusher from the sync section of the config. Attempts are
// written to the sync log.
func newPusher(env *appEnv, logger *slog.Logger, opts ...pusher.Option) *pusher.Pusher {
	sc := env.cfg.Sync
	client := pusher.NewClient(sc.Endpoint, sc.Timeout())
	cfg := pusher.Config{
		Email:            sc.Email,
		TimeZone:         sc.TimeZone,
		Version:          sc.Version,
		Interval:         sc.Interval(),
		StartupThreshold: sc.StartupThreshold(),
		DailyReset:       sc.DailyReset,
	}
	opts = append([]pusher.Option{pusher.WithSyncLog(env.local)}, opts...)
	return pusher.New(env.pages, client, cfg, logger, opts...)
}

// commandLogger logs to stderr at warn level, or debug with --verbose.
func commandLogger(globals *GlobalFlags, cfg *config.Config) *slog.Logger {
	level := "warn"
	if globals != nil && globals.Verbose {
		level = "debug"
	}
	logger, _, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format}, os.Stderr)
	if err != nil {
		return logging.Discard()
	}
	return logger
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d.Minutes())
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// formatSeconds renders active time as "1h 02m 03s", "4m 05s" or "12s".
func formatSeconds(secs float64) string {
	total := int64(math.Round(secs))
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
