package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetrail/internal/config"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// testConfig returns defaults with the daemon pointed at a port nothing
// listens on.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Daemon.Port = 1
	return cfg
}

// newTestEnv opens a migrated in-memory SQLite environment.
func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:", "memory")
	require.NoError(t, err)

	local, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)

	env := &appEnv{cfg: testConfig(), dbPath: ":memory:", db: db, local: local, pages: local}
	t.Cleanup(func() { env.Close() })
	return env
}

// newRedisTestEnv is newTestEnv with the page list kept in miniredis.
func newRedisTestEnv(t *testing.T) (*appEnv, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	env := newTestEnv(t)
	rs, err := storage.NewRedisStore("redis://" + s.Addr())
	require.NoError(t, err)
	env.redis = rs
	env.pages = rs
	env.cfg.Storage.Backend = config.BackendRedis
	env.cfg.Storage.RedisURL = "redis://" + s.Addr()
	return env, s
}

// seedPages replaces the stored page list.
func seedPages(t *testing.T, env *appEnv, domains []storage.Domain) {
	t.Helper()
	_, err := env.pages.UpdatePages(context.Background(), func([]storage.Domain) ([]storage.Domain, error) {
		return domains, nil
	})
	require.NoError(t, err)
}

// sampleDomains has three pages on two domains, one of them synced.
func sampleDomains() []storage.Domain {
	return []storage.Domain{
		{Domain: "github.com", Pages: []storage.Page{
			{Page: "https://github.com/a", Domain: "github.com", OpenedAt: 1000, TimeSpent: 3725, LastVisited: 3000, Meta: storage.Meta{Title: "Repo A"}},
			{Page: "https://github.com/b", Domain: "github.com", OpenedAt: 2000, TimeSpent: 65, LastVisited: 9000, Synced: true},
		}},
		{Domain: "example.com", Pages: []storage.Page{
			{Page: "https://example.com/", Domain: "example.com", OpenedAt: 4000, TimeSpent: 12, LastVisited: 5000, Meta: storage.Meta{Title: "Example"}},
		}},
	}
}

// configArgs points --config and the database at a temp dir so RunWithArgs
// never touches the home directory.
func configArgs(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PAGETRAIL_DB_PATH", dir)
	t.Setenv("PAGETRAIL_CONFIG_PATH", filepath.Join(dir, "config.yaml"))
	return []string{"--config", filepath.Join(dir, "config.yaml")}
}
