package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string                  `json:"version"`
	Backend           string                  `json:"backend"`
	DatabasePath      string                  `json:"database_path"`
	DatabaseSizeBytes int64                   `json:"database_size_bytes"`
	Domains           int64                   `json:"domains"`
	Pages             int64                   `json:"pages"`
	UnsyncedPages     int64                   `json:"unsynced_pages"`
	TotalSeconds      float64                 `json:"total_seconds"`
	LastSync          string                  `json:"last_sync,omitempty"`
	LastReset         string                  `json:"last_reset,omitempty"`
	SyncEndpoint      string                  `json:"sync_endpoint,omitempty"`
	TopDomains        []aggregate.DomainTotal `json:"top_domains"`
	DaemonRunning     bool                    `json:"daemon_running"`
}

const statusTopDomains = 5

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withEnv(c.globals, c.env, c.run)
}

func (c *StatusCommand) run(env *appEnv) error {
	ctx := context.Background()

	stats, err := storage.CollectStats(ctx, env.pages)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	domains, err := env.pages.LoadPages(ctx)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	out := statusJSON{
		Version:           c.version,
		Backend:           env.backendName(),
		DatabasePath:      env.dbPath,
		DatabaseSizeBytes: getDatabaseSize(env.db, env.dbPath),
		Domains:           stats.Domains,
		Pages:             stats.Pages,
		UnsyncedPages:     stats.UnsyncedPages,
		TotalSeconds:      stats.TotalSeconds,
		SyncEndpoint:      env.cfg.Sync.Endpoint,
		TopDomains:        aggregate.TopDomains(domains, statusTopDomains),
		DaemonRunning:     checkDaemon(env.cfg.Daemon.Addr(), env.cfg.Daemon.AuthToken),
	}
	if !stats.LastSync.IsZero() {
		out.LastSync = stats.LastSync.UTC().Format(time.RFC3339)
	}
	if !stats.LastReset.IsZero() {
		out.LastReset = stats.LastReset.UTC().Format(time.RFC3339)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	c.printHuman(out, stats)
	return nil
}

func (c *StatusCommand) printHuman(out statusJSON, stats *storage.Stats) {
	fmt.Println("PageTrail Status")
	fmt.Println("================")
	fmt.Printf("Version:       %s\n", out.Version)
	fmt.Printf("Backend:       %s\n", out.Backend)
	fmt.Printf("Database:      %s (%s)\n", out.DatabasePath, formatBytes(out.DatabaseSizeBytes))
	fmt.Printf("Domains:       %s\n", formatNumber(out.Domains))
	fmt.Printf("Pages:         %s (%s unsynced)\n", formatNumber(out.Pages), formatNumber(out.UnsyncedPages))
	fmt.Printf("Active time:   %s\n", formatSeconds(out.TotalSeconds))

	if len(out.TopDomains) > 0 {
		fmt.Println()
		fmt.Println("Top Domains:")
		for _, d := range out.TopDomains {
			fmt.Printf("  %-28s %s\n", d.Domain, formatSeconds(d.TotalSeconds))
		}
	}

	fmt.Println()
	if out.SyncEndpoint == "" {
		fmt.Println("Sync:          not configured")
	} else {
		fmt.Printf("Sync:          %s\n", out.SyncEndpoint)
	}
	fmt.Printf("Last sync:     %s\n", sinceLabel(stats.LastSync))
	fmt.Printf("Last reset:    %s\n", sinceLabel(stats.LastReset))

	if out.DaemonRunning {
		fmt.Println("Daemon:        running")
	} else {
		fmt.Println("Daemon:        not running")
	}
}

func sinceLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return formatDurationHuman(time.Since(t)) + " ago"
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// checkDaemon attempts an HTTP GET to the daemon's status endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(addr, token string) bool {
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return false
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
