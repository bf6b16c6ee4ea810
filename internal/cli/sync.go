package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/pagetrail/internal/pusher"
	"github.com/runnerr0/pagetrail/internal/storage"
)

type syncJSON struct {
	ID         string `json:"id,omitempty"`
	Status     string `json:"status"`
	Pushed     int    `json:"pushed"`
	Marked     int    `json:"marked"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Pruned     int    `json:"pruned,omitempty"`
	Error      string `json:"error,omitempty"`
}

type syncAttemptJSON struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	Status     string `json:"status"`
	Pages      int    `json:"pages"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Execute implements the go-flags Commander interface for SyncCommand.
func (c *SyncCommand) Execute(args []string) error {
	if c.History < 0 {
		return fmt.Errorf("--history must not be negative")
	}
	return withEnv(c.globals, c.env, c.run)
}

func (c *SyncCommand) run(env *appEnv) error {
	ctx := context.Background()
	if c.History > 0 {
		return c.printHistory(ctx, env)
	}

	if env.cfg.Sync.Endpoint == "" {
		return fmt.Errorf("sync endpoint is not configured (set sync.endpoint or PAGETRAIL_SYNC_ENDPOINT)")
	}

	p := newPusher(env, commandLogger(c.globals, env.cfg))

	if c.Rollover {
		removed, err := p.Rollover(ctx)
		if err != nil {
			return fmt.Errorf("rollover failed: %w", err)
		}
		if c.globals != nil && c.globals.JSON {
			return printJSON(syncJSON{Status: pusher.StatusOK, Pruned: removed})
		}
		fmt.Printf("Rollover complete: removed %d synced pages.\n", removed)
		return nil
	}

	res, err := p.SyncOnce(ctx)
	if c.globals != nil && c.globals.JSON {
		out := syncJSON{
			ID:         res.ID,
			Status:     res.Status,
			Pushed:     res.Pushed,
			Marked:     res.Marked,
			HTTPStatus: res.HTTPStatus,
		}
		if err != nil {
			out.Error = err.Error()
		}
		if encErr := printJSON(out); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	switch res.Status {
	case pusher.StatusSkipped:
		if env.cfg.Sync.Email == "" {
			fmt.Println("Sync skipped: no email configured.")
		} else {
			fmt.Println("Nothing to sync.")
		}
	default:
		fmt.Printf("Synced %d pages (%d marked synced).\n", res.Pushed, res.Marked)
	}
	return nil
}

func (c *SyncCommand) printHistory(ctx context.Context, env *appEnv) error {
	attempts, err := env.local.ListSyncLog(ctx, c.History)
	if err != nil {
		return fmt.Errorf("list sync log: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := make([]syncAttemptJSON, len(attempts))
		for i, a := range attempts {
			out[i] = syncAttemptJSON{
				ID:         a.ID,
				StartedAt:  a.StartedAt.UTC().Format(time.RFC3339),
				Status:     a.Status,
				Pages:      a.Pages,
				HTTPStatus: a.HTTPStatus,
				Detail:     a.Detail,
			}
		}
		return printJSON(out)
	}

	if len(attempts) == 0 {
		fmt.Println("No sync attempts recorded.")
		return nil
	}
	for _, a := range attempts {
		printAttempt(a)
	}
	return nil
}

func printAttempt(a storage.SyncAttempt) {
	line := fmt.Sprintf("%s  %-7s  %4d pages", a.StartedAt.Local().Format("2006-01-02 15:04:05"), a.Status, a.Pages)
	if a.HTTPStatus != 0 {
		line += fmt.Sprintf("  HTTP %d", a.HTTPStatus)
	}
	if a.Detail != "" {
		line += "  " + a.Detail
	}
	fmt.Println(line)
}
