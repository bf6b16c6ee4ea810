// Package pusher uploads unsynced pages to the remote collector and runs the
// periodic sync and daily rollover.
package pusher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/logging"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// Sync log statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// dateLayout is the collector's dd-mm-yyyy date.
const dateLayout = "02-01-2006"

// Flusher persists the tracker's running segment before a push.
type Flusher interface {
	Flush(ctx context.Context) error
}

// SyncLog records sync attempts.
type SyncLog interface {
	LogSync(ctx context.Context, a storage.SyncAttempt) error
}

// Config holds the pusher settings.
type Config struct {
	Email            string
	TimeZone         string
	Version          string
	Interval         time.Duration
	StartupThreshold time.Duration
	DailyReset       bool
}

// Result describes one sync attempt.
type Result struct {
	ID         string
	Status     string
	Pushed     int // pages sent
	Marked     int // pages flagged synced afterwards
	HTTPStatus int
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithFlusher checkpoints the tracker before every push.
func WithFlusher(f Flusher) Option {
	return func(p *Pusher) { p.flusher = f }
}

// WithSyncLog records every attempt.
func WithSyncLog(l SyncLog) Option {
	return func(p *Pusher) { p.syncLog = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pusher) { p.now = now }
}

// Pusher reads the aggregate, sends the unsynced part and marks it synced
// once the collector accepted it.
type Pusher struct {
	store   storage.Store
	sender  Sender
	cfg     Config
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
	flusher Flusher
	syncLog SyncLog
}

// New creates a Pusher. An unknown TimeZone falls back to the local zone.
func New(store storage.Store, sender Sender, cfg Config, logger *slog.Logger, opts ...Option) *Pusher {
	p := &Pusher{
		store:  store,
		sender: sender,
		cfg:    cfg,
		loc:    time.Local,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
	if cfg.TimeZone != "" {
		if loc, err := time.LoadLocation(cfg.TimeZone); err == nil {
			p.loc = loc
		} else {
			p.logger.Warn("unknown time zone, using local", "time_zone", cfg.TimeZone, "error", err)
		}
	}
	if p.cfg.TimeZone == "" {
		p.cfg.TimeZone = p.loc.String()
	}
	if p.cfg.Version == "" {
		p.cfg.Version = "1"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SyncOnce pushes every unsynced page. Pages are marked synced only when the
// collector accepted the push and the page did not change meanwhile.
func (p *Pusher) SyncOnce(ctx context.Context) (Result, error) {
	started := p.now()
	res := Result{ID: uuid.NewString()}

	if p.flusher != nil {
		if err := p.flusher.Flush(ctx); err != nil {
			p.logger.Warn("checkpoint before sync failed", "error", err)
		}
	}

	if p.cfg.Email == "" {
		res.Status = StatusSkipped
		p.record(ctx, started, res, "no email configured")
		return res, nil
	}

	domains, err := p.store.LoadPages(ctx)
	if err != nil {
		res.Status = StatusFailed
		p.record(ctx, started, res, err.Error())
		return res, fmt.Errorf("load pages: %w", err)
	}

	pushed := aggregate.Unsynced(domains)
	res.Pushed, _ = aggregate.CountPages(pushed)
	if res.Pushed == 0 {
		res.Status = StatusSkipped
		p.record(ctx, started, res, "nothing to sync")
		return res, nil
	}

	payload := Payload{
		Email:    p.cfg.Email,
		Date:     started.In(p.loc).Format(dateLayout),
		TimeZone: p.cfg.TimeZone,
		Data:     pushed,
		Version:  p.cfg.Version,
	}
	res.HTTPStatus, err = p.sender.Push(ctx, payload, res.ID)
	if err != nil {
		res.Status = StatusFailed
		p.record(ctx, started, res, err.Error())
		return res, err
	}

	_, err = p.store.UpdatePages(ctx, func(current []storage.Domain) ([]storage.Domain, error) {
		next, n := aggregate.MarkSynced(current, pushed)
		res.Marked = n
		return next, nil
	})
	if err != nil {
		res.Status = StatusFailed
		p.record(ctx, started, res, "accepted but not marked: "+err.Error())
		return res, fmt.Errorf("mark synced: %w", err)
	}

	if err := p.store.SetMarker(ctx, storage.MarkerLastSync, started); err != nil {
		p.logger.Warn("failed to store last sync time", "error", err)
	}

	res.Status = StatusOK
	p.record(ctx, started, res, "")
	return res, nil
}

func (p *Pusher) record(ctx context.Context, started time.Time, res Result, detail string) {
	attrs := []any{
		"id", res.ID,
		"status", res.Status,
		"pages", res.Pushed,
		"marked", res.Marked,
		"http_status", res.HTTPStatus,
	}
	switch res.Status {
	case StatusFailed:
		p.logger.Warn("sync failed", append(attrs, "detail", detail)...)
	case StatusSkipped:
		p.logger.Debug("sync skipped", append(attrs, "detail", detail)...)
	default:
		p.logger.Info("sync complete", attrs...)
	}

	if p.syncLog == nil {
		return
	}
	err := p.syncLog.LogSync(ctx, storage.SyncAttempt{
		ID:         res.ID,
		StartedAt:  started,
		Status:     res.Status,
		Pages:      res.Pushed,
		HTTPStatus: res.HTTPStatus,
		Detail:     detail,
	})
	if err != nil {
		p.logger.Warn("failed to write sync log", "error", err)
	}
}

// Rollover runs the daily boundary: one last sync, then synced pages are
// dropped and lastReset is recorded. Unsynced pages are kept. It returns the
// number of pages removed.
func (p *Pusher) Rollover(ctx context.Context) (int, error) {
	if _, err := p.SyncOnce(ctx); err != nil {
		p.logger.Warn("sync before rollover failed; unsynced pages are kept", "error", err)
	}

	removed := 0
	_, err := p.store.UpdatePages(ctx, func(current []storage.Domain) ([]storage.Domain, error) {
		next, n := aggregate.PruneSynced(current)
		removed = n
		return next, nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune synced pages: %w", err)
	}

	if err := p.store.SetMarker(ctx, storage.MarkerLastReset, p.now()); err != nil {
		return removed, fmt.Errorf("store last reset time: %w", err)
	}
	p.logger.Info("daily rollover", "pruned", removed)
	return removed, nil
}

// Run syncs on startup when the last sync is stale, then every Interval, and
// rolls over at 00:01 local time each day. Errors are logged; Run only
// returns when ctx is done.
func (p *Pusher) Run(ctx context.Context) error {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	p.startup(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var daily <-chan time.Time
	var dailyTimer *time.Timer
	if p.cfg.DailyReset {
		dailyTimer = time.NewTimer(NextBoundary(p.now(), p.loc).Sub(p.now()))
		defer dailyTimer.Stop()
		daily = dailyTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if _, err := p.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Debug("scheduled sync failed", "error", err)
			}

		case <-daily:
			if _, err := p.Rollover(ctx); err != nil {
				p.logger.Error("daily rollover failed", "error", err)
			}
			now := p.now()
			dailyTimer.Reset(NextBoundary(now, p.loc).Sub(now))
		}
	}
}

// startup catches up on a rollover missed while the process was down, or
// syncs when the last success is older than StartupThreshold.
func (p *Pusher) startup(ctx context.Context) {
	now := p.now()

	if p.cfg.DailyReset {
		lastReset, err := p.store.Marker(ctx, storage.MarkerLastReset)
		switch {
		case err != nil:
			p.logger.Warn("failed to read last reset time", "error", err)
		case lastReset.IsZero():
			if err := p.store.SetMarker(ctx, storage.MarkerLastReset, now); err != nil {
				p.logger.Warn("failed to store last reset time", "error", err)
			}
		case lastReset.Before(PreviousBoundary(now, p.loc)):
			if _, err := p.Rollover(ctx); err != nil {
				p.logger.Error("catch-up rollover failed", "error", err)
			}
			return
		}
	}

	lastSync, err := p.store.Marker(ctx, storage.MarkerLastSync)
	if err != nil {
		p.logger.Warn("failed to read last sync time", "error", err)
		return
	}
	if p.cfg.StartupThreshold > 0 && now.Sub(lastSync) <= p.cfg.StartupThreshold {
		p.logger.Debug("last sync is recent, skipping startup sync", "last_sync", lastSync)
		return
	}
	if _, err := p.SyncOnce(ctx); err != nil {
		p.logger.Debug("startup sync failed", "error", err)
	}
}

// NextBoundary returns the first daily boundary (00:01 in loc) after now.
func NextBoundary(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	b := time.Date(local.Year(), local.Month(), local.Day(), 0, 1, 0, 0, loc)
	if !b.After(local) {
		b = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 1, 0, 0, loc)
	}
	return b
}

// PreviousBoundary returns the latest daily boundary at or before now.
func PreviousBoundary(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	b := time.Date(local.Year(), local.Month(), local.Day(), 0, 1, 0, 0, loc)
	if b.After(local) {
		b = time.Date(local.Year(), local.Month(), local.Day()-1, 0, 1, 0, 0, loc)
	}
	return b
}
