package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/daemon"
	"github.com/runnerr0/pagetrail/internal/logging"
	"github.com/runnerr0/pagetrail/internal/pusher"
	"github.com/runnerr0/pagetrail/internal/tracker"
)

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals != nil && c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logPath, err := cfg.LogPath()
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   logPath,
	}, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	env, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, env, logger, c.version)
}

// runDaemon wires the tracker, the pusher and the HTTP server and serves
// until ctx is cancelled. The tracker is stopped last so that it flushes the
// active page after the server stopped accepting events.
func runDaemon(ctx context.Context, env *appEnv, logger *slog.Logger, version string) error {
	logger = logging.OrDiscard(logger)

	f, err := buildFilter(ctx, env)
	if err != nil {
		return err
	}

	trk := tracker.New(
		tracker.NewMachine(f),
		aggregate.NewRecorder(env.pages),
		logger.With("component", "tracker"),
	)

	var syncer daemon.Syncer
	var psh *pusher.Pusher
	if env.cfg.Sync.Endpoint != "" {
		psh = newPusher(env, logger.With("component", "pusher"), pusher.WithFlusher(trk))
		syncer = psh
	} else {
		logger.Info("sync endpoint not configured; pages are kept locally")
	}

	srv := daemon.New(trk, env.pages, syncer, daemon.Options{
		Version:        version,
		AuthToken:      env.cfg.Daemon.AuthToken,
		MaxRequestSize: int64(env.cfg.Daemon.MaxRequestSize),
		AllowedOrigins: env.cfg.Daemon.AllowedOrigins,
	}, logger.With("component", "daemon"))

	trkCtx, stopTracker := context.WithCancel(context.Background())
	trkDone := make(chan struct{})
	go func() {
		defer close(trkDone)
		trk.Run(trkCtx)
	}()

	pushCtx, stopPusher := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if psh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			psh.Run(pushCtx)
		}()
	}

	logger.Info("pagetrail daemon starting",
		"version", version,
		"backend", env.backendName(),
		"exclusion_rules", f.Len(),
	)
	serveErr := srv.ListenAndServe(ctx, env.cfg.Daemon.Addr())

	stopPusher()
	wg.Wait()
	stopTracker()
	<-trkDone

	if serveErr != nil {
		return fmt.Errorf("daemon: %w", serveErr)
	}
	return nil
}
