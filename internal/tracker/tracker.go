package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/logging"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// ErrStopped is returned by Submit and Flush once Run has returned.
var ErrStopped = errors.New("tracker stopped")

const (
	defaultQueueSize     = 64
	defaultCommitTimeout = 10 * time.Second
)

// Committer persists a batch of page-visit records grouped by domain.
type Committer interface {
	Commit(ctx context.Context, batch []storage.Domain) error
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	State   State
	Pending int // records not yet committed
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithQueueSize sets the event queue capacity.
func WithQueueSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithCommitTimeout bounds each commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.commitTimeout = d
		}
	}
}

// Tracker owns the active-tab state. All events are applied by the Run
// goroutine, one at a time, and each event's records are committed before
// the next event is read.
type Tracker struct {
	machine   Machine
	committer Committer
	logger    *slog.Logger

	now           func() time.Time
	queueSize     int
	commitTimeout time.Duration

	events    chan Event
	flushes   chan chan error
	snapshots chan chan Snapshot
	done      chan struct{}

	// owned by Run
	state State
	// pending holds uncommitted batches, oldest first. A failed commit may
	// still have landed, so batches are never compacted: each record keeps
	// its own openedAt and a replay stays a no-op.
	pending [][]storage.Domain
}

// New creates a Tracker. Call Run to start processing events.
func New(machine Machine, committer Committer, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		machine:       machine,
		committer:     committer,
		logger:        logging.OrDiscard(logger),
		now:           time.Now,
		queueSize:     defaultQueueSize,
		commitTimeout: defaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.events = make(chan Event, t.queueSize)
	t.flushes = make(chan chan error)
	t.snapshots = make(chan chan Snapshot)
	t.done = make(chan struct{})
	return t
}

// Submit queues ev. It blocks while the queue is full.
func (t *Tracker) Submit(ctx context.Context, ev Event) error {
	select {
	case <-t.done:
		return ErrStopped
	default:
	}
	select {
	case t.events <- ev:
		return nil
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush checkpoints the running segment once every queued event before it
// has been applied, and waits for the commit. It returns the commit error,
// if any; the records stay pending in that case.
func (t *Tracker) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case t.flushes <- reply:
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the state after every event queued so far.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case t.snapshots <- reply:
	case <-t.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes events until ctx is cancelled. On the way out it applies
// every queued event, flushes the active tab and makes a last commit
// attempt.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)
	t.logger.Info("tracker started")

	for {
		select {
		case ev := <-t.events:
			t.handle(ctx, ev)

		case reply := <-t.flushes:
			t.drain(ctx)
			t.handle(ctx, Checkpoint{})
			reply <- t.commit(ctx)

		case reply := <-t.snapshots:
			t.drain(ctx)
			reply <- Snapshot{State: t.state, Pending: t.pendingCount()}

		case <-ctx.Done():
			t.shutdown()
			return nil
		}
	}
}

func (t *Tracker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), t.commitTimeout)
	defer cancel()

	t.drain(ctx)
	t.handle(ctx, Shutdown{})
	if n := t.pendingCount(); n > 0 {
		t.logger.Warn("tracker stopped with uncommitted records", "pages", n)
	} else {
		t.logger.Info("tracker stopped")
	}
}

// drain applies every event already queued.
func (t *Tracker) drain(ctx context.Context) {
	for {
		select {
		case ev := <-t.events:
			t.handle(ctx, ev)
		default:
			return
		}
	}
}

func (t *Tracker) handle(ctx context.Context, ev Event) {
	prev := t.state.Status
	next, recs := t.machine.Apply(t.state, ev, t.now())
	t.state = next

	if next.Status != prev {
		t.logger.Debug("slot changed",
			"event", Name(ev),
			"from", prev.String(),
			"to", next.Status.String(),
			"url", next.Active.URL,
		)
	}
	if len(recs) == 0 && len(t.pending) == 0 {
		return
	}

	if len(recs) > 0 {
		t.pending = append(t.pending, aggregate.GroupByDomain(recs))
	}
	if err := t.commit(ctx); err != nil {
		t.logger.Warn("commit failed; records kept for retry",
			"event", Name(ev),
			"pages", t.pendingCount(),
			"error", err,
		)
	}
}

// commit delivers pending batches in order and stops at the first failure.
func (t *Tracker) commit(ctx context.Context) error {
	for len(t.pending) > 0 {
		cctx, cancel := context.WithTimeout(ctx, t.commitTimeout)
		err := t.committer.Commit(cctx, t.pending[0])
		cancel()
		if err != nil {
			return err
		}
		t.pending[0] = nil
		t.pending = t.pending[1:]
	}
	t.pending = nil
	return nil
}

func (t *Tracker) pendingCount() int {
	var total int
	for _, batch := range t.pending {
		n, _ := aggregate.CountPages(batch)
		total += n
	}
	return total
}
