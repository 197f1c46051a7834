package syncer

import (
	"context"
	"log/slog"
	"time"

	"vibewatch/internal/storage"
)

// SyncStore abstracts the store operations the worker needs.
type SyncStore interface {
	GetActiveSyncScopes() ([]storage.SyncScope, error)
	GetUnsyncedEvents(limit int) ([]storage.ConversationEvent, error)
	GetUnsyncedEventsForSession(sessionID string, limit int) ([]storage.ConversationEvent, error)
	MarkSynced(ids []int64) error
	MarkScopeSynced(id string) error
}

// Uploader posts a batch of events to the remote endpoint.
type Uploader interface {
	UploadEvents(ctx context.Context, events []storage.ConversationEvent) (int, error)
}

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 300 * time.Second

	drainSleep     = 2 * time.Second
	idleSleep      = 60 * time.Second
	selectiveSleep = 15 * time.Second
)

// Worker is the background loop that uploads unsynced events selected by the
// active sync scopes. Sync is entirely scope-driven: with no scopes (or no
// credentials) the worker idles.
type Worker struct {
	store     SyncStore
	client    Uploader // nil when credentials are not configured
	batchSize int
	logger    *slog.Logger

	wake     chan struct{}
	failures int
}

// NewWorker creates a Worker. Pass a nil client to run in unconfigured mode;
// the loop then idles until restarted with credentials. If batchSize is <= 0,
// it defaults to 50.
func NewWorker(store SyncStore, client Uploader, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		store:     store,
		client:    client,
		batchSize: batchSize,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
	}
}

// Wake interrupts the current inter-iteration sleep, so a newly registered
// scope is picked up immediately instead of after the full interval.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run iterates until ctx is cancelled. Cancellation interrupts the sleep
// between iterations but not an upload already in flight: a request the
// server may have accepted must be marked synced, or it would be re-uploaded
// after restart.
func (w *Worker) Run(ctx context.Context) {
	passCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		delay := w.runOnce(passCtx)

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(delay):
		}
	}
}

// runOnce performs one sync pass and returns how long to sleep before the
// next one.
func (w *Worker) runOnce(ctx context.Context) time.Duration {
	if w.client == nil {
		return idleSleep
	}

	scopes, err := w.store.GetActiveSyncScopes()
	if err != nil {
		return w.fail("loading sync scopes", err)
	}
	if len(scopes) == 0 {
		return idleSleep
	}

	global := false
	for _, sc := range scopes {
		if sc.ScopeType == storage.ScopeAll {
			global = true
			break
		}
	}

	var uploaded int
	if global {
		uploaded, err = w.syncGlobal(ctx)
	} else {
		uploaded, err = w.syncSelective(ctx, scopes)
	}
	if err != nil {
		return w.fail("sync pass", err)
	}

	w.failures = 0
	if uploaded > 0 {
		w.logger.Info("synced events", "uploaded", uploaded)
		return drainSleep
	}
	if global {
		return idleSleep
	}
	return selectiveSleep
}

// syncGlobal uploads one bounded batch of unsynced events regardless of
// session.
func (w *Worker) syncGlobal(ctx context.Context) (int, error) {
	events, err := w.store.GetUnsyncedEvents(w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return w.uploadAndMark(ctx, events)
}

// syncSelective uploads one bounded batch per session scope and records
// progress on each scope that moved.
func (w *Worker) syncSelective(ctx context.Context, scopes []storage.SyncScope) (int, error) {
	var total int
	for _, sc := range scopes {
		if sc.ScopeType != storage.ScopeSession {
			continue
		}
		events, err := w.store.GetUnsyncedEventsForSession(sc.SessionID, w.batchSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			continue
		}
		n, err := w.uploadAndMark(ctx, events)
		if err != nil {
			return total, err
		}
		total += n
		if err := w.store.MarkScopeSynced(sc.ID); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (w *Worker) uploadAndMark(ctx context.Context, events []storage.ConversationEvent) (int, error) {
	n, err := w.client.UploadEvents(ctx, events)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if err := w.store.MarkSynced(ids); err != nil {
		return n, err
	}
	return n, nil
}

func (w *Worker) fail(op string, err error) time.Duration {
	w.failures++
	delay := Backoff(initialBackoff, maxBackoff, w.failures)
	w.logger.Warn("sync failed", "op", op, "error", err, "failures", w.failures, "retry_in", delay)
	return delay
}

// Backoff returns min(initial * 2^(failures-1), max).
func Backoff(initial, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := initial
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
