package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProcessor is the parser invoked for each changed file.
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string) (Result, error)
}

type monitorState int

const (
	stateStopped monitorState = iota
	stateStarting
	stateMonitoring
)

// Monitor watches a directory tree for .jsonl changes using two redundant
// triggers: an fsnotify watch and a fixed-interval poll. Both rescan the tree
// and hand files with newer modification times to the processor. Overlap
// between the triggers is harmless because inserts are idempotent and the
// last-line mark is safe to rewrite.
type Monitor struct {
	proc   FileProcessor
	root   string
	poll   time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	state    monitorState
	lastSeen map[string]time.Time
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a Monitor over root. If poll is <= 0, it defaults to 5s.
func NewMonitor(proc FileProcessor, root string, poll time.Duration) *Monitor {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Monitor{
		proc:     proc,
		root:     root,
		poll:     poll,
		logger:   slog.Default(),
		lastSeen: make(map[string]time.Time),
	}
}

// Start verifies the watch root, performs the startup sweep, and launches the
// trigger loop. It fails if the directory does not exist or cannot be watched.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != stateStopped {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.state = stateStarting
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.state = stateStopped
		m.mu.Unlock()
		return err
	}

	info, err := os.Stat(m.root)
	if err != nil {
		return fail(fmt.Errorf("watch directory: %w", err))
	}
	if !info.IsDir() {
		return fail(fmt.Errorf("watch path %s is not a directory", m.root))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fail(fmt.Errorf("creating watcher: %w", err))
	}
	if err := watcher.Add(m.root); err != nil {
		watcher.Close()
		return fail(fmt.Errorf("watching %s: %w", m.root, err))
	}

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.state = stateMonitoring
	m.watcher = watcher
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("monitoring directory", "dir", m.root, "poll", m.poll)

	// Startup sweep: the last-seen cache is empty, so the first rescan
	// ingests all pre-existing history.
	m.rescan(runCtx)

	go m.run(runCtx, watcher)
	return nil
}

// Stop cancels both triggers. Processing already in flight finishes; it is
// not aborted mid-batch.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	cancel, watcher, done := m.cancel, m.watcher, m.done
	m.mu.Unlock()

	cancel()
	<-done
	watcher.Close()

	m.mu.Lock()
	m.state = stateStopped
	m.watcher = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(m.done)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod|fsnotify.Rename) == 0 {
				continue
			}
			m.rescan(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			// Polling fallback: filesystem notifications are not fully
			// reliable for this watch target.
			m.rescan(ctx)
		}
	}
}

// rescan walks the tree and processes every .jsonl file whose modification
// time is newer than the cached last-seen time.
func (m *Monitor) rescan(ctx context.Context) {
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			// New subdirectories are brought under the notification watch as
			// they appear; the poll covers any gap.
			if w := m.currentWatcher(); w != nil && path != m.root {
				w.Add(path)
			}
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		m.mu.Lock()
		seen, ok := m.lastSeen[path]
		m.mu.Unlock()
		if ok && !info.ModTime().After(seen) {
			return nil
		}

		if _, err := m.proc.ProcessFile(ctx, path); err != nil {
			// Cycle aborted with state untouched; the file is retried on the
			// next trigger.
			m.logger.Error("processing failed", "file", path, "error", err)
			return nil
		}

		m.mu.Lock()
		m.lastSeen[path] = info.ModTime()
		m.mu.Unlock()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		m.logger.Warn("rescan failed", "error", err)
	}
}

func (m *Monitor) currentWatcher() *fsnotify.Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watcher
}
