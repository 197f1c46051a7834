package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"vibewatch/internal/gitinfo"
	"vibewatch/internal/storage"
)

// EventStore abstracts the store operations the processor needs.
type EventStore interface {
	InsertEventsBatch(events []storage.NewEvent) (int, error)
	GetLastLine(fileName string) (int, error)
	SetLastLine(fileName string, line int) error
}

// GitLookup resolves provenance for a working directory.
type GitLookup interface {
	Lookup(ctx context.Context, dir string) gitinfo.Info
}

// Result summarizes one processing cycle for a file.
type Result struct {
	LinesRead int // tail lines examined this cycle
	Stored    int // rows newly persisted
	Skipped   int // blank or unparseable lines
}

// Processor turns "a file changed" into new event rows, exactly once per
// line, resumable across restarts via the file state table.
type Processor struct {
	store  EventStore
	git    GitLookup
	root   string
	logger *slog.Logger
}

// NewProcessor creates a Processor for files under root.
func NewProcessor(store EventStore, git GitLookup, root string) *Processor {
	return &Processor{
		store:  store,
		git:    git,
		root:   root,
		logger: slog.Default(),
	}
}

// ProcessFile ingests all lines of path beyond the recorded last-line mark.
// The file is re-read in full and sliced by line count, so a file rewritten
// shorter than its mark simply yields an empty tail. Blank and unparseable
// lines advance the mark without being stored. A read error aborts the cycle
// with state untouched; the next trigger retries.
func (p *Processor) ProcessFile(ctx context.Context, path string) (Result, error) {
	if filepath.Ext(path) != ".jsonl" {
		return Result{}, nil
	}

	fileName := p.relName(path)

	lastLine, err := p.store.GetLastLine(fileName)
	if err != nil {
		return Result{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("reading %s: %w", fileName, err)
	}

	lines := splitLines(data)
	if len(lines) <= lastLine {
		// Record first encounters of empty files so they count as complete.
		if lastLine == 0 && len(lines) == 0 {
			if err := p.store.SetLastLine(fileName, 0); err != nil {
				return Result{}, err
			}
		}
		return Result{}, nil
	}

	tail := lines[lastLine:]
	res := Result{LinesRead: len(tail)}
	p.logger.Debug("processing new lines", "file", fileName, "lines", len(tail))

	var (
		batch       []storage.NewEvent
		gitCtx      gitinfo.Info
		gitResolved bool
		finalLine   = lastLine
	)

	for idx, raw := range tail {
		lineNumber := lastLine + idx + 1
		finalLine = lineNumber

		line := strings.TrimSpace(raw)
		if line == "" {
			res.Skipped++
			continue
		}
		if !utf8.ValidString(line) {
			p.logger.Warn("skipping non-UTF-8 line", "file", fileName, "line", lineNumber)
			res.Skipped++
			continue
		}
		if !json.Valid([]byte(line)) {
			p.logger.Warn("skipping invalid JSON", "file", fileName, "line", lineNumber)
			res.Skipped++
			continue
		}

		// Provenance is resolved once per cycle, from the first line that
		// exposes a working directory, and reused for the rest of the tail.
		if !gitResolved {
			var meta struct {
				Cwd string `json:"cwd"`
			}
			if json.Unmarshal([]byte(line), &meta) == nil && meta.Cwd != "" {
				gitCtx = p.git.Lookup(ctx, meta.Cwd)
				gitResolved = true
			}
		}

		batch = append(batch, storage.NewEvent{
			FileName:      fileName,
			LineNumber:    lineNumber,
			EventData:     line,
			GitRemoteURL:  gitCtx.RemoteURL,
			GitCommitHash: gitCtx.CommitHash,
		})
	}

	stored, err := p.store.InsertEventsBatch(batch)
	res.Stored = stored
	if err != nil {
		// Leave last_line where it was: the failed rows are retried on the
		// next trigger and the committed rows are deduplicated by key.
		return res, fmt.Errorf("storing batch from %s: %w", fileName, err)
	}

	if err := p.store.SetLastLine(fileName, finalLine); err != nil {
		return res, err
	}

	if stored > 0 {
		p.logger.Info("stored events", "file", fileName, "stored", stored, "skipped", res.Skipped)
	}
	return res, nil
}

// relName returns path relative to the watch root, falling back to the base
// name when path lies outside it.
func (p *Processor) relName(path string) string {
	rel, err := filepath.Rel(p.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return rel
}

// splitLines splits file content on newlines, ignoring a trailing newline so
// line counts match what was actually written.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}
