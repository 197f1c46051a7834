package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FastForward advances the last-line mark of every .jsonl file under root to
// its current line count without ingesting anything, so monitoring starts
// from the present position instead of replaying the backlog.
func FastForward(store EventStore, root string) (int, error) {
	var updated int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		lineCount := len(splitLines(data))
		if lineCount == 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(path)
		}
		if err := store.SetLastLine(rel, lineCount); err != nil {
			return fmt.Errorf("fast-forwarding %s: %w", rel, err)
		}
		updated++
		return nil
	})
	return updated, err
}
