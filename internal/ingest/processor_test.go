package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"vibewatch/internal/gitinfo"
	"vibewatch/internal/storage"
)

type fakeGit struct {
	info  gitinfo.Info
	calls int
}

func (f *fakeGit) Lookup(ctx context.Context, dir string) gitinfo.Info {
	f.calls++
	return f.info
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:", "tester")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestProcessFileResume(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.jsonl")
	proc := NewProcessor(store, &fakeGit{}, dir)

	// One valid line, one blank, one broken.
	writeFile(t, path, `{"type":"user","sessionId":"s1","message":{"role":"user","content":"hi"}}`+"\n\n{not json\n")

	res, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if res.LinesRead != 3 || res.Stored != 1 || res.Skipped != 2 {
		t.Errorf("first pass = %+v, want LinesRead=3 Stored=1 Skipped=2", res)
	}

	last, err := store.GetLastLine("conv.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if last != 3 {
		t.Errorf("last line = %d, want 3 (skipped lines advance the mark)", last)
	}

	// Append two more valid lines; only the tail is processed.
	appendFile(t, path, `{"type":"assistant","sessionId":"s1","message":{"role":"assistant","content":"hello"}}`+"\n"+
		`{"type":"user","sessionId":"s1","message":{"role":"user","content":"more"}}`+"\n")

	res, err = proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second ProcessFile: %v", err)
	}
	if res.LinesRead != 2 || res.Stored != 2 || res.Skipped != 0 {
		t.Errorf("second pass = %+v, want LinesRead=2 Stored=2", res)
	}

	last, _ = store.GetLastLine("conv.jsonl")
	if last != 5 {
		t.Errorf("last line = %d, want 5", last)
	}

	stats, err := store.GetStatistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
}

func TestProcessFileIdempotent(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.jsonl")
	proc := NewProcessor(store, &fakeGit{}, dir)

	writeFile(t, path, `{"type":"user","sessionId":"s1","message":{"role":"user","content":"hi"}}`+"\n")

	if _, err := proc.ProcessFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	res, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.LinesRead != 0 || res.Stored != 0 {
		t.Errorf("reprocess = %+v, want nothing new", res)
	}
}

func TestProcessFileEmpty(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	proc := NewProcessor(store, &fakeGit{}, dir)

	writeFile(t, path, "")

	res, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if res.LinesRead != 0 || res.Stored != 0 {
		t.Errorf("empty file = %+v, want zero result", res)
	}

	// The file is still registered as tracked.
	count, err := store.TrackedFileCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("tracked files = %d, want 1", count)
	}
}

func TestProcessFileIgnoresOtherExtensions(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	proc := NewProcessor(store, &fakeGit{}, dir)

	writeFile(t, path, `{"type":"user"}`+"\n")

	res, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.LinesRead != 0 {
		t.Errorf("non-jsonl file was read: %+v", res)
	}
}

func TestProcessFileMissing(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	proc := NewProcessor(store, &fakeGit{}, dir)

	res, err := proc.ProcessFile(context.Background(), filepath.Join(dir, "gone.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if res.Stored != 0 {
		t.Errorf("stored %d from missing file", res.Stored)
	}
}

func TestProcessFileGitProvenance(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.jsonl")
	git := &fakeGit{info: gitinfo.Info{
		RemoteURL:  "https://example.com/team/repo.git",
		CommitHash: "abc123",
	}}
	proc := NewProcessor(store, git, dir)

	writeFile(t, path,
		`{"type":"user","cwd":"/work/repo","sessionId":"s1","message":{"role":"user","content":"a"}}`+"\n"+
			`{"type":"assistant","cwd":"/work/repo","sessionId":"s1","message":{"role":"assistant","content":"b"}}`+"\n")

	if _, err := proc.ProcessFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	// One lookup per cycle, not per line.
	if git.calls != 1 {
		t.Errorf("git lookups = %d, want 1", git.calls)
	}

	events, err := store.GetUnsyncedEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.GitRemoteURL != "https://example.com/team/repo.git" {
			t.Errorf("event %d GitRemoteURL = %q", e.ID, e.GitRemoteURL)
		}
		if e.GitCommitHash != "abc123" {
			t.Errorf("event %d GitCommitHash = %q", e.ID, e.GitCommitHash)
		}
	}
}

func TestSplitLines(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"\n", 1},
		{"a\n", 1},
		{"a", 1},
		{"a\nb\n", 2},
		{"a\nb", 2},
		{"a\n\nb\n", 3},
	}
	for _, c := range cases {
		got := len(splitLines([]byte(c.in)))
		if got != c.want {
			t.Errorf("splitLines(%q) = %d lines, want %d", c.in, got, c.want)
		}
	}
}

func TestFastForward(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "old.jsonl")
	proc := NewProcessor(store, &fakeGit{}, dir)

	writeFile(t, path,
		`{"type":"user","sessionId":"s1","message":{"role":"user","content":"old 1"}}`+"\n"+
			`{"type":"user","sessionId":"s1","message":{"role":"user","content":"old 2"}}`+"\n")

	n, err := FastForward(store, dir)
	if err != nil {
		t.Fatalf("FastForward: %v", err)
	}
	if n != 1 {
		t.Errorf("fast-forwarded %d files, want 1", n)
	}

	// Existing history is skipped.
	res, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 0 {
		t.Errorf("stored %d events from skipped history", res.Stored)
	}

	// New lines past the mark are still picked up.
	appendFile(t, path, `{"type":"user","sessionId":"s1","message":{"role":"user","content":"fresh"}}`+"\n")
	res, err = proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 1 {
		t.Errorf("stored %d new events, want 1", res.Stored)
	}
}
