// Package gitinfo resolves best-effort git provenance for a working
// directory. Lookups are bounded and never return errors: a missing
// repository, missing git binary, timeout, or garbage output all yield the
// empty "unavailable" value.
package gitinfo

import (
	"context"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Info is the provenance pair attached to ingested events. Empty fields mean
// the value could not be determined.
type Info struct {
	RemoteURL  string
	CommitHash string
}

// Provider runs git subprocesses with a fixed per-lookup timeout.
type Provider struct {
	timeout time.Duration
}

// NewProvider returns a Provider. If timeout is <= 0, it defaults to 1s.
func NewProvider(timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Provider{timeout: timeout}
}

// Lookup returns the remote URL and HEAD commit for dir. The two lookups run
// concurrently and each is killed at the provider timeout.
func (p *Provider) Lookup(ctx context.Context, dir string) Info {
	if dir == "" {
		return Info{}
	}

	var info Info
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info.RemoteURL = p.run(ctx, dir, "remote", "get-url", "origin")
		return nil
	})
	g.Go(func() error {
		info.CommitHash = p.run(ctx, dir, "rev-parse", "HEAD")
		return nil
	})
	g.Wait()
	return info
}

// run executes one git query and returns its trimmed stdout, or "" on any
// failure. exec.CommandContext kills the subprocess when the deadline passes.
func (p *Provider) run(ctx context.Context, dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	full := append([]string{"-C", dir}, args...)
	out, err := exec.CommandContext(ctx, "git", full...).Output()
	if err != nil {
		return ""
	}
	val := strings.TrimSpace(string(out))
	if !utf8.ValidString(val) {
		return ""
	}
	return val
}
