package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Fetcher obtains a local snapshot of a repository's file tree.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (dir string, cleanup func(), err error)
}

// GitFetcher implements Fetcher with a shallow git clone.
type GitFetcher struct {
	Timeout time.Duration
}

const defaultFetchTimeout = 60 * time.Second

// NewGitFetcher creates a GitFetcher with the given clone timeout.
func NewGitFetcher(timeout time.Duration) *GitFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &GitFetcher{Timeout: timeout}
}

// Fetch clones url into a fresh temp directory. The returned cleanup func
// removes the directory; it is non-nil only on success. Expiry of the
// timeout is a failure, not a retry.
func (g *GitFetcher) Fetch(ctx context.Context, url string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "talkrepo-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dir)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove temp directory")
		}
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		if ctx.Err() == context.DeadlineExceeded {
			return "", nil, fmt.Errorf("git clone timed out after %s", g.Timeout)
		}
		return "", nil, fmt.Errorf("git clone: %s", firstLine(reason))
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove temp directory")
		}
	}
	return dir, cleanup, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
