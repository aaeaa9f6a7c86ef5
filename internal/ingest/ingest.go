package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"

	"github.com/girish-j04/talk-to-your-repo/internal/ai"
	"github.com/girish-j04/talk-to-your-repo/internal/chunker"
	"github.com/girish-j04/talk-to-your-repo/internal/index"
	"github.com/girish-j04/talk-to-your-repo/internal/registry"
	"github.com/girish-j04/talk-to-your-repo/internal/snapshot"
	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for sizing and reading files
type FileReader interface {
	Size(filename string) (int64, error)
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) Size(filename string) (int64, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Options bound one ingestion run.
type Options struct {
	MaxChunkChars  int
	FragmentBudget int
	EmbedPacing    time.Duration
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxChunkChars:  chunker.DefaultMaxChars,
		FragmentBudget: 500,
		EmbedPacing:    index.DefaultPacing,
	}
}

// Pipeline runs one repository's ingestion end to end: fetch, scan and
// chunk, embed, publish. Steps within a run are strictly sequential.
type Pipeline struct {
	Fetcher    snapshot.Fetcher
	Filter     *snapshot.Filter
	Client     ai.Client
	Registry   *registry.Registry
	Walker     FileSystemWalker
	FileReader FileReader
	Opts       Options
}

// New creates a Pipeline with the default walker and file reader.
func New(fetcher snapshot.Fetcher, filter *snapshot.Filter, client ai.Client, reg *registry.Registry, opts Options) *Pipeline {
	return &Pipeline{
		Fetcher:    fetcher,
		Filter:     filter,
		Client:     client,
		Registry:   reg,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
		Opts:       opts,
	}
}

// errBudgetReached halts the walk once enough fragments have
// accumulated; it is swallowed before the walk error is interpreted.
var errBudgetReached = errors.New("fragment budget reached")

// Run ingests the repository at url and publishes the terminal state for
// the job id. Only a fetch failure produces a failed job; unreadable or
// undecodable files are skipped and embedding failures degrade to zero
// vectors inside the index build.
func (p *Pipeline) Run(ctx context.Context, id, url string) {
	log.Info().Str("repo_id", id).Str("url", url).Msg("processing repository")

	dir, cleanup, err := p.Fetcher.Fetch(ctx, url)
	if err != nil {
		log.Error().Err(err).Str("repo_id", id).Msg("snapshot fetch failed")
		p.Registry.MarkFailed(id, err.Error())
		return
	}
	defer cleanup()

	fragments, fileCount := p.scan(ctx, dir)
	log.Info().Str("repo_id", id).
		Int("files", fileCount).
		Int("fragments", len(fragments)).
		Msg("scan complete, embedding")

	ix := index.Build(ctx, p.Client, fragments, index.BuildOptions{Pacing: p.Opts.EmbedPacing})
	p.Registry.MarkReady(id, ix.Fragments(), ix.Vectors(), fileCount)

	log.Info().Str("repo_id", id).
		Int("files", fileCount).
		Int("fragments", len(fragments)).
		Msg("repository ready")
}

// scan walks the tree in sorted path order (so budget truncation is
// deterministic across identical trees), filters, reads and chunks.
func (p *Pipeline) scan(ctx context.Context, root string) ([]models.Fragment, int) {
	var fragments []models.Fragment
	fileCount := 0
	skipped := 0

	walkErr := p.Walker.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de is nil when a test walker drives the callback directly
			if de != nil && de.IsDir() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			relPath := rel(root, path)

			size, err := p.FileReader.Size(path)
			if err != nil {
				log.Warn().Err(err).Str("path", relPath).Msg("could not determine file size, skipping")
				skipped++
				return nil
			}
			if !p.Filter.IsEligible(relPath, size) {
				skipped++
				return nil
			}

			b, err := p.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", relPath).Msg("failed to read file, skipping")
				skipped++
				return nil
			}
			content, ok := decodeText(b)
			if !ok {
				log.Debug().Str("path", relPath).Msg("skipped file with encoding issues")
				skipped++
				return nil
			}

			fileCount++
			fragments = append(fragments, chunker.Chunk(content, relPath, p.Opts.MaxChunkChars)...)

			if len(fragments) > p.Opts.FragmentBudget {
				log.Info().Int("fragments", len(fragments)).
					Int("budget", p.Opts.FragmentBudget).
					Msg("fragment budget reached, stopping scan")
				return errBudgetReached
			}
			return nil
		},
	})
	if walkErr != nil && !errors.Is(walkErr, errBudgetReached) {
		log.Warn().Err(walkErr).Msg("tree walk ended early")
	}

	log.Info().Int("files", fileCount).Int("skipped", skipped).Msg("file scan complete")
	return fragments, fileCount
}

// decodeText decodes b as UTF-8, falling back to Latin-1 for repositories
// that mix encodings.
func decodeText(b []byte) (string, bool) {
	if utf8.Valid(b) {
		return string(b), true
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
