package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/girish-j04/talk-to-your-repo/internal/registry"
	"github.com/girish-j04/talk-to-your-repo/internal/snapshot"
	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockFetcher implements snapshot.Fetcher for testing
type MockFetcher struct {
	Dir string
	Err error
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (string, func(), error) {
	if m.Err != nil {
		return "", nil, m.Err
	}
	return m.Dir, func() {}, nil
}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	return "mock response", nil
}

func (m *MockAIClient) Dim() int { return 3 }

// MockFileSystemWalker drives the pipeline callback over a fixed file
// list in sorted path order, bypassing godirwalk's Dirent plumbing.
type MockFileSystemWalker struct {
	Files []string
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	paths := append([]string(nil), m.Files...)
	sort.Strings(paths)
	for _, p := range paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockFileReader implements FileReader from a path -> content map
type MockFileReader struct {
	Files map[string]string
}

func (m *MockFileReader) Size(filename string) (int64, error) {
	content, ok := m.Files[filename]
	if !ok {
		return 0, errors.New("file not found")
	}
	return int64(len(content)), nil
}

func (m *MockFileReader) ReadFile(filename string) ([]byte, error) {
	content, ok := m.Files[filename]
	if !ok {
		return nil, errors.New("file not found")
	}
	return []byte(content), nil
}

func newTestPipeline(files map[string]string, fetchErr error) (*Pipeline, *registry.Registry) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	reg := registry.New()
	p := &Pipeline{
		Fetcher:    &MockFetcher{Dir: "/repo", Err: fetchErr},
		Filter:     snapshot.NewFilter(),
		Client:     &MockAIClient{},
		Registry:   reg,
		Walker:     &MockFileSystemWalker{Files: paths},
		FileReader: &MockFileReader{Files: files},
		Opts:       Options{MaxChunkChars: 1000, FragmentBudget: 500},
	}
	return p, reg
}

func TestRunIndexesOnlyEligibleFiles(t *testing.T) {
	files := map[string]string{
		"/repo/main.py":                   strings.Repeat("print('hello')\n", 49) + "print('hello')",
		"/repo/node_modules/lib/index.js": "module.exports = {}",
	}
	p, reg := newTestPipeline(files, nil)

	info, _ := reg.Submit("https://github.com/example/project")
	p.Run(context.Background(), info.ID, "https://github.com/example/project")

	status, err := reg.GetStatus(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != models.StatusReady {
		t.Fatalf("status = %s, want ready", status.Status)
	}
	if status.FileCount != 1 {
		t.Errorf("file count = %d, want 1", status.FileCount)
	}

	fragments, vectors, err := reg.Snapshot(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fragments) == 0 {
		t.Fatal("expected fragments from main.py")
	}
	if len(vectors) != len(fragments) {
		t.Errorf("vectors (%d) not aligned with fragments (%d)", len(vectors), len(fragments))
	}
	for _, f := range fragments {
		if f.FilePath != "main.py" {
			t.Errorf("fragment from unexpected file %q", f.FilePath)
		}
	}
}

func TestRunFetchFailureIsTerminal(t *testing.T) {
	p, reg := newTestPipeline(nil, errors.New("git clone timed out after 1m0s"))

	info, _ := reg.Submit("https://github.com/example/unreachable")
	p.Run(context.Background(), info.ID, "https://github.com/example/unreachable")

	status, err := reg.GetStatus(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", status.Status)
	}
	if status.Error != "git clone timed out after 1m0s" {
		t.Errorf("error message = %q, want the verbatim fetch error", status.Error)
	}
	if status.FragmentCount != 0 {
		t.Errorf("fragment count = %d, want 0", status.FragmentCount)
	}

	// A later status read must still see the terminal state.
	status, _ = reg.GetStatus(info.ID)
	if status.Status != models.StatusFailed {
		t.Errorf("status reverted to %s", status.Status)
	}
}

func TestRunFragmentBudgetStopsScan(t *testing.T) {
	// Each file chunks to 10 fragments (10 lines x 120 chars, cap 100),
	// so the budget of 15 is exceeded while scanning the second file and
	// the third is never read.
	content := strings.TrimSuffix(strings.Repeat(strings.Repeat("x", 120)+"\n", 10), "\n")
	files := map[string]string{
		"/repo/a.txt": content,
		"/repo/b.txt": content,
		"/repo/c.txt": content,
	}
	p, reg := newTestPipeline(files, nil)
	p.Opts = Options{MaxChunkChars: 100, FragmentBudget: 15}

	info, _ := reg.Submit("https://github.com/example/big")
	p.Run(context.Background(), info.ID, "https://github.com/example/big")

	status, _ := reg.GetStatus(info.ID)
	if status.Status != models.StatusReady {
		t.Fatalf("status = %s, want ready", status.Status)
	}
	if status.FileCount != 2 {
		t.Errorf("file count = %d, want 2 (scan stops once the budget is exceeded)", status.FileCount)
	}

	fragments, _, _ := reg.Snapshot(info.ID)
	seen := make(map[string]bool)
	for _, f := range fragments {
		seen[f.FilePath] = true
	}
	if seen["c.txt"] {
		t.Error("files after the budget cutoff must not be scanned")
	}
}

func TestRunSkipsUnreadableFiles(t *testing.T) {
	files := map[string]string{
		"/repo/good.py": "print('ok')",
	}
	paths := []string{"/repo/good.py", "/repo/ghost.py"}

	reg := registry.New()
	p := &Pipeline{
		Fetcher:    &MockFetcher{Dir: "/repo"},
		Filter:     snapshot.NewFilter(),
		Client:     &MockAIClient{},
		Registry:   reg,
		Walker:     &MockFileSystemWalker{Files: paths},
		FileReader: &MockFileReader{Files: files},
		Opts:       defaultOptionsNoPacing(),
	}

	info, _ := reg.Submit("https://github.com/example/project")
	p.Run(context.Background(), info.ID, "https://github.com/example/project")

	status, _ := reg.GetStatus(info.ID)
	if status.Status != models.StatusReady {
		t.Fatalf("status = %s, want ready despite the unreadable file", status.Status)
	}
	if status.FileCount != 1 {
		t.Errorf("file count = %d, want 1", status.FileCount)
	}
}

func TestRunEmbeddingFailureDoesNotFailJob(t *testing.T) {
	files := map[string]string{
		"/repo/main.py": "print('hello')",
	}
	p, reg := newTestPipeline(files, nil)
	p.Client = &MockAIClient{
		EmbedFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, errors.New("quota exhausted")
		},
	}

	info, _ := reg.Submit("https://github.com/example/project")
	p.Run(context.Background(), info.ID, "https://github.com/example/project")

	status, _ := reg.GetStatus(info.ID)
	if status.Status != models.StatusReady {
		t.Fatalf("status = %s, want ready with zero-vector fallbacks", status.Status)
	}

	_, vectors, _ := reg.Snapshot(info.ID)
	for _, vec := range vectors {
		for _, v := range vec {
			if v != 0 {
				t.Error("expected zero vectors after total embedding failure")
			}
		}
	}
}

func TestDecodeTextLatin1Fallback(t *testing.T) {
	// 0xE9 is é in Latin-1 but invalid as a standalone UTF-8 byte.
	content, ok := decodeText([]byte{'c', 'a', 'f', 0xE9})
	if !ok {
		t.Fatal("Latin-1 fallback should succeed")
	}
	if content != "café" {
		t.Errorf("decoded %q, want %q", content, "café")
	}

	content, ok = decodeText([]byte("plain utf-8 ✓"))
	if !ok || content != "plain utf-8 ✓" {
		t.Errorf("valid UTF-8 mangled: %q", content)
	}
}

// defaultOptionsNoPacing returns the production defaults minus the
// embedding delay, which only slows tests down.
func defaultOptionsNoPacing() Options {
	o := DefaultOptions()
	o.EmbedPacing = 0
	return o
}
