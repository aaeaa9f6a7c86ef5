package snapshot

import (
	"path/filepath"
	"strings"
)

// Filter decides which files in a fetched tree are eligible for indexing.
// The zero value is not usable; construct with NewFilter.
type Filter struct {
	ExcludedDirs    map[string]struct{}
	AllowedDotfiles map[string]struct{}
	ExcludedExts    map[string]struct{}
	// Suffixes matched against the full lowercased base name, for
	// compound extensions like .min.js that filepath.Ext cannot see.
	ExcludedSuffixes []string
	MaxFileBytes     int64
}

// NewFilter returns a Filter with the default exclusion sets and a 1 MiB
// size ceiling.
func NewFilter() *Filter {
	return &Filter{
		ExcludedDirs: toSet(
			// version control
			".git", ".svn", ".hg",
			// dependencies
			"node_modules", "vendor", "packages",
			// python
			"__pycache__", ".venv", "venv", "env", "site-packages",
			// build outputs
			"dist", "build", "out", "target", "bin", "obj",
			// IDE
			".vscode", ".idea", ".eclipse",
			// frameworks / coverage
			".next", ".nuxt", "coverage", ".nyc_output",
			// testing
			".pytest_cache", "htmlcov", "test-results",
			// temporary
			"tmp", "temp", ".tmp", ".temp",
			// OS metadata
			".DS_Store", "Thumbs.db",
		),
		AllowedDotfiles: toSet(
			".env", ".gitignore", ".dockerignore", ".editorconfig", ".eslintrc",
		),
		ExcludedExts: toSet(
			// images
			".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".bmp", ".tiff",
			// fonts
			".woff", ".woff2", ".ttf", ".eot", ".otf",
			// archives
			".zip", ".tar", ".gz", ".rar", ".7z", ".bz2",
			// compiled
			".pyc", ".pyo", ".class", ".o", ".so", ".dll", ".exe",
			// maps and logs
			".map", ".log", ".tmp", ".temp",
			// media
			".mp4", ".mp3", ".avi", ".mov", ".wav", ".pdf",
			// lock files
			".lock",
			// embedded databases
			".db", ".sqlite", ".sqlite3",
		),
		ExcludedSuffixes: []string{".min.js", ".min.css", ".min.html"},
		MaxFileBytes:     1 << 20,
	}
}

// IsEligible reports whether the regular file at relPath, of the given
// size in bytes, should be indexed. Rules apply in order, first match
// wins. Callers that cannot determine size should not call this and
// should treat the file as rejected.
func (f *Filter) IsEligible(relPath string, size int64) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	base := parts[len(parts)-1]

	// any parent directory on the exclusion list rejects the whole subtree
	for _, part := range parts[:len(parts)-1] {
		if _, ok := f.ExcludedDirs[part]; ok {
			return false
		}
	}

	if strings.HasPrefix(base, ".") {
		if _, ok := f.AllowedDotfiles[base]; !ok {
			return false
		}
	}

	lower := strings.ToLower(base)
	for _, suf := range f.ExcludedSuffixes {
		if strings.HasSuffix(lower, suf) {
			return false
		}
	}
	if _, ok := f.ExcludedExts[filepath.Ext(lower)]; ok {
		return false
	}

	if size > f.MaxFileBytes {
		return false
	}
	// zero covers both empty files and callers signalling an unknown size
	if size <= 0 {
		return false
	}
	return true
}

func toSet(items ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}
