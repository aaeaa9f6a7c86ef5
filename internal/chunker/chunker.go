package chunker

import (
	"strings"

	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

// DefaultMaxChars is the soft cap on fragment size in characters.
const DefaultMaxChars = 1000

// Chunk splits content into line-bounded fragments of at most maxChars
// characters, counting per-line lengths without the joining newlines.
// The cap is soft: a single line longer than maxChars still lands alone
// in its own fragment, never split mid-line. Line numbers are true
// 1-based positions in the original content. Identical input always
// yields identical fragments.
func Chunk(content, filePath string, maxChars int) []models.Fragment {
	if content == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	lines := strings.Split(content, "\n")

	var fragments []models.Fragment
	var current []string
	size := 0
	startLine := 1

	for i, line := range lines {
		if size+len(line) > maxChars && len(current) > 0 {
			fragments = append(fragments, models.Fragment{
				FilePath:      filePath,
				Content:       strings.Join(current, "\n"),
				StartLine:     startLine,
				EndLine:       i, // 1-based line preceding the current one
				SequenceIndex: len(fragments),
			})
			current = nil
			size = 0
			startLine = i + 1
		}
		current = append(current, line)
		size += len(line)
	}

	if len(current) > 0 {
		fragments = append(fragments, models.Fragment{
			FilePath:      filePath,
			Content:       strings.Join(current, "\n"),
			StartLine:     startLine,
			EndLine:       len(lines),
			SequenceIndex: len(fragments),
		})
	}

	return fragments
}
