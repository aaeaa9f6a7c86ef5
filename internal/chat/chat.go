package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/girish-j04/talk-to-your-repo/internal/ai"
	"github.com/girish-j04/talk-to-your-repo/internal/index"
	"github.com/girish-j04/talk-to-your-repo/internal/registry"
	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

// apology is returned instead of an error when generation fails, so the
// conversational surface always responds.
const apology = "I encountered an error while processing your request. Please try again."

// maxHistoryTurns bounds how much prior conversation is fed to the model.
const maxHistoryTurns = 5

// Service composes answers about a ready repository: retrieve, prompt,
// generate, cite.
type Service struct {
	Client   ai.Client
	Registry *registry.Registry
	TopK     int
}

// NewService creates a chat service over the given provider and registry.
func NewService(client ai.Client, reg *registry.Registry, topK int) *Service {
	if topK <= 0 {
		topK = index.DefaultTopK
	}
	return &Service{Client: client, Registry: reg, TopK: topK}
}

// Answer retrieves the fragments most relevant to message from the job's
// index and asks the generation model for a reply. Retrieval citations
// are attached even when generation degrades to the fixed apology.
// Returns registry.ErrNotFound / registry.ErrNotReady unchanged.
func (s *Service) Answer(ctx context.Context, id, message string, history []models.ChatMessage) (models.ChatAnswer, error) {
	fragments, vectors, err := s.Registry.Snapshot(id)
	if err != nil {
		return models.ChatAnswer{}, err
	}

	ix := index.New(s.Client, fragments, vectors)
	results := ix.Query(ctx, message, s.TopK)

	text, err := s.Client.Generate(ctx, buildPrompt(message, results, history))
	if err != nil || strings.TrimSpace(text) == "" {
		log.Error().Err(err).Str("repo_id", id).Msg("generation failed, returning apology")
		text = apology
	}

	citations := make([]models.Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, models.Citation{
			FilePath:  r.Fragment.FilePath,
			StartLine: r.Fragment.StartLine,
			EndLine:   r.Fragment.EndLine,
			Score:     r.Score,
		})
	}

	return models.ChatAnswer{Response: text, Sources: citations}, nil
}

func buildPrompt(query string, results []models.SimilarityResult, history []models.ChatMessage) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("File: %s (lines %d-%d)\n```\n%s\n```",
			r.Fragment.FilePath, r.Fragment.StartLine, r.Fragment.EndLine, r.Fragment.Content))
	}
	contextText := strings.Join(blocks, "\n\n")

	var historyText string
	if len(history) > 0 {
		turns := history
		if len(turns) > maxHistoryTurns {
			turns = turns[len(turns)-maxHistoryTurns:]
		}
		lines := make([]string, 0, len(turns))
		for _, msg := range turns {
			speaker := "Assistant"
			if msg.Role == "user" {
				speaker = "User"
			}
			lines = append(lines, speaker+": "+msg.Content)
		}
		historyText = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("You are an expert code assistant helping developers understand and work with codebases.\n\n")
	b.WriteString("Based on the following code context from the repository, please answer the user's question:\n\n")
	b.WriteString(contextText)
	b.WriteString("\n\n")
	if historyText != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(historyText)
		b.WriteString("\n\n")
	}
	b.WriteString("User Question: ")
	b.WriteString(query)
	b.WriteString("\n\nPlease provide a helpful, accurate response. When referencing specific code, mention the file name and line numbers. ")
	b.WriteString("If you're suggesting code changes or generating new code, make sure it's consistent with the existing codebase style and patterns.")
	return b.String()
}

// FileTree returns the hierarchical tree of the distinct file paths among
// a ready job's fragments. Leaves are {"type": "file", "path": ...}
// entries; directories nest children by name.
func (s *Service) FileTree(id string) (map[string]any, error) {
	fragments, _, err := s.Registry.Snapshot(id)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var paths []string
	for _, f := range fragments {
		if _, ok := seen[f.FilePath]; !ok {
			seen[f.FilePath] = struct{}{}
			paths = append(paths, f.FilePath)
		}
	}
	sort.Strings(paths)

	tree := make(map[string]any)
	for _, p := range paths {
		parts := strings.Split(p, "/")
		current := tree
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = map[string]any{
			"type": "file",
			"path": p,
		}
	}
	return tree, nil
}
