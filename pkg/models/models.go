package models

// JobStatus is the lifecycle state of a repository ingestion job.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusReady   JobStatus = "ready"
	StatusFailed  JobStatus = "failed"
)

// Fragment is a contiguous, line-bounded slice of one file's text.
// Fragments of a file, ordered by SequenceIndex, partition its lines
// without gaps or overlaps.
type Fragment struct {
	FilePath      string `json:"file_path"`
	Content       string `json:"content"`
	StartLine     int    `json:"start_line"` // 1-based, inclusive
	EndLine       int    `json:"end_line"`   // 1-based, inclusive
	SequenceIndex int    `json:"sequence_index"`
}

// SimilarityResult pairs a fragment with its cosine similarity to a query.
type SimilarityResult struct {
	Fragment Fragment `json:"fragment"`
	Score    float64  `json:"score"`
}

// RepositoryJob is the full record for one ingestion attempt. Vectors is
// index-aligned with Fragments: Vectors[i] embeds Fragments[i].Content.
// Once Status is terminal the record is never mutated.
type RepositoryJob struct {
	ID            string
	SourceURL     string
	Name          string
	Status        JobStatus
	FileCount     int
	FragmentCount int
	ErrorMessage  string
	Fragments     []Fragment
	Vectors       [][]float32
}

// RepoInfo is the externally visible snapshot of a job.
type RepoInfo struct {
	ID            string    `json:"repo_id"`
	Name          string    `json:"name"`
	Status        JobStatus `json:"status"`
	FileCount     int       `json:"file_count"`
	FragmentCount int       `json:"processed_chunks"`
	Error         string    `json:"error,omitempty"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Citation points at the fragment a chat answer drew from.
type Citation struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"similarity"`
}

// ChatAnswer is the generated response plus its supporting citations.
type ChatAnswer struct {
	Response string     `json:"response"`
	Sources  []Citation `json:"sources"`
}
