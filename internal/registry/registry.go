package registry

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

var (
	// ErrNotFound means the job id is unknown.
	ErrNotFound = errors.New("repository not found")
	// ErrNotReady means the job exists but has not reached ready state.
	ErrNotReady = errors.New("repository is not ready")
)

// Registry is the only shared mutable structure in the system: the map
// from job id to job record. The one ingestion goroutine owning an id is
// its only writer; readers get snapshot copies and never observe a record
// mid-transition.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.RepositoryJob
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*models.RepositoryJob)}
}

// JobID derives the stable identifier for a source URL. Same URL, same id.
func JobID(url string) string {
	h := sha1.Sum([]byte(url))
	return hex.EncodeToString(h[:])
}

// RepoName derives a display name from the URL's last path segment.
func RepoName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	name := trimmed
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		name = trimmed[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// Submit registers a pending job for url, or returns the existing record
// if the url was submitted before (in any state). created reports whether
// a new record was made; only then must the caller start an ingestion
// task, which keeps writers to one per id.
func (r *Registry) Submit(url string) (info models.RepoInfo, created bool) {
	id := JobID(url)

	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[id]; ok {
		return snapshotInfo(job), false
	}

	job := &models.RepositoryJob{
		ID:        id,
		SourceURL: url,
		Name:      RepoName(url),
		Status:    models.StatusPending,
	}
	r.jobs[id] = job
	return snapshotInfo(job), true
}

// GetStatus returns the externally visible snapshot of a job.
func (r *Registry) GetStatus(id string) (models.RepoInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.RepoInfo{}, ErrNotFound
	}
	return snapshotInfo(job), nil
}

// Snapshot returns a ready job's parallel fragment and vector slices.
// The slices are immutable after publication; callers must not modify
// them.
func (r *Registry) Snapshot(id string) ([]models.Fragment, [][]float32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if job.Status != models.StatusReady {
		return nil, nil, ErrNotReady
	}
	return job.Fragments, job.Vectors, nil
}

// MarkReady publishes the pending→ready transition: fragments, vectors
// and counts become visible in the same atomic update as the status flip.
func (r *Registry) MarkReady(id string, fragments []models.Fragment, vectors [][]float32, fileCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != models.StatusPending {
		log.Error().Str("repo_id", id).Msg("ready publish for missing or terminal job ignored")
		return
	}
	job.Fragments = fragments
	job.Vectors = vectors
	job.FileCount = fileCount
	job.FragmentCount = len(fragments)
	job.Status = models.StatusReady
}

// MarkFailed publishes the pending→failed transition with the verbatim
// failure message. Terminal states never transition again.
func (r *Registry) MarkFailed(id string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != models.StatusPending {
		log.Error().Str("repo_id", id).Msg("failure publish for missing or terminal job ignored")
		return
	}
	job.ErrorMessage = message
	job.Status = models.StatusFailed
}

func snapshotInfo(job *models.RepositoryJob) models.RepoInfo {
	return models.RepoInfo{
		ID:            job.ID,
		Name:          job.Name,
		Status:        job.Status,
		FileCount:     job.FileCount,
		FragmentCount: job.FragmentCount,
		Error:         job.ErrorMessage,
	}
}
