package index

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/girish-j04/talk-to-your-repo/internal/ai"
	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

const (
	// DefaultTopK is the number of results returned when the caller does
	// not ask for a specific k.
	DefaultTopK = 5

	// embedBatchSize groups provider calls so progress is observable and
	// rate limits are respected.
	embedBatchSize = 10

	// DefaultPacing is the fixed delay between sequential embedding calls.
	DefaultPacing = 100 * time.Millisecond
)

// Index answers top-k similarity queries over one job's fragments. The
// fragment and vector slices are index-aligned and read-only once built.
type Index struct {
	client    ai.Client
	fragments []models.Fragment
	vectors   [][]float32
}

// BuildOptions tunes index construction.
type BuildOptions struct {
	// Pacing is the delay between embedding calls; zero disables pacing
	// (tests), negative selects DefaultPacing.
	Pacing time.Duration
}

// Build embeds every fragment and assembles the index. A fragment whose
// embedding call fails is kept with a zero vector of the provider's
// dimensionality: it becomes unretrievable but never fails the build.
func Build(ctx context.Context, client ai.Client, fragments []models.Fragment, opts BuildOptions) *Index {
	pacing := opts.Pacing
	if pacing < 0 {
		pacing = DefaultPacing
	}

	vectors := make([][]float32, 0, len(fragments))
	for start := 0; start < len(fragments); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(fragments) {
			end = len(fragments)
		}
		for i := start; i < end; i++ {
			vec, err := client.Embed(ctx, fragments[i].Content)
			if err != nil || len(vec) == 0 {
				log.Warn().Err(err).
					Str("path", fragments[i].FilePath).
					Int("sequence", fragments[i].SequenceIndex).
					Msg("embedding failed, substituting zero vector")
				vec = make([]float32, client.Dim())
			}
			vectors = append(vectors, vec)

			if pacing > 0 && i < len(fragments)-1 {
				select {
				case <-time.After(pacing):
				case <-ctx.Done():
				}
			}
		}
		log.Debug().Int("embedded", end).Int("total", len(fragments)).Msg("embedding batch complete")
	}

	return &Index{client: client, fragments: fragments, vectors: vectors}
}

// New assembles an index from already-embedded fragments, e.g. the
// parallel slices a ready job carries. Panics are avoided: a length
// mismatch degrades at query time via the zero-score guard in Cosine.
func New(client ai.Client, fragments []models.Fragment, vectors [][]float32) *Index {
	return &Index{client: client, fragments: fragments, vectors: vectors}
}

// Fragments returns the indexed fragments in insertion order.
func (ix *Index) Fragments() []models.Fragment { return ix.fragments }

// Vectors returns the embedding vectors aligned with Fragments.
func (ix *Index) Vectors() [][]float32 { return ix.vectors }

// Query embeds text and returns the min(k, len) most similar fragments,
// sorted by descending score with insertion order breaking ties. If the
// query itself cannot be embedded the result is empty, not an error, so
// a chat flow can still answer with no retrieved context.
func (ix *Index) Query(ctx context.Context, text string, k int) []models.SimilarityResult {
	if k <= 0 {
		k = DefaultTopK
	}
	if len(ix.fragments) == 0 {
		return nil
	}

	qv, err := ix.client.Embed(ctx, text)
	if err != nil || len(qv) == 0 {
		log.Warn().Err(err).Msg("query embedding failed, returning no results")
		return nil
	}

	results := make([]models.SimilarityResult, len(ix.fragments))
	for i, f := range ix.fragments {
		var score float64
		if i < len(ix.vectors) {
			score = Cosine(qv, ix.vectors[i])
		}
		results[i] = models.SimilarityResult{Fragment: f, Score: score}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// Cosine computes cosine similarity between two vectors. It is exactly 0
// when either vector has zero norm or the lengths differ; both only arise
// from degraded provider output, not caller misuse.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
