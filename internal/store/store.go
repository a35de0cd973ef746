// Package store persists the chunk index and query run records.
package store

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/model"
)

// ErrNotFound is returned when a run or collection does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrDimensionMismatch is returned when a query vector and the indexed
// vectors have different lengths, usually because the embedding model changed
// after the index was built.
var ErrDimensionMismatch = eris.New("store: embedding dimension mismatch")

// CollectionInfo summarizes an indexed collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	Chunks     int    `json:"chunks"`
	Dimensions int    `json:"dimensions"`
}

// ChunkSearcher ranks the chunks of a collection against a query vector.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, collection string, vector []float32, topK int) ([]model.ScoredChunk, error)
}

// RunRecorder records the lifecycle of a query run.
type RunRecorder interface {
	CreateRun(ctx context.Context, query string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.QueryResult) error
	FailRun(ctx context.Context, runID string, reason string) error
}

// Store defines the persistence interface for the advisor. The chunk index
// is written only by the index build and is read-only at query time.
type Store interface {
	ChunkSearcher
	RunRecorder

	// Index
	ReplaceCollection(ctx context.Context, collection string, chunks []model.DocumentChunk) error
	ListCollections(ctx context.Context) ([]CollectionInfo, error)

	// Runs
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func validateChunks(collection string, chunks []model.DocumentChunk) error {
	if collection == "" {
		return eris.New("store: empty collection name")
	}
	dim := -1
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return eris.Errorf("store: chunk %d has no embedding", i)
		}
		if dim >= 0 && len(c.Embedding) != dim {
			return eris.Errorf("store: chunk %d has %d dimensions, want %d", i, len(c.Embedding), dim)
		}
		dim = len(c.Embedding)
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// rank scores candidates against vector and returns the best topK, highest
// score first. Equal scores keep document order. Every candidate must have
// the query's dimension.
func rank(candidates []model.DocumentChunk, vector []float32, topK int) ([]model.ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, eris.Wrap(ErrDimensionMismatch, "store: empty query vector")
	}
	scored := make([]model.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) != len(vector) {
			return nil, eris.Wrapf(ErrDimensionMismatch, "store: %s chunk %d has %d dimensions, query has %d",
				c.Collection, c.Ordinal, len(c.Embedding), len(vector))
		}
		scored = append(scored, model.ScoredChunk{DocumentChunk: c, Score: Cosine(c.Embedding, vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})
	if topK > 0 && topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

func listLimit(filter model.RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
