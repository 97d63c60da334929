// Package vector provides vector indices over chunk embeddings.
package vector

import (
	"context"
	"fmt"
	"sort"
)

// VectorIndex defines vector storage and similarity search keyed by chunk id.
// Implementations are safe for concurrent reads.
type VectorIndex interface {
	// Add inserts or replaces vectors.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns at most k hits ordered by similarity descending, then id ascending.
	// An empty index returns no hits and no error.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// IDs returns every indexed id in ascending order.
	IDs(ctx context.Context) ([]string, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}

// ErrDimensionMismatch reports a vector of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Expected)
}

func checkDims(want int, vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != want {
			return ErrDimensionMismatch{Expected: want, Got: len(v)}
		}
	}
	return nil
}

func sortResults(results []*VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
