package vector

import (
	"context"
	"fmt"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses brute-force search. Good for small corpora.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeHNSW uses an in-process approximate graph.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypePGVector stores vectors in Postgres.
	IndexTypePGVector IndexType = "pgvector"
)

// Config selects and parameterizes a vector index.
type Config struct {
	Type       string
	Dimensions int
	// HNSW parameters
	M        int
	EfSearch int
	// pgvector parameters
	DSN   string
	Table string
}

// NewVectorIndex creates a vector index of the configured type (memory when empty).
func NewVectorIndex(ctx context.Context, cfg Config) (VectorIndex, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(cfg.Dimensions)
	case IndexTypeHNSW:
		return NewHNSWIndex(cfg.Dimensions, cfg.M, cfg.EfSearch)
	case IndexTypePGVector:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("pgvector index requires a DSN")
		}
		return NewPGVectorIndex(ctx, cfg.DSN, cfg.Table, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, hnsw, pgvector)", cfg.Type)
	}
}
