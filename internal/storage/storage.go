// Package storage persists documents and chunks, the chunk store behind both indices.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/ragchat/internal/models"
)

// ErrNotFound is wrapped by lookups of unknown documents or chunks.
var ErrNotFound = errors.New("not found")

// Storage defines document and chunk persistence operations.
// Implementations must allow concurrent reads.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Chunk operations
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	ForEachChunk(ctx context.Context, fn func(*models.Chunk) error) error
	AllIDs(ctx context.Context) ([]string, error)
	StateHash(ctx context.Context) (string, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// IDMismatch describes index ids missing from the store and store ids missing from an index.
type IDMismatch struct {
	NotInStore []string
	NotInIndex []string
}

// OK reports whether both sides agree.
func (m IDMismatch) OK() bool {
	return len(m.NotInStore) == 0 && len(m.NotInIndex) == 0
}

// ValidateIDs compares the ids held by an index with the store's chunk ids.
func ValidateIDs(ctx context.Context, s Storage, indexIDs []string) (IDMismatch, error) {
	storeIDs, err := s.AllIDs(ctx)
	if err != nil {
		return IDMismatch{}, err
	}
	stored := make(map[string]bool, len(storeIDs))
	for _, id := range storeIDs {
		stored[id] = true
	}
	var m IDMismatch
	indexed := make(map[string]bool, len(indexIDs))
	for _, id := range indexIDs {
		indexed[id] = true
		if !stored[id] {
			m.NotInStore = append(m.NotInStore, id)
		}
	}
	for _, id := range storeIDs {
		if !indexed[id] {
			m.NotInIndex = append(m.NotInIndex, id)
		}
	}
	return m, nil
}
