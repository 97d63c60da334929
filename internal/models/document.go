// Package models defines the data structures shared by indexing, retrieval, and reranking.
package models

import "time"

// Metadata keys attached to every chunk by the indexer.
const (
	MetaSourcePath = "source_path"
	MetaOffset     = "offset"
)

// Document represents an indexed source file.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Path      string                 `json:"path" db:"path"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// Chunk is the immutable retrieval unit. ID is stable across the vector and keyword indices.
type Chunk struct {
	ID         string                 `json:"id" db:"id"`
	DocumentID string                 `json:"document_id" db:"document_id"`
	Text       string                 `json:"text" db:"text"`
	Source     string                 `json:"source" db:"source"`
	Index      int                    `json:"index" db:"chunk_index"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Embedding  []float32              `json:"-" db:"-"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// DocumentInput is the input for indexing a document that does not come from a file.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Source   string                 `json:"source,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
