// Package keyword provides Bleve keyword indices over chunks.
package keyword

import (
	"context"
	"strings"
	"unicode"

	"github.com/hyperjump/ragchat/internal/models"
)

// KeywordIndex defines chunk-level keyword indexing and search.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []*models.Chunk) error
	// Search returns at most limit hits ordered by score descending, then id ascending.
	// An empty index or a query without terms returns no hits.
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids ...string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is a chunk id.
type KeywordResult struct {
	ID    string
	Score float64
}

// Analyze lowercases text and splits it on anything that is not a letter or digit.
func Analyze(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// titleFor turns a source path into searchable words, so "q3_sales_report.pdf" matches "sales report".
func titleFor(c *models.Chunk) string {
	src := c.Source
	if i := strings.LastIndexAny(src, `/\`); i >= 0 {
		src = src[i+1:]
	}
	return strings.ReplaceAll(src, "_", " ")
}
