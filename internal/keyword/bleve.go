package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/ragchat/internal/models"
)

// BleveIndex implements KeywordIndex using Bleve's BM25-style scoring.
type BleveIndex struct {
	index     bleve.Index
	fuzziness int
}

var _ KeywordIndex = (*BleveIndex)(nil)

// BleveOption configures a BleveIndex.
type BleveOption func(*BleveIndex)

// WithFuzziness matches query terms within the given edit distance (1 or 2). Zero disables it.
func WithFuzziness(n int) BleveOption {
	return func(b *BleveIndex) {
		if n >= 0 && n <= 2 {
			b.fuzziness = n
		}
	}
}

// bleveChunk is the indexed form of a chunk.
type bleveChunk struct {
	Text       string `json:"text"`
	Title      string `json:"title"`
	DocumentID string `json:"document_id"`
}

func chunkMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// standard analyzer: lowercase and tokenize, no stemming, so "bayes" matches only "bayes"
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("title", textField)
	idField := bleve.NewKeywordFieldMapping()
	idField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("document_id", idField)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path or ":memory:"
// creates a memory-only index. If you change the mapping, remove the index
// directory to force a full re-index.
func NewBleveIndex(path string, opts ...BleveOption) (*BleveIndex, error) {
	b := &BleveIndex{}
	for _, opt := range opts {
		opt(b)
	}

	var err error
	switch {
	case path == "" || path == ":memory:":
		b.index, err = bleve.NewMemOnly(chunkMapping())
	case exists(path):
		b.index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", err)
		}
		return b, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		b.index, err = bleve.New(path, chunkMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return b, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Index adds or replaces chunks in one batch.
func (b *BleveIndex) Index(ctx context.Context, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, bleveChunk{Text: c.Text, Title: titleFor(c), DocumentID: c.DocumentID}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Batch(batch)
}

// Search runs a match query over text and title.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	if limit <= 0 || len(Analyze(query)) == 0 {
		return []*KeywordResult{}, nil
	}
	req := bleve.NewSearchRequestOptions(b.buildQuery(query), limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// buildQuery ORs a match (or, with fuzziness, per-term fuzzy) query over text and title.
func (b *BleveIndex) buildQuery(query string) blevequery.Query {
	fields := []string{"text", "title"}
	var qs []blevequery.Query
	for _, field := range fields {
		if b.fuzziness == 0 {
			mq := bleve.NewMatchQuery(query)
			mq.SetField(field)
			mq.Analyzer = standard.Name
			qs = append(qs, mq)
			continue
		}
		for _, term := range Analyze(query) {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(b.fuzziness)
			fq.SetField(field)
			qs = append(qs, fq)
		}
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// Delete removes chunks by id.
func (b *BleveIndex) Delete(ctx context.Context, ids ...string) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
