package retrieval

import (
	"context"
	"errors"
	"math"

	"github.com/hyperjump/ragchat/internal/keyword"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/storage"
	"github.com/hyperjump/ragchat/internal/vector"
	"go.uber.org/zap"
)

// Query is one retrieval request. Embedding may be nil when the vector retriever has an Embedder.
type Query struct {
	Text      string
	Embedding []float32
}

// Retriever produces candidates of a single provenance.
type Retriever interface {
	Provenance() models.Provenance
	Retrieve(ctx context.Context, q Query, cfg models.RetrieverConfig) ([]models.Candidate, error)
}

// ChunkStore resolves chunk ids to chunks. Implementations must allow concurrent reads.
type ChunkStore interface {
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
}

// VectorSearcher is the vector index contract.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error)
}

// KeywordSearcher is the BM25 index contract.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, k int) ([]*keyword.KeywordResult, error)
}

// QueryEmbedder embeds query text for the vector retriever.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetrieverOption configures the built-in retrievers.
type RetrieverOption func(*baseRetriever)

// WithChunkStore resolves chunk text for each hit. Without it candidates carry ids only.
func WithChunkStore(s ChunkStore) RetrieverOption {
	return func(b *baseRetriever) { b.store = s }
}

// WithRetrieverLogger logs hits that are missing from the chunk store.
func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(b *baseRetriever) { b.logger = l }
}

type baseRetriever struct {
	store  ChunkStore
	logger *zap.Logger
}

func newBase(opts []RetrieverOption) baseRetriever {
	b := baseRetriever{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// hit is a (chunk id, score) pair from either index.
type hit struct {
	id    string
	score float64
}

// toCandidates bounds hits to topK, drops non-finite and below-threshold scores,
// and resolves chunks through the store.
func (b *baseRetriever) toCandidates(ctx context.Context, p models.Provenance, hits []hit, cfg models.RetrieverConfig) ([]models.Candidate, error) {
	if len(hits) > cfg.TopK {
		hits = hits[:cfg.TopK]
	}
	out := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		if math.IsNaN(h.score) || math.IsInf(h.score, 0) {
			continue
		}
		if cfg.ScoreThreshold != nil && h.score < *cfg.ScoreThreshold {
			continue
		}
		cand := models.Candidate{ChunkID: h.id, Score: h.score, Provenance: p}
		if b.store != nil {
			chunk, err := b.store.GetChunk(ctx, h.id)
			if errors.Is(err, storage.ErrNotFound) {
				b.logger.Warn("indexed chunk missing from store",
					zap.String("provenance", string(p)), zap.String("chunk_id", h.id))
				continue
			}
			if err != nil {
				return nil, models.NewRetrieverUnavailable(p, false, err)
			}
			cand.Chunk = chunk
		}
		out = append(out, cand)
	}
	return out, nil
}

// VectorRetriever adapts a vector index to the Retriever contract.
type VectorRetriever struct {
	baseRetriever
	index    VectorSearcher
	embedder QueryEmbedder
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever returns a vector retriever. embedder may be nil when queries carry embeddings.
func NewVectorRetriever(index VectorSearcher, embedder QueryEmbedder, opts ...RetrieverOption) *VectorRetriever {
	return &VectorRetriever{baseRetriever: newBase(opts), index: index, embedder: embedder}
}

// Provenance returns models.ProvenanceVector.
func (r *VectorRetriever) Provenance() models.Provenance { return models.ProvenanceVector }

// Retrieve returns up to cfg.TopK candidates by vector similarity.
func (r *VectorRetriever) Retrieve(ctx context.Context, q Query, cfg models.RetrieverConfig) ([]models.Candidate, error) {
	emb := q.Embedding
	if emb == nil {
		if r.embedder == nil {
			return nil, models.NewRetrieverUnavailable(models.ProvenanceVector, false, errors.New("query has no embedding and no embedder is configured"))
		}
		var err error
		emb, err = r.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, models.NewRetrieverUnavailable(models.ProvenanceVector, false, err)
		}
	}
	results, err := r.index.Search(ctx, emb, cfg.TopK)
	if err != nil {
		return nil, models.NewRetrieverUnavailable(models.ProvenanceVector, false, err)
	}
	hits := make([]hit, len(results))
	for i, res := range results {
		hits[i] = hit{id: res.ID, score: res.Score}
	}
	return r.toCandidates(ctx, models.ProvenanceVector, hits, cfg)
}

// KeywordRetriever adapts a BM25 index to the Retriever contract.
type KeywordRetriever struct {
	baseRetriever
	index KeywordSearcher
}

var _ Retriever = (*KeywordRetriever)(nil)

// NewKeywordRetriever returns a keyword retriever.
func NewKeywordRetriever(index KeywordSearcher, opts ...RetrieverOption) *KeywordRetriever {
	return &KeywordRetriever{baseRetriever: newBase(opts), index: index}
}

// Provenance returns models.ProvenanceKeyword.
func (r *KeywordRetriever) Provenance() models.Provenance { return models.ProvenanceKeyword }

// Retrieve returns up to cfg.TopK candidates by BM25 score.
func (r *KeywordRetriever) Retrieve(ctx context.Context, q Query, cfg models.RetrieverConfig) ([]models.Candidate, error) {
	results, err := r.index.Search(ctx, q.Text, cfg.TopK)
	if err != nil {
		return nil, models.NewRetrieverUnavailable(models.ProvenanceKeyword, false, err)
	}
	hits := make([]hit, len(results))
	for i, res := range results {
		hits[i] = hit{id: res.ID, score: res.Score}
	}
	return r.toCandidates(ctx, models.ProvenanceKeyword, hits, cfg)
}
