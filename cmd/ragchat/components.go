package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hyperjump/ragchat/internal/config"
	"github.com/hyperjump/ragchat/internal/embedding"
	"github.com/hyperjump/ragchat/internal/extract"
	"github.com/hyperjump/ragchat/internal/indexer"
	"github.com/hyperjump/ragchat/internal/keyword"
	"github.com/hyperjump/ragchat/internal/rerank"
	"github.com/hyperjump/ragchat/internal/retrieval"
	"github.com/hyperjump/ragchat/internal/storage"
	"github.com/hyperjump/ragchat/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex
	Indexer      *indexer.Indexer
	Orchestrator *retrieval.Orchestrator

	modelID string
	closers []io.Closer
}

// Close releases every component. Errors are ignored.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

// SaveVectors persists the vector index with the current corpus state.
func (c *Components) SaveVectors(ctx context.Context, cfg *config.Config) error {
	return c.Indexer.SaveVectors(ctx, cfg.Vector.Path, c.modelID)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store
	c.closers = append(c.closers, store)

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder
	c.closers = append(c.closers, embedder)
	c.modelID = embeddingModelID(cfg.Embedding)

	vectorIndex, err := vector.NewVectorIndex(ctx, vector.Config{
		Type:       cfg.Vector.Type,
		Dimensions: embedder.Dimensions(),
		M:          cfg.Vector.M,
		EfSearch:   cfg.Vector.EfSearch,
		DSN:        config.Secret(cfg.Vector.DSNEnv),
		Table:      cfg.Vector.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vectorIndex
	c.closers = append(c.closers, vectorIndex)

	keywordIndex, err := newKeywordIndex(cfg.Keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex
	c.closers = append(c.closers, keywordIndex)

	c.Indexer = indexer.NewIndexer(store, embedder, vectorIndex, keywordIndex,
		indexer.WithLogger(logger),
		indexer.WithChunker(indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)),
		indexer.WithExtractor(extract.NewExtractor(extract.WithMaxFileSize(cfg.Index.MaxFileSize))),
	)

	if cfg.Keyword.Engine == "memory" {
		n, err := c.Indexer.RebuildKeyword(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("keyword index rebuilt", zap.Int("chunks", n))
	}
	if _, err := c.Indexer.EnsureVectors(ctx, cfg.Vector.Path, c.modelID); err != nil {
		return nil, err
	}

	encoder, err := newCrossEncoder(cfg.Reranker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}
	if cl, isCloser := encoder.(io.Closer); isCloser {
		c.closers = append(c.closers, cl)
	}
	reranker := rerank.New(encoder, rerank.WithLogger(logger), rerank.WithTimeout(cfg.Reranker.Timeout))

	retrievers := []retrieval.Retriever{
		retrieval.NewVectorRetriever(vectorIndex, embedder,
			retrieval.WithChunkStore(store), retrieval.WithRetrieverLogger(logger)),
		retrieval.NewKeywordRetriever(keywordIndex,
			retrieval.WithChunkStore(store), retrieval.WithRetrieverLogger(logger)),
	}
	c.Orchestrator = retrieval.NewOrchestrator(retrievers, reranker,
		retrieval.WithLogger(logger), retrieval.WithTimeout(cfg.Retrievers.Timeout))

	ok = true
	return c, nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Provider {
	case "onnx":
		e, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = e
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     config.Secret(cfg.APIKeyEnv),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		inner = embedding.NewMockEmbedder(cfg.Dimensions)
	}
	if cfg.CacheSize <= 0 {
		return inner, nil
	}
	return embedding.NewCachedEmbedder(inner, cfg.CacheSize)
}

// embeddingModelID names the model a saved vector index was built with.
func embeddingModelID(cfg config.EmbeddingConfig) string {
	switch cfg.Provider {
	case "onnx":
		return "onnx:" + cfg.ModelPath
	case "openai":
		return "openai:" + cfg.Model
	}
	return "mock"
}

func newKeywordIndex(cfg config.KeywordConfig) (keyword.KeywordIndex, error) {
	path := cfg.Path
	if cfg.Engine == "memory" {
		path = ":memory:"
	}
	return keyword.NewBleveIndex(path, keyword.WithFuzziness(cfg.Fuzziness))
}

func newCrossEncoder(cfg config.RerankerConfig, logger *zap.Logger) (rerank.CrossEncoder, error) {
	switch cfg.Provider {
	case "http":
		return rerank.NewHTTPCrossEncoder(cfg.URL,
			rerank.WithAPIToken(config.Secret(cfg.APITokenEnv)),
			rerank.WithModel(cfg.Model),
			rerank.WithHTTPLogger(logger),
		), nil
	case "onnx":
		return rerank.NewONNXCrossEncoder(cfg.ModelPath, cfg.MaxTokens)
	}
	return rerank.LexicalCrossEncoder{}, nil
}

// diskPaths lists the on-disk locations of the store and indices.
func diskPaths(cfg *config.Config) []string {
	paths := []string{cfg.Storage.DatabasePath}
	if cfg.Vector.Type != "pgvector" {
		paths = append(paths, cfg.Vector.Path, cfg.Vector.Path+".state.json")
	}
	if cfg.Keyword.Engine != "memory" {
		paths = append(paths, cfg.Keyword.Path)
	}
	return paths
}
