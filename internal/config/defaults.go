package config

import "time"

// Defaults for retrieval, matching the query flags of the CLI.
const (
	DefaultVectorTopK    = 75
	DefaultKeywordTopK   = 50
	DefaultKeywordWeight = 0.5
	DefaultRerankTopN    = 10
	DefaultTimeout       = 10 * time.Second
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".ragchat/data/chunks.db"
	}

	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "hnsw"
	}
	if cfg.Vector.Path == "" && cfg.Vector.Type != "pgvector" {
		cfg.Vector.Path = ".ragchat/data/indices/vectors.bin"
	}
	if cfg.Vector.M == 0 {
		cfg.Vector.M = 16
	}
	if cfg.Vector.EfSearch == 0 {
		cfg.Vector.EfSearch = 64
	}
	if cfg.Vector.DSNEnv == "" {
		cfg.Vector.DSNEnv = "RAGCHAT_PG_DSN"
	}
	if cfg.Vector.Table == "" {
		cfg.Vector.Table = "chunk_embeddings"
	}

	if cfg.Keyword.Engine == "" {
		cfg.Keyword.Engine = "bleve"
	}
	if cfg.Keyword.Path == "" && cfg.Keyword.Engine == "bleve" {
		cfg.Keyword.Path = ".ragchat/data/indices/bleve"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.ModelPath == "" && cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.ModelPath = ".ragchat/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 800
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 80
	}

	if cfg.Retrievers.Vector.TopK == 0 {
		cfg.Retrievers.Vector.TopK = DefaultVectorTopK
	}
	if cfg.Retrievers.Keyword.TopK == 0 {
		cfg.Retrievers.Keyword.TopK = DefaultKeywordTopK
	}
	// Vector weight defaults to the complement of the keyword weight.
	if cfg.Retrievers.Keyword.Weight == nil {
		w := DefaultKeywordWeight
		if cfg.Retrievers.Vector.Weight != nil {
			w = 1 - *cfg.Retrievers.Vector.Weight
		}
		cfg.Retrievers.Keyword.Weight = &w
	}
	if cfg.Retrievers.Vector.Weight == nil {
		w := 1 - *cfg.Retrievers.Keyword.Weight
		cfg.Retrievers.Vector.Weight = &w
	}
	if cfg.Retrievers.Timeout == 0 {
		cfg.Retrievers.Timeout = DefaultTimeout
	}

	if cfg.Reranker.Provider == "" {
		cfg.Reranker.Provider = "lexical"
		if cfg.Reranker.URL != "" {
			cfg.Reranker.Provider = "http"
		}
	}
	if cfg.Reranker.TopN == 0 {
		cfg.Reranker.TopN = DefaultRerankTopN
	}
	if cfg.Reranker.MaxTokens == 0 {
		cfg.Reranker.MaxTokens = 512
	}
	if cfg.Reranker.APITokenEnv == "" {
		cfg.Reranker.APITokenEnv = "RERANKER_API_TOKEN"
	}
	if cfg.Reranker.NormalizeScores == nil {
		t := true
		cfg.Reranker.NormalizeScores = &t
	}
	if cfg.Reranker.MaxRetries == nil {
		n := 2
		cfg.Reranker.MaxRetries = &n
	}
}
