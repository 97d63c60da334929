package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetrieverConfig configures one retrieval stage.
type RetrieverConfig struct {
	Enabled        bool     `json:"enabled"`
	TopK           int      `json:"top_k"`
	Weight         float64  `json:"weight"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
}

// RerankerConfig configures the rerank stage for one query.
type RerankerConfig struct {
	Enabled         bool     `json:"enabled"`
	TopN            int      `json:"top_n"`
	ScoreThreshold  *float64 `json:"score_threshold,omitempty"`
	NormalizeScores bool     `json:"normalize_scores"`
	MaxRetries      int      `json:"max_retries"`
}

// RetrievalConfig is the immutable per-invocation pipeline configuration.
type RetrievalConfig struct {
	Vector   RetrieverConfig `json:"vector"`
	Keyword  RetrieverConfig `json:"keyword"`
	Reranker RerankerConfig  `json:"reranker"`
	// Timeout bounds each retriever call and the rerank call. Zero means no per-stage bound.
	Timeout time.Duration `json:"timeout"`
}

// For returns the stage config for provenance p.
func (c RetrievalConfig) For(p Provenance) RetrieverConfig {
	switch p {
	case ProvenanceVector:
		return c.Vector
	case ProvenanceKeyword:
		return c.Keyword
	}
	return RetrieverConfig{}
}

// Enabled returns enabled provenances in priority order.
func (c RetrievalConfig) Enabled() []Provenance {
	var out []Provenance
	for _, p := range Provenances {
		if c.For(p).Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Weights returns the fusion weight per enabled provenance.
func (c RetrievalConfig) Weights() map[Provenance]float64 {
	w := make(map[Provenance]float64, len(Provenances))
	for _, p := range c.Enabled() {
		w[p] = c.For(p).Weight
	}
	return w
}

// Validate returns a configuration error for the first invalid field.
func (c RetrievalConfig) Validate() error {
	enabled := c.Enabled()
	if len(enabled) == 0 {
		return NewConfigurationError("no retriever enabled")
	}
	for _, p := range Provenances {
		rc := c.For(p)
		if !finite(rc.Weight) || rc.Weight < 0 {
			return NewConfigurationError("%s weight must be a non-negative number, got %g", p, rc.Weight)
		}
		if rc.ScoreThreshold != nil && !finite(*rc.ScoreThreshold) {
			return NewConfigurationError("%s score_threshold must be finite, got %g", p, *rc.ScoreThreshold)
		}
		if rc.Enabled && rc.TopK <= 0 {
			return NewConfigurationError("%s top_k must be positive, got %d", p, rc.TopK)
		}
	}
	if c.Reranker.Enabled && c.Reranker.TopN <= 0 {
		return NewConfigurationError("reranker top_n must be positive, got %d", c.Reranker.TopN)
	}
	if t := c.Reranker.ScoreThreshold; t != nil && math.IsNaN(*t) {
		return NewConfigurationError("reranker score_threshold must be a number")
	}
	if c.Reranker.MaxRetries < 0 {
		return NewConfigurationError("reranker max_retries must be non-negative, got %d", c.Reranker.MaxRetries)
	}
	if c.Timeout < 0 {
		return NewConfigurationError("timeout must be non-negative, got %s", c.Timeout)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// RetrieveRequest is a retrieval request with optional per-query overrides.
type RetrieveRequest struct {
	Query           string   `json:"query"`
	Vector          *bool    `json:"vector,omitempty"`
	Keyword         *bool    `json:"keyword,omitempty"`
	VectorTopK      int      `json:"vector_top_k,omitempty"`
	KeywordTopK     int      `json:"keyword_top_k,omitempty"`
	VectorWeight    *float64 `json:"vector_weight,omitempty"`
	KeywordWeight   *float64 `json:"keyword_weight,omitempty"`
	Rerank          *bool    `json:"rerank,omitempty"`
	RerankTopN      int      `json:"rerank_top_n,omitempty"`
	RerankThreshold *float64 `json:"rerank_threshold,omitempty"`
	Normalize       *bool    `json:"normalize,omitempty"`
	Explain         bool     `json:"explain,omitempty"`
}

// Validate trims the query and rejects empty ones.
func (r *RetrieveRequest) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// Apply returns base with the request's overrides applied. base is not modified.
func (r *RetrieveRequest) Apply(base RetrievalConfig) RetrievalConfig {
	cfg := base
	if r.Vector != nil {
		cfg.Vector.Enabled = *r.Vector
	}
	if r.Keyword != nil {
		cfg.Keyword.Enabled = *r.Keyword
	}
	if r.VectorTopK != 0 {
		cfg.Vector.TopK = r.VectorTopK
	}
	if r.KeywordTopK != 0 {
		cfg.Keyword.TopK = r.KeywordTopK
	}
	if r.VectorWeight != nil {
		cfg.Vector.Weight = *r.VectorWeight
	}
	if r.KeywordWeight != nil {
		cfg.Keyword.Weight = *r.KeywordWeight
	}
	if r.Rerank != nil {
		cfg.Reranker.Enabled = *r.Rerank
	}
	if r.RerankTopN != 0 {
		cfg.Reranker.TopN = r.RerankTopN
	}
	if r.RerankThreshold != nil {
		t := *r.RerankThreshold
		cfg.Reranker.ScoreThreshold = &t
	}
	if r.Normalize != nil {
		cfg.Reranker.NormalizeScores = *r.Normalize
	}
	return cfg
}
