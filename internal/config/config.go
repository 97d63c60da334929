// Package config loads the ragchat YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/rerank"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool            `yaml:"debug"`
	Server     ServerConfig    `yaml:"server"`
	Storage    StorageConfig   `yaml:"storage"`
	Vector     VectorConfig    `yaml:"vector"`
	Keyword    KeywordConfig   `yaml:"keyword"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Chunking   ChunkingConfig  `yaml:"chunking"`
	Retrievers RetrievalConfig `yaml:"retrieval"`
	Reranker   RerankerConfig  `yaml:"reranker"`
	Index      IndexConfig     `yaml:"index"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the chunk store location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// VectorConfig selects and configures the vector index.
type VectorConfig struct {
	Type     string `yaml:"type"` // memory, hnsw, or pgvector
	Path     string `yaml:"path"`
	M        int    `yaml:"m"`
	EfSearch int    `yaml:"ef_search"`
	DSNEnv   string `yaml:"dsn_env"`
	Table    string `yaml:"table"`
}

// KeywordConfig selects and configures the keyword index.
type KeywordConfig struct {
	Engine    string `yaml:"engine"` // bleve or memory
	Path      string `yaml:"path"`
	Fuzziness int    `yaml:"fuzziness"`
}

// EmbeddingConfig configures the embedder.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // mock, onnx, or openai
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
}

// ChunkingConfig sets chunk window sizes in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrieverConfig configures one retriever.
type RetrieverConfig struct {
	Enabled        *bool    `yaml:"enabled"`
	TopK           int      `yaml:"top_k"`
	Weight         *float64 `yaml:"weight"`
	ScoreThreshold *float64 `yaml:"score_threshold,omitempty"`
}

// RetrievalConfig holds the retriever stages.
type RetrievalConfig struct {
	Vector  RetrieverConfig `yaml:"vector"`
	Keyword RetrieverConfig `yaml:"keyword"`
	Timeout time.Duration   `yaml:"timeout"`
}

// RerankerConfig selects the cross-encoder and configures the rerank stage.
type RerankerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Provider        string        `yaml:"provider"` // lexical, http, or onnx
	URL             string        `yaml:"url"`
	Model           string        `yaml:"model"`
	APITokenEnv     string        `yaml:"api_token_env"`
	ModelPath       string        `yaml:"model_path"`
	MaxTokens       int           `yaml:"max_tokens"`
	TopN            int           `yaml:"top_n"`
	ScoreThreshold  *float64      `yaml:"score_threshold,omitempty"`
	NormalizeScores *bool         `yaml:"normalize_scores"`
	MaxRetries      *int          `yaml:"max_retries"`
	Timeout         time.Duration `yaml:"timeout"`
}

// IndexConfig lists directories indexed by "ragchat index" when none is given.
type IndexConfig struct {
	Directories []string `yaml:"directories"`
	MaxFileSize int64    `yaml:"max_file_size"`
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration with paths under the home directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.expandPaths(".")
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Vector.Path = expandPath(c.Vector.Path, configDir)
	c.Keyword.Path = expandPath(c.Keyword.Path, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	c.Reranker.ModelPath = expandPath(c.Reranker.ModelPath, configDir)
	for i := range c.Index.Directories {
		c.Index.Directories[i] = expandPath(c.Index.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths and ":memory:" are kept.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		path = strings.TrimPrefix(path, "~/")
	} else if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// Validate checks the component selectors and the retrieval settings.
func (c *Config) Validate() error {
	if err := oneOf("vector.type", c.Vector.Type, "memory", "hnsw", "pgvector"); err != nil {
		return err
	}
	if err := oneOf("keyword.engine", c.Keyword.Engine, "bleve", "memory"); err != nil {
		return err
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "mock", "onnx", "openai"); err != nil {
		return err
	}
	if err := oneOf("reranker.provider", c.Reranker.Provider, "lexical", "http", "onnx"); err != nil {
		return err
	}
	if c.Reranker.Provider == "http" && c.Reranker.Enabled && c.Reranker.URL == "" {
		return models.NewConfigurationError("reranker.url is required for the http provider")
	}
	if c.Keyword.Fuzziness < 0 || c.Keyword.Fuzziness > 2 {
		return models.NewConfigurationError("keyword.fuzziness must be between 0 and 2, got %d", c.Keyword.Fuzziness)
	}
	return c.Retrieval().Validate()
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return models.NewConfigurationError("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Retrieval converts the file settings to a per-query pipeline config.
func (c *Config) Retrieval() models.RetrievalConfig {
	return models.RetrievalConfig{
		Vector:  c.Retrievers.Vector.model(),
		Keyword: c.Retrievers.Keyword.model(),
		Reranker: models.RerankerConfig{
			Enabled:         c.Reranker.Enabled,
			TopN:            c.Reranker.TopN,
			ScoreThreshold:  c.Reranker.ScoreThreshold,
			NormalizeScores: boolOr(c.Reranker.NormalizeScores, true),
			MaxRetries:      intOr(c.Reranker.MaxRetries, rerank.DefaultMaxRetries),
		},
		Timeout: c.Retrievers.Timeout,
	}
}

func (r RetrieverConfig) model() models.RetrieverConfig {
	return models.RetrieverConfig{
		Enabled:        boolOr(r.Enabled, true),
		TopK:           r.TopK,
		Weight:         floatOr(r.Weight, 0.5),
		ScoreThreshold: r.ScoreThreshold,
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Secret returns the value of the environment variable named by envName, or "".
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
