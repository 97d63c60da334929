package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/rerank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./chunks.db"
vector:
  type: memory
  path: "./vectors.bin"
keyword:
  engine: memory
retrieval:
  vector:
    top_k: 20
    weight: 0.7
  keyword:
    enabled: false
  timeout: 3s
reranker:
  enabled: true
  url: "http://localhost:8787/v1/rerank"
  top_n: 4
  score_threshold: 0.2
  normalize_scores: false
  max_retries: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	dir := filepath.Dir(path)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, filepath.Join(dir, "chunks.db"), cfg.Storage.DatabasePath)
	assert.Equal(t, filepath.Join(dir, "vectors.bin"), cfg.Vector.Path)
	assert.Empty(t, cfg.Keyword.Path, "memory engine needs no path")
	assert.Equal(t, "http", cfg.Reranker.Provider, "a url selects the http provider")

	rc := cfg.Retrieval()
	assert.Equal(t, models.RetrieverConfig{Enabled: true, TopK: 20, Weight: 0.7}, rc.Vector)
	assert.False(t, rc.Keyword.Enabled)
	assert.Equal(t, DefaultKeywordTopK, rc.Keyword.TopK)
	assert.InDelta(t, 0.3, rc.Keyword.Weight, 1e-9)
	assert.Equal(t, 3*time.Second, rc.Timeout)
	assert.True(t, rc.Reranker.Enabled)
	assert.Equal(t, 4, rc.Reranker.TopN)
	require.NotNil(t, rc.Reranker.ScoreThreshold)
	assert.Equal(t, 0.2, *rc.Reranker.ScoreThreshold)
	assert.False(t, rc.Reranker.NormalizeScores)
	assert.Equal(t, 1, rc.Reranker.MaxRetries)
	assert.NoError(t, rc.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeConfig(t, "server: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config")

	tests := map[string]string{
		"vector type":     "vector:\n  type: faiss\n",
		"keyword engine":  "keyword:\n  engine: lucene\n",
		"embedding":       "embedding:\n  provider: word2vec\n",
		"reranker":        "reranker:\n  provider: gpt\n",
		"http no url":     "reranker:\n  enabled: true\n  provider: http\n",
		"fuzziness":       "keyword:\n  fuzziness: 3\n",
		"no retrievers":   "retrieval:\n  vector:\n    enabled: false\n  keyword:\n    enabled: false\n",
		"negative weight": "retrieval:\n  keyword:\n    weight: -0.5\n",
		"NaN weight":      "retrieval:\n  vector:\n    weight: .nan\n",
		"infinite weight": "retrieval:\n  keyword:\n    weight: .inf\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "hnsw", cfg.Vector.Type)
	assert.Equal(t, "bleve", cfg.Keyword.Engine)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, "lexical", cfg.Reranker.Provider)
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 80, cfg.Chunking.Overlap)
	assert.Equal(t, "RAGCHAT_PG_DSN", cfg.Vector.DSNEnv)

	rc := cfg.Retrieval()
	assert.Equal(t, models.RetrieverConfig{Enabled: true, TopK: 75, Weight: 0.5}, rc.Vector)
	assert.Equal(t, models.RetrieverConfig{Enabled: true, TopK: 50, Weight: 0.5}, rc.Keyword)
	assert.False(t, rc.Reranker.Enabled)
	assert.Equal(t, 10, rc.Reranker.TopN)
	assert.True(t, rc.Reranker.NormalizeScores)
	assert.Equal(t, rerank.DefaultMaxRetries, rc.Reranker.MaxRetries)
	assert.Equal(t, DefaultTimeout, rc.Timeout)
}

func TestApplyDefaults_KeywordWeightComplement(t *testing.T) {
	kw := 0.8
	cfg := Config{Retrievers: RetrievalConfig{Keyword: RetrieverConfig{Weight: &kw}}}
	ApplyDefaults(&cfg)
	assert.InDelta(t, 0.2, *cfg.Retrievers.Vector.Weight, 1e-9)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, filepath.IsAbs(cfg.Storage.DatabasePath), cfg.Storage.DatabasePath)
	assert.NoError(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{":memory:", ":memory:"},
		{"/abs/path", "/abs/path"},
		{"./rel", "/etc/ragchat/rel"},
		{"../up", "/etc/up"},
		{"data/db", filepath.Join(home, "data/db")},
		{"~/data/db", filepath.Join(home, "data/db")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandPath(tt.in, "/etc/ragchat"), tt.in)
	}
}

func TestSecret(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_SECRET", "  tok-123 \n")
	assert.Equal(t, "tok-123", Secret("RAGCHAT_TEST_SECRET"))
	assert.Empty(t, Secret(""))
	assert.Empty(t, Secret("RAGCHAT_TEST_UNSET_VARIABLE"))
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Server.Port = 9191
	cfg.Retrievers.Timeout = 1500 * time.Millisecond
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, loaded.Retrievers.Timeout)
	assert.Equal(t, cfg.Retrieval(), loaded.Retrieval())
	assert.Equal(t, cfg.Storage.DatabasePath, loaded.Storage.DatabasePath)
}
