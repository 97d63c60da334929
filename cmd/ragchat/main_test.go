package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/ragchat/internal/cli"
	"github.com/hyperjump/ragchat/internal/config"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/watcher"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"how does fusion work", "-rerank", "-rerank-top-n", "5"},
			expected: []string{"-rerank", "-rerank-top-n", "5", "how does fusion work"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-keyword=false", "vector only"},
			expected: []string{"-keyword=false", "vector only"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"hybrid search"},
			expected: []string{"hybrid search"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-vector-top-k", "5"},
			expected: []string{"-vector-top-k", "5", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"fusion"}, "fusion"},
		{"multiple words", []string{"hybrid", "retrieval"}, "hybrid retrieval"},
		{"single quoted phrase", []string{"hybrid retrieval"}, "hybrid retrieval"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestQueryFlagsRequest_OnlySetFlagsOverride(t *testing.T) {
	f := newQueryFlags()
	if err := f.fs.Parse([]string{"-keyword=false", "-vector-top-k", "5", "-rerank", "-explain", "q"}); err != nil {
		t.Fatal(err)
	}
	req := f.request("q")
	if req.Keyword == nil || *req.Keyword {
		t.Errorf("keyword override = %v, want false", req.Keyword)
	}
	if req.Vector != nil {
		t.Errorf("vector was not set but override = %v", *req.Vector)
	}
	if req.VectorTopK != 5 || req.KeywordTopK != 0 {
		t.Errorf("top-k overrides = %d/%d, want 5/0", req.VectorTopK, req.KeywordTopK)
	}
	if req.Rerank == nil || !*req.Rerank || !req.Explain {
		t.Error("rerank and explain should be set")
	}
	if req.RerankThreshold != nil || req.Normalize != nil || req.KeywordWeight != nil {
		t.Error("unset flags must not override config")
	}

	base := models.RetrievalConfig{
		Vector:   models.RetrieverConfig{Enabled: true, TopK: 75, Weight: 0.5},
		Keyword:  models.RetrieverConfig{Enabled: true, TopK: 50, Weight: 0.5},
		Reranker: models.RerankerConfig{TopN: 10, NormalizeScores: true},
	}
	cfg := req.Apply(base)
	if cfg.Keyword.Enabled || cfg.Vector.TopK != 5 || cfg.Keyword.TopK != 50 || !cfg.Reranker.Enabled {
		t.Errorf("unexpected applied config: %+v", cfg)
	}
}

func TestQueryFlagsRequest_KeywordWeightSetsComplement(t *testing.T) {
	f := newQueryFlags()
	if err := f.fs.Parse([]string{"-keyword-weight", "0.25", "q"}); err != nil {
		t.Fatal(err)
	}
	req := f.request("q")
	if req.KeywordWeight == nil || req.VectorWeight == nil {
		t.Fatal("both weights should be set")
	}
	if *req.KeywordWeight != 0.25 || *req.VectorWeight != 0.75 {
		t.Errorf("weights = %g/%g, want 0.25/0.75", *req.KeywordWeight, *req.VectorWeight)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPathFails(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func TestIndexQueryStatus(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(docs, "fusion.md"), "Weighted fusion combines ranked candidate lists.")
	writeFile(t, filepath.Join(docs, "cats.txt"), "Cats sleep most of the day.")

	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, `
storage:
  database_path: "./data/chunks.db"
vector:
  type: memory
  path: "./data/vectors.bin"
keyword:
  engine: memory
embedding:
  provider: mock
  dimensions: 32
`)

	if err := runIndex([]string{"-config", configPath, docs}); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "vectors.bin.state.json")); err != nil {
		t.Errorf("vector state not saved: %v", err)
	}

	var out bytes.Buffer
	err := runQuery([]string{"fusion", "-config", configPath, "-vector=false", "-output", "json", "-explain"}, &out)
	if err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	var result struct {
		Candidates []struct {
			ChunkID string `json:"chunk_id"`
			Chunk   struct {
				Source string `json:"source"`
			} `json:"chunk"`
		} `json:"candidates"`
		Explanations []json.RawMessage `json:"explanations"`
	}
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("query output is not JSON: %v\n%s", err, out.String())
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1\n%s", len(result.Candidates), out.String())
	}
	if !strings.HasSuffix(result.Candidates[0].Chunk.Source, "fusion.md") {
		t.Errorf("top source = %q, want fusion.md", result.Candidates[0].Chunk.Source)
	}
	if len(result.Explanations) != 1 {
		t.Errorf("explanations = %d, want 1", len(result.Explanations))
	}

	out.Reset()
	if err := runStatus([]string{"-config", configPath, "-output", "json"}, &out); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	var status statusResponse
	if err := json.Unmarshal(out.Bytes(), &status); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if status.Documents != 2 || status.Chunks != 2 || status.VectorIndexSize != 2 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.DiskUsageBytes == nil || *status.DiskUsageBytes == 0 {
		t.Error("disk usage should be reported")
	}
}

func TestRunQuery_EmptyQuery(t *testing.T) {
	var out bytes.Buffer
	if err := runQuery([]string{"-output", "json", "   "}, &out); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestWriteStatusText(t *testing.T) {
	n := int64(1234)
	status := &statusResponse{
		Documents:       2,
		Chunks:          5,
		Retrievers:      []string{"vector", "keyword"},
		VectorIndexSize: 5,
		DiskUsageBytes:  &n,
		Config:          map[string]interface{}{"keyword_engine": "bleve"},
	}
	var out bytes.Buffer
	if err := writeStatus(&out, status, cli.OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"documents:          2", "chunks:             5", "vector, keyword", "disk_usage_bytes:   1234", "keyword_engine:     bleve"} {
		if !strings.Contains(out.String(), sub) {
			t.Errorf("status output missing %q:\n%s", sub, out.String())
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestReindexHandler(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, `
storage:
  database_path: ":memory:"
vector:
  type: memory
  path: "./vectors.bin"
keyword:
  engine: memory
embedding:
  provider: mock
  dimensions: 16
`)
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	path := filepath.Join(dir, "notes.md")
	writeFile(t, path, "Watched files are re-indexed in batches.")
	handle := reindexHandler(c, cfg, zap.NewNop())

	handle(ctx, watcher.Batch{Changed: []string{path, filepath.Join(dir, "missing.md")}})
	if n, _ := c.Storage.CountDocuments(ctx); n != 1 {
		t.Fatalf("documents after change = %d, want 1", n)
	}
	if c.VectorIndex.Size() == 0 {
		t.Error("vectors should be added for the changed file")
	}
	if _, err := os.Stat(filepath.Join(dir, "vectors.bin.state.json")); err != nil {
		t.Errorf("vector state not saved: %v", err)
	}

	handle(ctx, watcher.Batch{Removed: []string{path}})
	if n, _ := c.Storage.CountDocuments(ctx); n != 0 {
		t.Errorf("documents after removal = %d, want 0", n)
	}
}
