// Package main is the ragchat CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/ragchat/internal/cli"
	"github.com/hyperjump/ragchat/internal/config"
	"github.com/hyperjump/ragchat/internal/extract"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/retrieval"
	"github.com/hyperjump/ragchat/internal/server"
	"github.com/hyperjump/ragchat/internal/storage"
	"github.com/hyperjump/ragchat/internal/watcher"
	"github.com/hyperjump/ragchat/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ragchat/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence, and a missing default file yields the built-in
// defaults. It returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; tokens may already be in the environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "serve", "server":
		err = runServe(os.Args[2:])
	case "query", "search":
		err = runQuery(os.Args[2:], os.Stdout)
	case "index":
		err = runIndex(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:], os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("ragchat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config and builds a logger for a subcommand.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	return cfg, logger, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	srv := server.NewServer(components.Orchestrator, components.Storage, cfg.Retrieval(), cfg.Server.Addr(),
		server.WithLogger(logger),
		server.WithVectorIndex(components.VectorIndex),
		server.WithDiskPaths(diskPaths(cfg)...),
		server.WithInfo(statusInfo(cfg)),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-sigChan:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

// queryFlags holds the query subcommand flags.
type queryFlags struct {
	fs              *flag.FlagSet
	configPath      *string
	serverURL       *string
	vector          *bool
	keyword         *bool
	vectorTopK      *int
	keywordTopK     *int
	keywordWeight   *float64
	rerank          *bool
	rerankTopN      *int
	rerankThreshold *float64
	normalize       *bool
	explain         *bool
	output          *string
	timeout         *time.Duration
}

func newQueryFlags() *queryFlags {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	return &queryFlags{
		fs:              fs,
		configPath:      fs.String("config", defaultConfigPath, "config file path"),
		serverURL:       fs.String("server", "", "server URL (empty = query local storage directly)"),
		vector:          fs.Bool("vector", true, "enable the vector retriever"),
		keyword:         fs.Bool("keyword", true, "enable the keyword retriever"),
		vectorTopK:      fs.Int("vector-top-k", config.DefaultVectorTopK, "vector candidates to retrieve"),
		keywordTopK:     fs.Int("keyword-top-k", config.DefaultKeywordTopK, "keyword candidates to retrieve"),
		keywordWeight:   fs.Float64("keyword-weight", config.DefaultKeywordWeight, "keyword fusion weight; vector weight is 1 minus this"),
		rerank:          fs.Bool("rerank", false, "rerank fused candidates with the cross-encoder"),
		rerankTopN:      fs.Int("rerank-top-n", config.DefaultRerankTopN, "results to keep after reranking"),
		rerankThreshold: fs.Float64("rerank-threshold", 0, "minimum rerank score to keep a result"),
		normalize:       fs.Bool("normalize", true, "map rerank logits through a sigmoid"),
		explain:         fs.Bool("explain", false, "print per-stage scores for every candidate"),
		output:          fs.String("output", "text", "output format: text or json"),
		timeout:         fs.Duration("timeout", 0, "per-stage timeout (0 = config value)"),
	}
}

// request converts explicitly set flags into per-query overrides. Unset flags keep
// the configured values.
func (f *queryFlags) request(query string) *models.RetrieveRequest {
	req := &models.RetrieveRequest{Query: query, Explain: *f.explain}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "vector":
			req.Vector = f.vector
		case "keyword":
			req.Keyword = f.keyword
		case "vector-top-k":
			req.VectorTopK = *f.vectorTopK
		case "keyword-top-k":
			req.KeywordTopK = *f.keywordTopK
		case "keyword-weight":
			kw := *f.keywordWeight
			vw := 1 - kw
			req.KeywordWeight = &kw
			req.VectorWeight = &vw
		case "rerank":
			req.Rerank = f.rerank
		case "rerank-top-n":
			req.RerankTopN = *f.rerankTopN
		case "rerank-threshold":
			req.RerankThreshold = f.rerankThreshold
		case "normalize":
			req.Normalize = f.normalize
		}
	})
	return req
}

// buildQuery joins positional args so multi-word queries work with or without quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that follow the query to the front so flag.Parse sees
// them; the flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery(args []string, out io.Writer) error {
	f := newQueryFlags()
	if err := f.fs.Parse(argsReorder(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	query := buildQuery(f.fs.Args())
	if query == "" {
		f.fs.Usage()
		return errors.New("usage: ragchat query [flags] <question>")
	}
	format, err := cli.ParseFormat(*f.output)
	if err != nil {
		return err
	}
	req := f.request(query)

	if *f.serverURL != "" {
		result, explanations, err := retrieveViaHTTP(*f.serverURL, req)
		if err != nil {
			return err
		}
		return cli.WriteResults(out, result, explanations, format)
	}

	cfg, logger, err := setup(*f.configPath, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	rc := req.Apply(cfg.Retrieval())
	if *f.timeout > 0 {
		rc.Timeout = *f.timeout
	}
	result, explanations, err := components.Orchestrator.Retrieve(ctx, retrieval.Query{Text: req.Query}, rc)
	if err != nil {
		return err
	}
	if !req.Explain {
		explanations = nil
	}
	return cli.WriteResults(out, result, explanations, format)
}

func retrieveViaHTTP(serverURL string, req *models.RetrieveRequest) (*models.RankedResult, []models.Explanation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/retrieve", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out server.RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	return out.RankedResult, out.Explanations, nil
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "keep running and re-index directories as files change")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	paths := fs.Args()
	if len(paths) == 0 {
		paths = cfg.Index.Directories
	}
	if len(paths) == 0 {
		return errors.New("usage: ragchat index [flags] <file-or-directory>... (or set index.directories)")
	}

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	var dirs []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat path: %w", err)
		}
		if !info.IsDir() {
			indexed, err := components.Indexer.IndexFile(ctx, path)
			if err != nil {
				return fmt.Errorf("indexing %s failed: %w", path, err)
			}
			if indexed {
				fmt.Printf("Indexed %s\n", path)
			} else {
				fmt.Printf("Unchanged %s\n", path)
			}
			continue
		}
		stats, err := components.Indexer.IndexDirectory(ctx, path)
		if err != nil {
			return fmt.Errorf("indexing directory %s failed: %w", path, err)
		}
		fmt.Printf("%s: %d indexed, %d unchanged, %d failed, %d removed\n",
			path, stats.Indexed, stats.Skipped, stats.Failed, stats.Removed)
		dirs = append(dirs, path)
	}
	if err := components.SaveVectors(ctx, cfg); err != nil {
		return err
	}
	if !*watch {
		return nil
	}
	if len(dirs) == 0 {
		return errors.New("-watch needs at least one directory")
	}

	ext := extract.NewExtractor()
	w, err := watcher.New(dirs, reindexHandler(components, cfg, logger),
		watcher.WithLogger(logger),
		watcher.WithFilter(func(p string) bool { return ext.Supports(filepath.Ext(p)) }),
	)
	if err != nil {
		return err
	}
	watchCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(watchCtx)
}

// reindexHandler applies a watch batch to the store and indices and saves the
// vector index afterwards.
func reindexHandler(c *Components, cfg *config.Config, logger *zap.Logger) watcher.Handler {
	return func(ctx context.Context, b watcher.Batch) {
		for _, path := range b.Removed {
			if err := c.Indexer.RemoveFile(ctx, path); err != nil {
				logger.Warn("remove failed", zap.String("path", path), zap.Error(err))
			}
		}
		indexed := 0
		for _, path := range b.Changed {
			ok, err := c.Indexer.IndexFile(ctx, path)
			if err != nil {
				logger.Warn("reindex failed", zap.String("path", path), zap.Error(err))
				continue
			}
			if ok {
				indexed++
			}
		}
		if err := c.SaveVectors(ctx, cfg); err != nil {
			logger.Warn("save vector index failed", zap.Error(err))
		}
		logger.Info("watch batch applied", zap.Int("indexed", indexed), zap.Int("removed", len(b.Removed)))
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Documents       int64                  `json:"documents"`
	Chunks          int64                  `json:"chunks"`
	Retrievers      []string               `json:"retrievers,omitempty"`
	Reranker        bool                   `json:"reranker"`
	VectorIndexSize int                    `json:"vector_index_size"`
	DiskUsageBytes  *int64                 `json:"disk_usage_bytes,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
}

func statusInfo(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"vector_index_type":  cfg.Vector.Type,
		"keyword_engine":     cfg.Keyword.Engine,
		"embedding_provider": cfg.Embedding.Provider,
		"embedding_dims":     cfg.Embedding.Dimensions,
		"reranker_provider":  cfg.Reranker.Provider,
		"chunk_size":         cfg.Chunking.Size,
		"chunk_overlap":      cfg.Chunking.Overlap,
		"database_path":      cfg.Storage.DatabasePath,
	}
}

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		return err
	}

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			return err
		}
		status = *res
	} else {
		cfg, logger, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		if status, err = localStatus(ctx, cfg, components); err != nil {
			return err
		}
	}
	return writeStatus(out, &status, format)
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (statusResponse, error) {
	docs, err := c.Storage.CountDocuments(ctx)
	if err != nil {
		return statusResponse{}, fmt.Errorf("count documents failed: %w", err)
	}
	chunks, err := c.Storage.CountChunks(ctx)
	if err != nil {
		return statusResponse{}, fmt.Errorf("count chunks failed: %w", err)
	}
	status := statusResponse{
		Documents:       docs,
		Chunks:          chunks,
		Reranker:        cfg.Reranker.Enabled,
		VectorIndexSize: c.VectorIndex.Size(),
		Config:          statusInfo(cfg),
	}
	for _, p := range cfg.Retrieval().Enabled() {
		status.Retrievers = append(status.Retrievers, string(p))
	}
	if n, err := storage.DiskUsageBytes(diskPaths(cfg)...); err == nil {
		status.DiskUsageBytes = &n
	}
	return status, nil
}

func writeStatus(w io.Writer, status *statusResponse, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "documents:          %d\n", status.Documents)
	fmt.Fprintf(w, "chunks:             %d\n", status.Chunks)
	fmt.Fprintf(w, "vector_index_size:  %d\n", status.VectorIndexSize)
	fmt.Fprintf(w, "retrievers:         %s\n", strings.Join(status.Retrievers, ", "))
	fmt.Fprintf(w, "reranker_enabled:   %t\n", status.Reranker)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, key := range []string{
			"vector_index_type", "keyword_engine", "embedding_provider", "embedding_dims",
			"reranker_provider", "chunk_size", "chunk_overlap", "database_path",
		} {
			if v, ok := status.Config[key]; ok {
				fmt.Fprintf(w, "%-19s %v\n", key+":", v)
			}
		}
	}
	return nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`ragchat - local hybrid retrieval with fusion and reranking

Usage:
  ragchat index [flags] [path...]     Index files or directories (default: index.directories)
                                      --watch keeps re-indexing directories as files change
  ragchat query [flags] <question>    Retrieve the most relevant chunks
  ragchat serve [flags]               Start the HTTP retrieval API
  ragchat status [flags]              Show storage and index status
  ragchat version                     Show version
  ragchat help                        Show this help

Query Flags:
  --config string            Config file path (default: /usr/local/etc/ragchat/config.yaml)
  --server string            Query a running server instead of local storage
  --vector                   Enable the vector retriever (default: true)
  --keyword                  Enable the keyword retriever (default: true)
  --vector-top-k int         Vector candidates (default: 75)
  --keyword-top-k int        Keyword candidates (default: 50)
  --keyword-weight float     Keyword fusion weight; vector gets 1 minus this (default: 0.5)
  --rerank                   Rerank fused candidates (default: false)
  --rerank-top-n int         Results kept after reranking (default: 10)
  --rerank-threshold float   Minimum rerank score
  --normalize                Sigmoid-normalize rerank scores (default: true)
  --explain                  Show per-stage scores
  --output string            text or json (default: text)
  --timeout duration         Per-stage timeout, e.g. 3s

Examples:
  ragchat index ./docs
  ragchat query how does fusion work
  ragchat query --keyword=false --rerank "vector only, reranked"
  ragchat query --output json --explain "hybrid search"
  ragchat serve
  ragchat status --output json`)
}
