package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/ragchat/internal/embedding"
	"github.com/hyperjump/ragchat/internal/extract"
	"github.com/hyperjump/ragchat/internal/fileid"
	"github.com/hyperjump/ragchat/internal/keyword"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/storage"
	"github.com/hyperjump/ragchat/internal/vector"
	"github.com/hyperjump/ragchat/pkg/utils"
	"go.uber.org/zap"
)

const (
	metaSourceMtime = "source_mtime"
	metaSourceSize  = "source_size"

	defaultBatchSize = 64
)

// Indexer writes documents to the chunk store and both retrieval indices.
type Indexer struct {
	store        storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	chunker      *Chunker
	extractor    *extract.Extractor
	logger       *zap.Logger
	batchSize    int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger for per-file events.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithChunker replaces the default 800/80 character chunker.
func WithChunker(c *Chunker) Option {
	return func(idx *Indexer) { idx.chunker = c }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithBatchSize sets how many chunks are embedded per EmbedBatch call.
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer returns an indexer over the given store and indices.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	opts ...Option,
) *Indexer {
	idx := &Indexer{
		store:        store,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		chunker:      NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		extractor:    extract.NewExtractor(),
		logger:       zap.NewNop(),
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexDocument chunks, stores, embeds, and indexes input, replacing any previous
// version with the same id. A missing id gets a random one. It returns the number
// of chunks written.
func (idx *Indexer) IndexDocument(ctx context.Context, input *models.DocumentInput) (int, error) {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	if err := idx.DeleteDocument(ctx, input.ID); err != nil {
		return 0, err
	}
	doc := &models.Document{
		ID:       input.ID,
		Title:    input.Title,
		Path:     input.Source,
		Metadata: input.Metadata,
	}
	if err := idx.store.CreateDocument(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to store document: %w", err)
	}

	chunks := idx.chunker.Chunk(doc.ID, input.Source, Preprocess(input.Content))
	for _, ch := range chunks {
		for k, v := range input.Metadata {
			if _, taken := ch.Metadata[k]; !taken {
				ch.Metadata[k] = v
			}
		}
	}
	if len(chunks) == 0 {
		idx.logger.Debug("document has no text", zap.String("id", doc.ID))
		return 0, nil
	}
	if err := idx.store.BatchCreateChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := idx.indexChunks(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// indexChunks embeds chunks in batches and adds them to both indices.
func (idx *Indexer) indexChunks(ctx context.Context, chunks []*models.Chunk) error {
	if err := idx.addVectors(ctx, chunks); err != nil {
		return err
	}
	if err := idx.keywordIndex.Index(ctx, chunks); err != nil {
		return fmt.Errorf("failed to index keywords: %w", err)
	}
	return nil
}

func (idx *Indexer) addVectors(ctx context.Context, chunks []*models.Chunk) error {
	for start := 0; start < len(chunks); start += idx.batchSize {
		end := start + idx.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, ch := range batch {
			texts[i], ids[i] = ch.Text, ch.ID
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if err := idx.vectorIndex.Add(ctx, ids, vectors); err != nil {
			return fmt.Errorf("failed to index vectors: %w", err)
		}
	}
	return nil
}

// DeleteDocument removes a document's chunks from both indices and the store.
// Deleting an unknown id is not an error.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	chunks, err := idx.store.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get chunks: %w", err)
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if err := idx.keywordIndex.Delete(ctx, ids...); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
		if err := idx.vectorIndex.Remove(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete from vector index: %w", err)
		}
	}
	if err := idx.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	idx.logger.Debug("document deleted", zap.String("id", id), zap.Int("chunks", len(chunks)))
	return nil
}

// IndexFile indexes the file at path under a document id derived from its absolute
// path. It reports false when the file was already indexed with the same mtime and size.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := fileid.DocID(absPath)
	if idx.unchanged(ctx, docID, absPath, info) {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return false, nil
	}
	text, err := idx.extractor.Extract(absPath)
	if err != nil {
		return false, &extractError{path: absPath, err: err}
	}
	n, err := idx.IndexDocument(ctx, &models.DocumentInput{
		ID:      docID,
		Title:   filepath.Base(absPath),
		Source:  absPath,
		Content: text,
		Metadata: map[string]interface{}{
			// strings, since UnixNano does not survive a JSON float64
			metaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaSourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
	if err != nil {
		return false, err
	}
	idx.logger.Info("file indexed", zap.String("path", absPath), zap.String("doc_id", docID), zap.Int("chunks", n))
	return true, nil
}

// RemoveFile deletes the document indexed from path. Unknown paths are not an error.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return idx.DeleteDocument(ctx, fileid.DocID(absPath))
}

func (idx *Indexer) unchanged(ctx context.Context, docID, absPath string, info os.FileInfo) bool {
	doc, err := idx.store.GetDocument(ctx, docID)
	if err != nil || doc.Path != absPath {
		return false
	}
	return doc.Metadata[metaSourceMtime] == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		doc.Metadata[metaSourceSize] == strconv.FormatInt(info.Size(), 10)
}

// extractError marks a file whose text could not be extracted.
type extractError struct {
	path string
	err  error
}

func (e *extractError) Error() string { return fmt.Sprintf("extract %s: %v", e.path, e.err) }

func (e *extractError) Unwrap() error { return e.err }

// DirectoryStats summarizes one IndexDirectory run.
type DirectoryStats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

// IndexDirectory indexes every supported file under dir and removes documents for
// files under dir that no longer exist. Files that fail to extract are logged and
// counted; store and index errors abort the walk.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (DirectoryStats, error) {
	var stats DirectoryStats
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return stats, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return stats, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("not a directory: %s", absDir)
	}

	seen := make(map[string]bool)
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.extractor.Supports(filepath.Ext(path)) {
			return nil
		}
		seen[fileid.DocID(path)] = true
		indexed, err := idx.IndexFile(ctx, path)
		var extractErr *extractError
		switch {
		case errors.As(err, &extractErr):
			idx.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			stats.Failed++
		case err != nil:
			return err
		case indexed:
			stats.Indexed++
		default:
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.Removed, err = idx.prune(ctx, absDir, seen)
	return stats, err
}

// prune deletes documents whose source lies under dir but was not seen in the walk.
func (idx *Indexer) prune(ctx context.Context, dir string, seen map[string]bool) (int, error) {
	const page = 500
	var stale []string
	for offset := 0; ; offset += page {
		docs, err := idx.store.ListDocuments(ctx, offset, page)
		if err != nil {
			return 0, fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			if doc.Path == "" || seen[doc.ID] {
				continue
			}
			if rel, err := filepath.Rel(dir, doc.Path); err == nil && !strings.HasPrefix(rel, "..") {
				stale = append(stale, doc.ID)
			}
		}
		if len(docs) < page {
			break
		}
	}
	for _, id := range stale {
		if err := idx.DeleteDocument(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// RebuildKeyword indexes every stored chunk into the keyword index. A memory-only
// keyword index starts empty, so it is rebuilt on each start.
func (idx *Indexer) RebuildKeyword(ctx context.Context) (int, error) {
	var chunks []*models.Chunk
	if err := idx.store.ForEachChunk(ctx, func(c *models.Chunk) error {
		chunks = append(chunks, c)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("read chunks: %w", err)
	}
	if err := idx.keywordIndex.Index(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to index keywords: %w", err)
	}
	return len(chunks), nil
}

// RebuildVectors clears the vector index and re-embeds every stored chunk.
func (idx *Indexer) RebuildVectors(ctx context.Context) (int, error) {
	ids, err := idx.vectorIndex.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list vector ids: %w", err)
	}
	if err := idx.vectorIndex.Remove(ctx, ids); err != nil {
		return 0, fmt.Errorf("clear vector index: %w", err)
	}
	var chunks []*models.Chunk
	if err := idx.store.ForEachChunk(ctx, func(c *models.Chunk) error {
		chunks = append(chunks, c)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("read chunks: %w", err)
	}
	if err := idx.addVectors(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// vectorState identifies the corpus and model a saved vector index was built from.
type vectorState struct {
	StateHash  string `json:"state_hash"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// EnsureVectors loads the vector index saved at path when it was built from the
// current corpus with the same model, and otherwise rebuilds and saves it. It
// reports whether a rebuild happened.
func (idx *Indexer) EnsureVectors(ctx context.Context, path, model string) (bool, error) {
	hash, err := idx.store.StateHash(ctx)
	if err != nil {
		return false, fmt.Errorf("state hash: %w", err)
	}
	want := vectorState{StateHash: hash, Model: model, Dimensions: idx.embedder.Dimensions()}
	statePath := path + ".state.json"

	if have, err := readState(statePath); err == nil && have == want {
		err := idx.vectorIndex.Load(path)
		if err == nil {
			err = idx.checkVectorIDs(ctx)
		}
		if err == nil {
			idx.logger.Info("vector index loaded", zap.String("path", path), zap.Int("vectors", idx.vectorIndex.Size()))
			return false, nil
		}
		idx.logger.Warn("vector index unusable, rebuilding", zap.String("path", path), zap.Error(err))
	}

	n, err := idx.RebuildVectors(ctx)
	if err != nil {
		return true, err
	}
	if err := idx.saveVectors(path, want); err != nil {
		return true, err
	}
	idx.logger.Info("vector index rebuilt", zap.String("path", path), zap.Int("vectors", n))
	return true, nil
}

// checkVectorIDs fails when the loaded vector index and the store disagree on chunk ids.
func (idx *Indexer) checkVectorIDs(ctx context.Context) error {
	ids, err := idx.vectorIndex.IDs(ctx)
	if err != nil {
		return err
	}
	m, err := storage.ValidateIDs(ctx, idx.store, ids)
	if err != nil {
		return err
	}
	if !m.OK() {
		return fmt.Errorf("vector index out of sync: %d ids not in store, %d chunks not indexed",
			len(m.NotInStore), len(m.NotInIndex))
	}
	return nil
}

// SaveVectors saves the vector index to path and records the current corpus
// state next to it so a later EnsureVectors can reuse it.
func (idx *Indexer) SaveVectors(ctx context.Context, path, model string) error {
	hash, err := idx.store.StateHash(ctx)
	if err != nil {
		return fmt.Errorf("state hash: %w", err)
	}
	return idx.saveVectors(path, vectorState{StateHash: hash, Model: model, Dimensions: idx.embedder.Dimensions()})
}

func (idx *Indexer) saveVectors(path string, state vectorState) error {
	if err := idx.vectorIndex.Save(path); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".state.json", data, 0o644); err != nil {
		return fmt.Errorf("write vector state: %w", err)
	}
	return nil
}

func readState(path string) (vectorState, error) {
	var s vectorState
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(data, &s)
	return s, err
}
