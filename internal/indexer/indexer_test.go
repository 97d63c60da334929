package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/ragchat/internal/embedding"
	"github.com/hyperjump/ragchat/internal/fileid"
	"github.com/hyperjump/ragchat/internal/keyword"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/storage"
	"github.com/hyperjump/ragchat/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixture struct {
	idx   *Indexer
	store storage.Storage
	vec   *vector.MemoryIndex
	kw    keyword.KeywordIndex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	vec, err := vector.NewMemoryIndex(16)
	require.NoError(t, err)
	kw := memBleve(t)
	opts = append([]Option{WithChunker(NewChunker(60, 10))}, opts...)
	return &fixture{
		idx:   NewIndexer(store, embedding.NewMockEmbedder(16), vec, kw, opts...),
		store: store,
		vec:   vec,
		kw:    kw,
	}
}

func memBleve(t *testing.T) *keyword.BleveIndex {
	t.Helper()
	idx, err := keyword.NewBleveIndex(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func chunkCount(t *testing.T, s storage.Storage) int64 {
	t.Helper()
	n, err := s.CountChunks(context.Background())
	require.NoError(t, err)
	return n
}

const longText = "Hybrid retrieval runs a vector search and a keyword search. " +
	"Scores are normalized per retriever and fused with weights. " +
	"A cross-encoder then reranks the fused list."

func TestIndexDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := &models.DocumentInput{Title: "notes", Source: "notes.md", Content: longText,
		Metadata: map[string]interface{}{"team": "search"}}
	n, err := f.idx.IndexDocument(ctx, input)
	require.NoError(t, err)
	require.Greater(t, n, 1)
	assert.NotEmpty(t, input.ID, "missing id is generated")

	assert.EqualValues(t, n, chunkCount(t, f.store))
	assert.Equal(t, n, f.vec.Size())
	docs, err := f.kw.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, n, docs)

	chunk, err := f.store.GetChunk(ctx, fileid.ChunkID(input.ID, 0))
	require.NoError(t, err)
	assert.Equal(t, "notes.md", chunk.Source)
	assert.Equal(t, "search", chunk.Metadata["team"])
	assert.EqualValues(t, 0, chunk.Metadata[models.MetaOffset])

	hits, err := f.kw.Search(ctx, "cross-encoder", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.True(t, strings.HasPrefix(hits[0].ID, input.ID+"_"))
}

func TestIndexDocument_ReplacesPreviousVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "doc", Content: longText})
	require.NoError(t, err)
	n, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "doc", Content: "just one short chunk"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, chunkCount(t, f.store))
	assert.Equal(t, 1, f.vec.Size())

	hits, err := f.kw.Search(ctx, "reranks", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexDocument_EmptyContent(t *testing.T) {
	f := newFixture(t)
	n, err := f.idx.IndexDocument(context.Background(), &models.DocumentInput{ID: "blank", Content: " \n\t "})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.vec.Size())
}

func TestIndexDocument_SmallBatches(t *testing.T) {
	f := newFixture(t, WithBatchSize(1))
	n, err := f.idx.IndexDocument(context.Background(), &models.DocumentInput{ID: "doc", Content: longText})
	require.NoError(t, err)
	assert.Equal(t, n, f.vec.Size())
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "a", Content: longText})
	require.NoError(t, err)
	_, err = f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "b", Content: "bravo charlie"})
	require.NoError(t, err)

	require.NoError(t, f.idx.DeleteDocument(ctx, "a"))
	assert.EqualValues(t, 1, chunkCount(t, f.store))
	assert.Equal(t, 1, f.vec.Size())
	ids, err := f.vec.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b_0"}, ids)

	_, err = f.store.GetDocument(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, f.idx.DeleteDocument(ctx, "never-indexed"))
}

func TestIndexFile_CreateSkipUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.txt")
	writeFile(t, path, "Hello world content.")

	indexed, err := f.idx.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, indexed)

	docID := fileid.DocID(path)
	doc, err := f.store.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", doc.Title)
	assert.Equal(t, path, doc.Path)

	indexed, err = f.idx.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, indexed, "unchanged file is skipped")

	writeFile(t, path, "Updated content with more words.")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	indexed, err = f.idx.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, indexed)

	chunk, err := f.store.GetChunk(ctx, fileid.ChunkID(docID, 0))
	require.NoError(t, err)
	assert.Equal(t, "Updated content with more words.", chunk.Text)
	assert.Equal(t, path, chunk.Metadata[models.MetaSourcePath])
}

func TestIndexFile_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := f.idx.IndexFile(ctx, dir)
	assert.ErrorContains(t, err, "not a regular file")

	_, err = f.idx.IndexFile(ctx, filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "broken.docx")
	writeFile(t, bad, "not a zip")
	_, err = f.idx.IndexFile(ctx, bad)
	var ee *extractError
	assert.ErrorAs(t, err, &ee)
}

func TestIndexFile_Excel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.xlsx")

	x := excelize.NewFile()
	require.NoError(t, x.SetCellValue("Sheet1", "A1", "Excel searchable content"))
	require.NoError(t, x.SaveAs(path))
	require.NoError(t, x.Close())

	indexed, err := f.idx.IndexFile(ctx, path)
	require.NoError(t, err)
	require.True(t, indexed)
	chunk, err := f.store.GetChunk(ctx, fileid.ChunkID(fileid.DocID(path), 0))
	require.NoError(t, err)
	assert.Equal(t, "Excel searchable content", chunk.Text)
}

func TestIndexDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha document")
	writeFile(t, filepath.Join(dir, "sub", "b.md"), "bravo document")
	writeFile(t, filepath.Join(dir, "image.png"), "\x89PNG")
	writeFile(t, filepath.Join(dir, ".git", "c.txt"), "hidden")
	writeFile(t, filepath.Join(dir, "broken.docx"), "not a zip")

	stats, err := f.idx.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, DirectoryStats{Indexed: 2, Failed: 1}, stats)
	assert.EqualValues(t, 2, chunkCount(t, f.store))

	stats, err = f.idx.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, DirectoryStats{Skipped: 2, Failed: 1}, stats)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	stats, err = f.idx.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.EqualValues(t, 1, chunkCount(t, f.store))

	hits, err := f.kw.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexDirectory_KeepsDocumentsOutsideDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "adhoc", Content: "kept"})
	require.NoError(t, err)
	other := t.TempDir()
	writeFile(t, filepath.Join(other, "x.txt"), "outside")
	_, err = f.idx.IndexFile(ctx, filepath.Join(other, "x.txt"))
	require.NoError(t, err)

	stats, err := f.idx.IndexDirectory(ctx, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, stats.Removed)
	assert.EqualValues(t, 2, chunkCount(t, f.store))
}

func TestIndexDirectory_NotADirectory(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, path, "x")
	_, err := f.idx.IndexDirectory(context.Background(), path)
	assert.ErrorContains(t, err, "not a directory")
}

func TestRebuildKeyword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "doc", Content: longText})
	require.NoError(t, err)

	fresh := memBleve(t)
	rebuilt := NewIndexer(f.store, embedding.NewMockEmbedder(16), f.vec, fresh)
	n, err := rebuilt.RebuildKeyword(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, chunkCount(t, f.store), n)

	hits, err := fresh.Search(ctx, "cross-encoder", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestEnsureVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "doc", Content: longText})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vectors.bin")

	rebuilt, err := f.idx.EnsureVectors(ctx, path, "mock")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.FileExists(t, path+".state.json")
	size := f.vec.Size()

	loadInto := func() (*vector.MemoryIndex, bool) {
		vec, err := vector.NewMemoryIndex(16)
		require.NoError(t, err)
		idx := NewIndexer(f.store, embedding.NewMockEmbedder(16), vec, memBleve(t))
		rebuilt, err := idx.EnsureVectors(ctx, path, "mock")
		require.NoError(t, err)
		return vec, rebuilt
	}

	vec, rebuilt := loadInto()
	assert.False(t, rebuilt, "unchanged corpus loads the saved index")
	assert.Equal(t, size, vec.Size())

	_, err = f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "more", Content: "another document"})
	require.NoError(t, err)
	vec, rebuilt = loadInto()
	assert.True(t, rebuilt, "changed corpus rebuilds")
	assert.Equal(t, size+1, vec.Size())
}

func TestSaveVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "doc", Content: longText})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vectors.bin")

	require.NoError(t, f.idx.SaveVectors(ctx, path, "mock"))
	assert.FileExists(t, path+".state.json")

	vec, err := vector.NewMemoryIndex(16)
	require.NoError(t, err)
	idx := NewIndexer(f.store, embedding.NewMockEmbedder(16), vec, memBleve(t))
	rebuilt, err := idx.EnsureVectors(ctx, path, "mock")
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.Equal(t, f.vec.Size(), vec.Size())

	rebuilt, err = idx.EnsureVectors(ctx, path, "other-model")
	require.NoError(t, err)
	assert.True(t, rebuilt, "a different model rebuilds")
}

func TestEnsureVectors_RebuildsOutOfSyncIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.idx.IndexDocument(ctx, &models.DocumentInput{ID: "doc", Content: longText})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, f.idx.SaveVectors(ctx, path, "mock"))
	want := f.vec.Size()

	// Same state file, but the saved vectors lack one chunk.
	ids, err := f.vec.IDs(ctx)
	require.NoError(t, err)
	require.NoError(t, f.vec.Remove(ctx, ids[:1]))
	require.NoError(t, f.vec.Save(path))

	vec, err := vector.NewMemoryIndex(16)
	require.NoError(t, err)
	idx := NewIndexer(f.store, embedding.NewMockEmbedder(16), vec, memBleve(t))
	rebuilt, err := idx.EnsureVectors(ctx, path, "mock")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, want, vec.Size())
}

func TestRemoveFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, path, "remove me after indexing")

	indexed, err := f.idx.IndexFile(ctx, path)
	require.NoError(t, err)
	require.True(t, indexed)
	require.NotZero(t, chunkCount(t, f.store))

	require.NoError(t, f.idx.RemoveFile(ctx, path))
	assert.Zero(t, chunkCount(t, f.store))
	assert.Zero(t, f.vec.Size())
	assert.NoError(t, f.idx.RemoveFile(ctx, path), "removing twice is a no-op")
}
