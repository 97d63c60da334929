package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexContract exercises behaviour shared by every VectorIndex.
func indexContract(t *testing.T, newIndex func(t *testing.T) VectorIndex) {
	ctx := context.Background()

	t.Run("empty index returns no hits", func(t *testing.T) {
		idx := newIndex(t)
		results, err := idx.Search(ctx, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("search orders by cosine", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Add(ctx, []string{"a", "b", "c"}, [][]float32{
			{2, 0, 0},
			{0.9, 0.1, 0},
			{0, 1, 0},
		}))
		assert.Equal(t, 3, idx.Size())

		results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		assert.Equal(t, "b", results[1].ID)
	})

	t.Run("add replaces existing id", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
		require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{0, 0, 1}}))
		assert.Equal(t, 2, idx.Size())

		results, err := idx.Search(ctx, []float32{0, 0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].ID)
	})

	t.Run("remove and ids", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Add(ctx, []string{"y", "x", "z"}, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))
		require.NoError(t, idx.Remove(ctx, []string{"x", "unknown"}))
		ids, err := idx.IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"y", "z"}, ids)

		results, err := idx.Search(ctx, []float32{0, 1, 0}, 3)
		require.NoError(t, err)
		for _, r := range results {
			assert.NotEqual(t, "x", r.ID)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		idx := newIndex(t)
		err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
		var dm ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)

		_, err = idx.Search(ctx, []float32{1}, 1)
		assert.Error(t, err)
		assert.Error(t, idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}}))
	})
}

func TestMemoryIndex_Contract(t *testing.T) {
	indexContract(t, func(t *testing.T) VectorIndex {
		idx, err := NewMemoryIndex(3)
		require.NoError(t, err)
		return idx
	})
}

func TestMemoryIndex_TiesSortByID(t *testing.T) {
	idx, err := NewMemoryIndex(2)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []string{"c", "a", "b"}, [][]float32{{1, 0}, {1, 0}, {1, 0}}))
	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	got := []string{results[0].ID, results[1].ID, results[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx", "vectors.bin")

	idx, _ := NewMemoryIndex(3)
	require.NoError(t, idx.Add(ctx, []string{"chunk_0", "chunk_1"}, [][]float32{{1, 0, 0}, {0, 3, 4}}))
	require.NoError(t, idx.Save(path))

	loaded, _ := NewMemoryIndex(3)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Size())
	results, err := loaded.Search(ctx, []float32{0, 0.6, 0.8}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk_1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	wrong, _ := NewMemoryIndex(4)
	assert.Error(t, wrong.Load(path))

	missing, _ := NewMemoryIndex(3)
	require.NoError(t, missing.Load(filepath.Join(t.TempDir(), "nope.bin")))
	assert.Zero(t, missing.Size())
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.InDelta(t, 5.0, L2Norm([]float32{3, 4}), 1e-9)
}
