package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*MockEmbedder
	calls      int
	batchCalls int
	batchSizes []int
	err        error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	c.batchSizes = append(c.batchSizes, len(texts))
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_Embed(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	a2, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, inner.calls)

	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "c") // evicts a
	assert.Equal(t, 2, c.Len())
	_, _ = c.Embed(ctx, "a")
	assert.Equal(t, 4, inner.calls)
	assert.Equal(t, 8, c.Dimensions())
}

func TestCachedEmbedder_EmbedBatchForwardsMisses(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	c, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Embed(ctx, "cached")
	require.NoError(t, err)

	out, err := c.EmbedBatch(ctx, []string{"x", "cached", "y"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int{2}, inner.batchSizes)

	want, _ := NewMockEmbedder(8).Embed(ctx, "cached")
	assert.Equal(t, want, out[1])

	_, err = c.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.batchCalls, "all hits must not reach the inner embedder")
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4), err: errors.New("boom")}
	c, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}
