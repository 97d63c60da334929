package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i] * b[i])
	}
	return s
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, err := e.Embed(ctx, "Go is fun")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "go IS fun!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, math.Sqrt(dot(a, a)), 1e-5)
}

func TestMockEmbedder_SharedTermsAreCloser(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "database indexing")
	near, _ := e.Embed(ctx, "indexing a database table")
	far, _ := e.Embed(ctx, "sunny weather today")
	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestMockEmbedder_Defaults(t *testing.T) {
	e := NewMockEmbedder(0)
	assert.Equal(t, 384, e.Dimensions())
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, v, 384)
	assert.Zero(t, dot(v, v))
	require.NoError(t, e.Close())
}

func TestMockEmbedder_EmbedBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockEmbedder(8).EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
