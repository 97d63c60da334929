package vector

import (
	"context"
	"fmt"
	"testing"
)

func benchVectors(n, dims int) ([]string, [][]float32) {
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range vecs {
		ids[i] = fmt.Sprintf("chunk-%d", i)
		v := make([]float32, dims)
		v[i%dims] = 1
		v[(i*7)%dims] += float32(i) / float32(n)
		vecs[i] = v
	}
	return ids, vecs
}

func benchmarkSearch(b *testing.B, idx VectorIndex) {
	ctx := context.Background()
	ids, vecs := benchVectors(2000, 384)
	if err := idx.Add(ctx, ids, vecs); err != nil {
		b.Fatal(err)
	}
	query := vecs[42]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search(ctx, query, 75); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, err := NewMemoryIndex(384)
	if err != nil {
		b.Fatal(err)
	}
	benchmarkSearch(b, idx)
}

func BenchmarkHNSWIndexSearch(b *testing.B) {
	idx, err := NewHNSWIndex(384, 16, 64)
	if err != nil {
		b.Fatal(err)
	}
	benchmarkSearch(b, idx)
}
