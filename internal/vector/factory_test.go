package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVectorIndex(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     Config
		want    interface{}
		wantErr bool
	}{
		{"memory", Config{Type: "memory", Dimensions: 3}, &MemoryIndex{}, false},
		{"default is memory", Config{Dimensions: 3}, &MemoryIndex{}, false},
		{"hnsw", Config{Type: "hnsw", Dimensions: 3}, &HNSWIndex{}, false},
		{"pgvector needs dsn", Config{Type: "pgvector", Dimensions: 3}, nil, true},
		{"unknown", Config{Type: "faiss", Dimensions: 3}, nil, true},
		{"zero dimension", Config{Type: "memory"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewVectorIndex(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer idx.Close()
			assert.IsType(t, tt.want, idx)
			assert.Zero(t, idx.Size())
		})
	}
}
