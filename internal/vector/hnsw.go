package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW defaults.
const (
	DefaultHNSWM        = 16
	DefaultHNSWEfSearch = 64
)

var errClosed = errors.New("vector index is closed")

// HNSWIndex is an approximate nearest neighbour index on coder/hnsw using cosine distance.
// Replaced and removed ids are orphaned in the graph and filtered from results.
type HNSWIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int
	idMap      map[string]uint64
	keyMap     map[uint64]string
	nextKey    uint64
	closed     bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// hnswMeta is persisted next to the exported graph.
type hnswMeta struct {
	Dimensions int
	IDMap      map[string]uint64
	NextKey    uint64
}

// NewHNSWIndex creates an empty graph. m and efSearch fall back to defaults when not positive.
func NewHNSWIndex(dimensions, m, efSearch int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if m <= 0 {
		m = DefaultHNSWM
	}
	if efSearch <= 0 {
		efSearch = DefaultHNSWEfSearch
	}
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = m
	g.EfSearch = efSearch
	g.Ml = 0.25
	return &HNSWIndex{
		graph:      g,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}, nil
}

// Add inserts vectors. An existing id is re-added under a fresh key.
func (h *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if err := checkDims(h.dimensions, vectors...); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errClosed
	}
	for i, id := range ids {
		if old, ok := h.idMap[id]; ok {
			// deleting from coder/hnsw can break the graph when it empties it
			delete(h.keyMap, old)
		}
		key := h.nextKey
		h.nextKey++
		h.graph.Add(hnsw.MakeNode(key, normalized(vectors[i])))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	return nil
}

// Search returns up to k live neighbours with score = 1 - cosine distance.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(h.dimensions, query); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, errClosed
	}
	if k <= 0 || len(h.idMap) == 0 {
		return []*VectorResult{}, nil
	}

	q := normalized(query)
	// over-fetch so orphaned nodes do not starve the result
	want := k + (h.graph.Len() - len(h.idMap))
	nodes := h.graph.Search(q, want)
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue
		}
		dist := h.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{ID: id, Score: 1 - float64(dist)})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove orphans the given ids.
func (h *HNSWIndex) Remove(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errClosed
	}
	for _, id := range ids {
		if key, ok := h.idMap[id]; ok {
			delete(h.keyMap, key)
			delete(h.idMap, id)
		}
	}
	return nil
}

// IDs returns the live ids in ascending order.
func (h *HNSWIndex) IDs(ctx context.Context) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.idMap))
	for id := range h.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Save exports the graph to path and the id mapping to path+".meta", each via temp file and rename.
func (h *HNSWIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeAtomic(path, func(f *os.File) error { return h.graph.Export(f) }); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}
	meta := hnswMeta{Dimensions: h.dimensions, IDMap: h.idMap, NextKey: h.nextKey}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load imports a graph written by Save. A missing file leaves the index unchanged.
func (h *HNSWIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errClosed
	}

	mf, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open hnsw metadata: %w", err)
	}
	defer mf.Close()
	var meta hnswMeta
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}
	if meta.Dimensions != h.dimensions {
		return ErrDimensionMismatch{Expected: h.dimensions, Got: meta.Dimensions}
	}

	gf, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open hnsw graph: %w", err)
	}
	defer gf.Close()
	g := hnsw.NewGraph[uint64]()
	// Import needs an io.ByteReader
	if err := g.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	h.graph = g
	h.idMap = meta.IDMap
	if h.idMap == nil {
		h.idMap = make(map[string]uint64)
	}
	h.keyMap = make(map[uint64]string, len(h.idMap))
	for id, key := range h.idMap {
		h.keyMap[key] = id
	}
	h.nextKey = meta.NextKey
	return nil
}

// Size returns the number of live vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	return nil
}
