// Package rerank re-scores fused candidates with a cross-encoder and applies
// normalization, threshold filtering, and top-n truncation.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CrossEncoder scores (query, text) pairs in one batched call.
//
// The returned slice has one score per text. When only some items fail, the
// encoder returns the full slice together with a *PartialError naming the failed
// positions; scores at those positions are ignored. Any other error fails the batch.
type CrossEncoder interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error)
}

// PartialError reports per-item failures within an otherwise successful batch.
type PartialError struct {
	Failed map[int]error
}

func (e *PartialError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, len(idx))
	for j, i := range idx {
		parts[j] = fmt.Sprintf("%d: %v", i, e.Failed[i])
	}
	return fmt.Sprintf("%d item(s) failed: %s", len(idx), strings.Join(parts, "; "))
}

// failed reports whether position i failed. Safe on a nil receiver.
func (e *PartialError) failed(i int) (error, bool) {
	if e == nil {
		return nil, false
	}
	err, ok := e.Failed[i]
	return err, ok
}

// EncoderFunc adapts a function to the CrossEncoder interface.
type EncoderFunc func(ctx context.Context, query string, texts []string) ([]float64, error)

// ScoreBatch calls f.
func (f EncoderFunc) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	return f(ctx, query, texts)
}
