//go:build !cgo
// +build !cgo

package rerank

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX cross-encoder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXCrossEncoder stub type when built without CGO (see onnx.go for the real implementation).
type ONNXCrossEncoder struct{}

// NewONNXCrossEncoder returns an error when built without CGO.
func NewONNXCrossEncoder(_ string, _ int) (*ONNXCrossEncoder, error) {
	return nil, errNoCGO
}

// ScoreBatch always fails.
func (e *ONNXCrossEncoder) ScoreBatch(context.Context, string, []string) ([]float64, error) {
	return nil, errNoCGO
}

// Close is a no-op.
func (e *ONNXCrossEncoder) Close() error { return nil }
