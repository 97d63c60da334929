//go:build cgo
// +build cgo

package rerank

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/ragchat/internal/embedding"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXCrossEncoder runs a local cross-encoder model (such as ms-marco-MiniLM-L6-v2
// exported to ONNX) with a single-logit output. Requires CGO and the onnxruntime library.
type ONNXCrossEncoder struct {
	session             *ort.AdvancedSession
	maxTokens           int
	tokenizer           embedding.PairTokenizer
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

var _ CrossEncoder = (*ONNXCrossEncoder)(nil)

// NewONNXCrossEncoder loads the model at modelPath.
func NewONNXCrossEncoder(modelPath string, maxTokens int) (*ONNXCrossEncoder, error) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	e := &ONNXCrossEncoder{maxTokens: maxTokens, tokenizer: &embedding.SimpleTokenizer{}}
	shape := ort.NewShape(1, int64(maxTokens))
	var err error
	if e.inputIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.attentionMaskTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}
	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{e.outputTensor},
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return e, nil
}

// ScoreBatch scores each pair on the shared session. A failed inference is reported
// per item through *PartialError.
func (e *ONNXCrossEncoder) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scores := make([]float64, len(texts))
	var partial *PartialError
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := e.tokenizer.TokenizePair(query, text, e.maxTokens)
		copy(e.inputIDsTensor.GetData(), ids)
		copy(e.attentionMaskTensor.GetData(), mask)
		copy(e.tokenTypeIDsTensor.GetData(), types)
		if err := e.session.Run(); err != nil {
			if partial == nil {
				partial = &PartialError{Failed: make(map[int]error)}
			}
			partial.Failed[i] = fmt.Errorf("inference failed: %w", err)
			continue
		}
		scores[i] = float64(e.outputTensor.GetData()[0])
	}
	if partial != nil {
		return scores, partial
	}
	return scores, nil
}

// Close destroys the session and tensors.
func (e *ONNXCrossEncoder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
		e.inputIDsTensor = nil
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
		e.attentionMaskTensor = nil
	}
	if e.tokenTypeIDsTensor != nil {
		_ = e.tokenTypeIDsTensor.Destroy()
		e.tokenTypeIDsTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
