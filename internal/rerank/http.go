package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/ragchat/pkg/utils"
	"go.uber.org/zap"
)

// HTTP cross-encoder defaults.
const (
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultHTTPAttempts = 3
)

// HTTPCrossEncoder calls an external rerank API (for example a text-embeddings-inference
// or Cohere-compatible /v1/rerank endpoint).
//
// Request:  {"query": "...", "documents": ["...", ...], "model": "..."}
// Response: {"results": [{"index": 0, "relevance_score": 1.3}, ...]}
//
// Results carrying an index are matched by index; results without one are matched by
// position. An indexed result with an "error" field, or a missing index, is a per-item failure.
type HTTPCrossEncoder struct {
	client   *http.Client
	url      string
	token    string
	model    string
	attempts int
	interval time.Duration
	logger   *zap.Logger
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// HTTPOption configures an HTTPCrossEncoder.
type HTTPOption func(*HTTPCrossEncoder)

// WithAPIToken sends "Authorization: Bearer <token>" on every request.
func WithAPIToken(token string) HTTPOption {
	return func(e *HTTPCrossEncoder) { e.token = token }
}

// WithModel sets the model field of the request.
func WithModel(model string) HTTPOption {
	return func(e *HTTPCrossEncoder) { e.model = model }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPCrossEncoder) { e.client = c }
}

// WithAttempts sets how many times a transient HTTP failure is attempted.
func WithAttempts(n int) HTTPOption {
	return func(e *HTTPCrossEncoder) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// WithRetryInterval sets the initial backoff between attempts.
func WithRetryInterval(d time.Duration) HTTPOption {
	return func(e *HTTPCrossEncoder) { e.interval = d }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPCrossEncoder) { e.logger = utils.OrNop(l) }
}

// NewHTTPCrossEncoder returns an encoder posting to url.
func NewHTTPCrossEncoder(url string, opts ...HTTPOption) *HTTPCrossEncoder {
	e := &HTTPCrossEncoder{
		client:   &http.Client{Timeout: DefaultHTTPTimeout},
		url:      url,
		attempts: DefaultHTTPAttempts,
		interval: backoff.DefaultInitialInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResult struct {
	Index          *int     `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Score          *float64 `json:"score"`
	Error          string   `json:"error,omitempty"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// ScoreBatch posts all texts in a single request.
func (e *HTTPCrossEncoder) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var out rerankResponse
	op := func() error {
		resp, err := e.post(ctx, body)
		if err != nil {
			return err
		}
		out = *resp
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.attempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("rerank request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return decodeScores(out.Results, len(texts))
}

func (e *HTTPCrossEncoder) post(ctx context.Context, body []byte) (*rerankResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create rerank request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(b))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode rerank response: %w", err))
	}
	return &out, nil
}

func decodeScores(results []rerankResult, n int) ([]float64, error) {
	scores := make([]float64, n)
	indexed := len(results) > 0 && results[0].Index != nil
	if !indexed {
		if len(results) != n {
			return nil, fmt.Errorf("rerank response has %d results for %d documents", len(results), n)
		}
		for i, r := range results {
			s, ok := r.value()
			if !ok {
				return nil, fmt.Errorf("rerank result %d has no score", i)
			}
			scores[i] = s
		}
		return scores, nil
	}

	seen := make(map[int]bool, n)
	var partial *PartialError
	fail := func(i int, err error) {
		if partial == nil {
			partial = &PartialError{Failed: make(map[int]error)}
		}
		partial.Failed[i] = err
	}
	for _, r := range results {
		if r.Index == nil || *r.Index < 0 || *r.Index >= n {
			return nil, fmt.Errorf("rerank result index out of range")
		}
		i := *r.Index
		seen[i] = true
		if r.Error != "" {
			fail(i, fmt.Errorf("%s", r.Error))
			continue
		}
		s, ok := r.value()
		if !ok {
			fail(i, fmt.Errorf("no score"))
			continue
		}
		scores[i] = s
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			fail(i, fmt.Errorf("missing from response"))
		}
	}
	if partial != nil {
		return scores, partial
	}
	return scores, nil
}

func (r rerankResult) value() (float64, bool) {
	if r.RelevanceScore != nil {
		return *r.RelevanceScore, true
	}
	if r.Score != nil {
		return *r.Score, true
	}
	return 0, false
}
