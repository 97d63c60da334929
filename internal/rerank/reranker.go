package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/pkg/utils"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the per-item retry bound config applies when reranker.max_retries is unset.
const DefaultMaxRetries = 2

var errItemsPending = errors.New("rerank items pending retry")

// Reranker applies a CrossEncoder to fused candidates.
type Reranker struct {
	encoder    CrossEncoder
	logger     *zap.Logger
	timeout    time.Duration
	retryDelay time.Duration
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithLogger sets the logger used for dropped-item warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reranker) { r.logger = utils.OrNop(l) }
}

// WithTimeout bounds the whole rerank stage, retries included.
func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) { r.timeout = d }
}

// WithRetryDelay sets the pause between retry rounds.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Reranker) { r.retryDelay = d }
}

// New returns a Reranker. encoder may be nil; enabling reranking then fails at query time.
func New(encoder CrossEncoder, opts ...Option) *Reranker {
	r := &Reranker{encoder: encoder, logger: zap.NewNop(), retryDelay: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drop is a candidate removed by the rerank stage.
type Drop struct {
	Candidate *models.RankedCandidate
	Reason    string
}

// Result is the rerank stage output.
type Result struct {
	Candidates []*models.RankedCandidate
	Dropped    []Drop
	Warnings   []string
	Reranked   bool
}

// Rerank re-scores fused in one batched encoder call. With cfg.Enabled false it
// returns fused unchanged. Whole-batch failures, timeouts, and a batch where every
// item fails are returned as RerankerFailure.
func (r *Reranker) Rerank(ctx context.Context, query string, fused []*models.FusedCandidate, cfg models.RerankerConfig) (*Result, error) {
	if !cfg.Enabled {
		return identity(fused), nil
	}
	if r.encoder == nil {
		return nil, models.NewRerankerFailure("no cross-encoder configured", false, nil)
	}
	res := &Result{Reranked: true}
	if len(fused) == 0 {
		return res, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	raw, failures, err := r.score(ctx, query, fused, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	if len(failures) == len(fused) {
		return nil, models.NewRerankerFailure("every item failed", false, errors.Join(mapValues(failures)...))
	}

	kept := make([]*models.RankedCandidate, 0, len(fused))
	for i, fc := range fused {
		rc := &models.RankedCandidate{FusedCandidate: fc, FusedRank: i + 1}
		if ferr, failed := failures[i]; failed {
			msg := fmt.Sprintf("rerank dropped chunk %s after retries: %v", fc.ChunkID, ferr)
			r.logger.Warn("rerank item dropped", zap.String("chunk_id", fc.ChunkID), zap.Error(ferr))
			res.Warnings = append(res.Warnings, msg)
			res.Dropped = append(res.Dropped, Drop{Candidate: rc, Reason: models.DropRerankFailed})
			continue
		}
		rawScore := raw[i]
		score := rawScore
		if cfg.NormalizeScores {
			score = utils.Sigmoid(rawScore)
		}
		rc.RerankRaw = &rawScore
		rc.RerankScore = &score
		rc.FinalScore = score
		if cfg.ScoreThreshold != nil && score < *cfg.ScoreThreshold {
			res.Dropped = append(res.Dropped, Drop{Candidate: rc, Reason: models.DropBelowThreshold})
			continue
		}
		kept = append(kept, rc)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].FinalScore != kept[j].FinalScore {
			return kept[i].FinalScore > kept[j].FinalScore
		}
		return kept[i].FusedRank < kept[j].FusedRank
	})
	if cfg.TopN > 0 && len(kept) > cfg.TopN {
		for _, rc := range kept[cfg.TopN:] {
			res.Dropped = append(res.Dropped, Drop{Candidate: rc, Reason: models.DropTruncated})
		}
		kept = kept[:cfg.TopN]
	}
	for i, rc := range kept {
		rc.Rank = i + 1
	}
	res.Candidates = kept
	return res, nil
}

// score runs the initial batch plus up to maxRetries rounds over failed items.
// It returns raw scores by fused position and the items that never succeeded.
func (r *Reranker) score(ctx context.Context, query string, fused []*models.FusedCandidate, maxRetries int) (map[int]float64, map[int]error, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	raw := make(map[int]float64, len(fused))
	failures := make(map[int]error)
	pending := make([]int, len(fused))
	for i := range fused {
		pending[i] = i
	}

	op := func() error {
		texts := make([]string, len(pending))
		for j, i := range pending {
			texts[j] = fused[i].Text()
		}
		scores, err := r.encoder.ScoreBatch(ctx, query, texts)
		var partial *PartialError
		if err != nil && !errors.As(err, &partial) {
			return backoff.Permanent(err)
		}
		if len(scores) != len(pending) {
			return backoff.Permanent(fmt.Errorf("cross-encoder returned %d scores for %d texts", len(scores), len(pending)))
		}
		var next []int
		for j, i := range pending {
			if ferr, failed := partial.failed(j); failed {
				failures[i] = ferr
				next = append(next, i)
				continue
			}
			if math.IsNaN(scores[j]) || math.IsInf(scores[j], 0) {
				failures[i] = fmt.Errorf("non-finite score %v", scores[j])
				next = append(next, i)
				continue
			}
			delete(failures, i)
			raw[i] = scores[j]
		}
		if len(next) > 0 {
			r.logger.Debug("rerank retrying failed items", zap.Int("count", len(next)))
		}
		pending = next
		if len(pending) > 0 {
			return errItemsPending
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryDelay), uint64(maxRetries)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	if cerr := ctx.Err(); cerr != nil {
		return nil, nil, models.NewRerankerFailure("rerank aborted", errors.Is(cerr, context.DeadlineExceeded), cerr)
	}
	if err != nil && !errors.Is(err, errItemsPending) {
		return nil, nil, models.NewRerankerFailure("cross-encoder batch failed", errors.Is(err, context.DeadlineExceeded), err)
	}
	return raw, failures, nil
}

// identity wraps fused as ranked candidates in the same order with the fused scores.
func identity(fused []*models.FusedCandidate) *Result {
	out := make([]*models.RankedCandidate, len(fused))
	for i, fc := range fused {
		out[i] = &models.RankedCandidate{FusedCandidate: fc, Rank: i + 1, FusedRank: i + 1, FinalScore: fc.Score}
	}
	return &Result{Candidates: out}
}

func mapValues(m map[int]error) []error {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]error, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
