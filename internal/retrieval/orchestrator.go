package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/rerank"
	"github.com/hyperjump/ragchat/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline stages, logged at debug level.
const (
	StageIdle       = "idle"
	StageRetrieving = "retrieving"
	StageFusing     = "fusing"
	StageReranking  = "reranking"
	StageDone       = "done"
)

// Orchestrator runs one query through retrieval, fusion, and reranking.
// It holds no per-query state and is safe for concurrent use.
type Orchestrator struct {
	retrievers map[models.Provenance]Retriever
	reranker   *rerank.Reranker
	logger     *zap.Logger
	timeout    time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for warnings and stage transitions.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = utils.OrNop(l) }
}

// WithTimeout sets the per-stage bound used when a RetrievalConfig leaves Timeout at zero.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator returns an orchestrator over retrievers, keyed by provenance; a later
// retriever replaces an earlier one of the same provenance. reranker may be nil when
// queries never enable reranking.
func NewOrchestrator(retrievers []Retriever, reranker *rerank.Reranker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retrievers: make(map[models.Provenance]Retriever, len(retrievers)),
		reranker:   reranker,
		logger:     zap.NewNop(),
	}
	for _, r := range retrievers {
		if r != nil {
			o.retrievers[r.Provenance()] = r
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provenances returns the configured retriever provenances in priority order.
func (o *Orchestrator) Provenances() []models.Provenance {
	var out []models.Provenance
	for _, p := range models.Provenances {
		if _, ok := o.retrievers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// retrieval is one retriever's outcome.
type retrieval struct {
	provenance models.Provenance
	candidates []models.Candidate
	err        error
}

// Retrieve validates cfg, runs the enabled retrievers concurrently, fuses their candidates,
// and reranks the fused list. A retriever that fails or times out contributes nothing and
// adds a warning; NoCandidatesError is returned only when every enabled retriever failed.
// Cancelling ctx aborts the query with ctx's error.
//
// Explanations cover every fused candidate in fused order, including those the
// reranker dropped.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query, cfg models.RetrievalConfig) (*models.RankedResult, []models.Explanation, error) {
	start := time.Now()
	o.logger.Debug("retrieval stage", zap.String("stage", StageIdle), zap.String("query", q.Text))

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	selected, err := o.selectRetrievers(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Reranker.Enabled && o.reranker == nil {
		return nil, nil, models.NewConfigurationError("reranking enabled but no reranker configured")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = o.timeout
	}

	o.logger.Debug("retrieval stage", zap.String("stage", StageRetrieving), zap.Int("retrievers", len(selected)))
	results, err := o.runRetrievers(ctx, q, cfg, selected, timeout)
	if err != nil {
		return nil, nil, err
	}

	res := &models.RankedResult{Query: q.Text}
	var lists [][]models.Candidate
	var failures []error
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			res.Warnings = append(res.Warnings, r.err.Error())
			o.logger.Warn("retriever degraded", zap.String("provenance", string(r.provenance)), zap.Error(r.err))
			continue
		}
		o.logger.Debug("retriever finished", zap.String("provenance", string(r.provenance)), zap.Int("candidates", len(r.candidates)))
		lists = append(lists, r.candidates)
	}
	if len(failures) == len(results) {
		return nil, nil, models.NewNoCandidatesError(failures...)
	}

	o.logger.Debug("retrieval stage", zap.String("stage", StageFusing))
	fused, err := NewCombiner(cfg).Fuse(lists...)
	if err != nil {
		return nil, nil, err
	}

	o.logger.Debug("retrieval stage", zap.String("stage", StageReranking), zap.Int("fused", len(fused)), zap.Bool("enabled", cfg.Reranker.Enabled))
	ranked, err := o.rerank(ctx, q.Text, fused, cfg.Reranker, timeout)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckRanked(ranked.Candidates); err != nil {
		return nil, nil, err
	}

	res.Candidates = ranked.Candidates
	res.Reranked = ranked.Reranked
	res.Warnings = append(res.Warnings, ranked.Warnings...)
	res.QueryTime = time.Since(start).Milliseconds()
	o.logger.Debug("retrieval stage", zap.String("stage", StageDone),
		zap.Int("results", len(res.Candidates)), zap.Int64("ms", res.QueryTime))
	return res, Explain(fused, ranked), nil
}

// selectRetrievers returns the enabled retrievers in priority order.
func (o *Orchestrator) selectRetrievers(cfg models.RetrievalConfig) ([]Retriever, error) {
	var out []Retriever
	for _, p := range cfg.Enabled() {
		r, ok := o.retrievers[p]
		if !ok {
			return nil, models.NewConfigurationError("%s retriever enabled but not configured", p)
		}
		out = append(out, r)
	}
	return out, nil
}

// runRetrievers runs each retriever in its own goroutine. Only parent cancellation
// fails the group; retriever errors are recorded per result.
func (o *Orchestrator) runRetrievers(ctx context.Context, q Query, cfg models.RetrievalConfig, selected []Retriever, timeout time.Duration) ([]retrieval, error) {
	results := make([]retrieval, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range selected {
		i, r := i, r
		g.Go(func() error {
			p := r.Provenance()
			results[i].provenance = p
			rctx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}
			cands, err := r.Retrieve(rctx, q, cfg.For(p))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				results[i].err = asUnavailable(p, err, rctx.Err())
				return nil
			}
			results[i].candidates = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// asUnavailable normalizes a retriever error to RetrieverUnavailable, marking deadline expiry.
func asUnavailable(p models.Provenance, err, ctxErr error) error {
	timedOut := errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
	var re *models.RetrievalError
	if errors.As(err, &re) && re.Kind == models.KindRetrieverUnavailable {
		if timedOut && !re.Timeout {
			return models.NewRetrieverUnavailable(p, true, re.Cause)
		}
		return re
	}
	return models.NewRetrieverUnavailable(p, timedOut, err)
}

func (o *Orchestrator) rerank(ctx context.Context, query string, fused []*models.FusedCandidate, cfg models.RerankerConfig, timeout time.Duration) (*rerank.Result, error) {
	if !cfg.Enabled {
		return rerank.New(nil).Rerank(ctx, query, fused, cfg)
	}
	rctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := o.reranker.Rerank(rctx, query, fused, cfg)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if models.KindOf(err) == models.KindRerankerFailure {
			return nil, err
		}
		return nil, models.NewRerankerFailure("rerank failed", errors.Is(err, context.DeadlineExceeded), err)
	}
	return res, nil
}

// Explain builds one explanation per fused candidate, in fused order.
func Explain(fused []*models.FusedCandidate, ranked *rerank.Result) []models.Explanation {
	final := make(map[string]*models.RankedCandidate, len(fused))
	for _, rc := range ranked.Candidates {
		final[rc.ChunkID] = rc
	}
	dropped := make(map[string]rerank.Drop, len(ranked.Dropped))
	for _, d := range ranked.Dropped {
		dropped[d.Candidate.ChunkID] = d
	}

	out := make([]models.Explanation, len(fused))
	for i, fc := range fused {
		e := models.Explanation{
			ChunkID:          fc.ChunkID,
			Provenances:      append([]models.Provenance(nil), fc.Provenances...),
			RawScores:        stringKeys(fc.RawScores),
			NormalizedScores: stringKeys(fc.NormalizedScores),
			FusedScore:       fc.Score,
			FusedRank:        i + 1,
		}
		if fc.Chunk != nil {
			e.Source = fc.Chunk.Source
		}
		if rc, ok := final[fc.ChunkID]; ok {
			e.RerankRaw, e.RerankScore = rc.RerankRaw, rc.RerankScore
			e.FinalRank = rc.Rank
		} else if d, ok := dropped[fc.ChunkID]; ok {
			e.RerankRaw, e.RerankScore = d.Candidate.RerankRaw, d.Candidate.RerankScore
			e.Dropped = true
			e.DropReason = d.Reason
		}
		out[i] = e
	}
	return out
}

func stringKeys(m map[models.Provenance]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for p, v := range m {
		out[string(p)] = v
	}
	return out
}
