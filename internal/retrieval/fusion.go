// Package retrieval runs hybrid retrieval: concurrent retrievers, min-max score fusion, and reranking.
package retrieval

import (
	"math"
	"sort"

	"github.com/hyperjump/ragchat/internal/models"
)

// Combiner fuses candidate lists from several retrievers with per-provenance weights.
// A provenance missing from Weights contributes 0.
type Combiner struct {
	Weights map[models.Provenance]float64
}

// NewCombiner returns a Combiner using cfg's weights for the enabled retrievers.
func NewCombiner(cfg models.RetrievalConfig) *Combiner {
	return &Combiner{Weights: cfg.Weights()}
}

// Fuse merges the lists into one FusedCandidate per chunk id, sorted by combined score.
// Candidates are grouped by their own provenance, so list order does not matter.
func (c *Combiner) Fuse(lists ...[]models.Candidate) ([]*models.FusedCandidate, error) {
	byProvenance := make(map[models.Provenance][]models.Candidate)
	for _, list := range lists {
		for _, cand := range list {
			byProvenance[cand.Provenance] = append(byProvenance[cand.Provenance], cand)
		}
	}

	fused := make(map[string]*models.FusedCandidate)
	for p, cands := range byProvenance {
		raw, chunks := dedupeMax(cands)
		norm := MinMaxNormalize(raw)
		for id, score := range raw {
			fc, ok := fused[id]
			if !ok {
				fc = &models.FusedCandidate{
					ChunkID:          id,
					RawScores:        make(map[models.Provenance]float64, 2),
					NormalizedScores: make(map[models.Provenance]float64, 2),
				}
				fused[id] = fc
			}
			if fc.Chunk == nil {
				fc.Chunk = chunks[id]
			}
			fc.AddProvenance(p)
			fc.RawScores[p] = score
			fc.NormalizedScores[p] = norm[id]
		}
	}

	results := make([]*models.FusedCandidate, 0, len(fused))
	for _, fc := range fused {
		fc.Score = c.combine(fc)
		results = append(results, fc)
	}
	SortFused(results)
	if err := CheckFused(results); err != nil {
		return nil, err
	}
	return results, nil
}

// combine sums weight × normalized score, visiting provenances in priority order.
func (c *Combiner) combine(fc *models.FusedCandidate) float64 {
	var sum float64
	for _, p := range fc.Provenances {
		sum += c.Weights[p] * fc.NormalizedScores[p]
	}
	return sum
}

// MinMaxNormalize maps scores to [0,1]. With fewer than two candidates, or when all
// scores are equal, every present candidate gets 1.0.
func MinMaxNormalize(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	first := true
	var lo, hi float64
	for _, s := range scores {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	for id, s := range scores {
		if len(scores) < 2 || span == 0 {
			out[id] = 1.0
			continue
		}
		out[id] = (s - lo) / span
	}
	return out
}

// SortFused orders by score desc, then best provenance priority, then chunk id asc.
func SortFused(results []*models.FusedCandidate) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := a.BestPriority(), b.BestPriority(); pa != pb {
			return pa < pb
		}
		return a.ChunkID < b.ChunkID
	})
}

// CheckFused returns a FusionInvariantViolation on a duplicate chunk id, a non-finite
// score, or an increasing score.
func CheckFused(results []*models.FusedCandidate) error {
	seen := make(map[string]struct{}, len(results))
	for i, fc := range results {
		if _, dup := seen[fc.ChunkID]; dup {
			return models.NewFusionInvariantViolation("duplicate chunk id %q at position %d", fc.ChunkID, i)
		}
		seen[fc.ChunkID] = struct{}{}
		if math.IsNaN(fc.Score) || math.IsInf(fc.Score, 0) {
			return models.NewFusionInvariantViolation("non-finite score %g for %q at position %d", fc.Score, fc.ChunkID, i)
		}
		if i > 0 && fc.Score > results[i-1].Score {
			return models.NewFusionInvariantViolation("score increases at position %d (%g > %g)", i, fc.Score, results[i-1].Score)
		}
	}
	return nil
}

// CheckRanked applies the same checks to the final ordering by FinalScore.
func CheckRanked(results []*models.RankedCandidate) error {
	seen := make(map[string]struct{}, len(results))
	for i, rc := range results {
		if _, dup := seen[rc.ChunkID]; dup {
			return models.NewFusionInvariantViolation("duplicate ranked chunk id %q at position %d", rc.ChunkID, i)
		}
		seen[rc.ChunkID] = struct{}{}
		if math.IsNaN(rc.FinalScore) || math.IsInf(rc.FinalScore, 0) {
			return models.NewFusionInvariantViolation("non-finite ranked score %g for %q at position %d", rc.FinalScore, rc.ChunkID, i)
		}
		if i > 0 && rc.FinalScore > results[i-1].FinalScore {
			return models.NewFusionInvariantViolation("ranked score increases at position %d (%g > %g)", i, rc.FinalScore, results[i-1].FinalScore)
		}
	}
	return nil
}

// dedupeMax keeps the highest raw score per chunk id, and the first resolved chunk.
func dedupeMax(cands []models.Candidate) (map[string]float64, map[string]*models.Chunk) {
	scores := make(map[string]float64, len(cands))
	chunks := make(map[string]*models.Chunk, len(cands))
	for _, c := range cands {
		if s, ok := scores[c.ChunkID]; !ok || c.Score > s {
			scores[c.ChunkID] = c.Score
		}
		if chunks[c.ChunkID] == nil && c.Chunk != nil {
			chunks[c.ChunkID] = c.Chunk
		}
	}
	return scores, chunks
}
