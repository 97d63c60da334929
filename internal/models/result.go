package models

// RankedCandidate is one entry of the final ordering.
// Score is the rerank score when the reranker ran, otherwise the fused score.
type RankedCandidate struct {
	*FusedCandidate
	Rank        int      `json:"rank"`
	FusedRank   int      `json:"fused_rank"`
	FinalScore  float64  `json:"final_score"`
	RerankRaw   *float64 `json:"rerank_raw,omitempty"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// RankedResult is the ordered output of one query.
type RankedResult struct {
	Query      string             `json:"query"`
	Candidates []*RankedCandidate `json:"candidates"`
	Reranked   bool               `json:"reranked"`
	Warnings   []string           `json:"warnings,omitempty"`
	QueryTime  int64              `json:"query_time_ms"`
}

// Len returns the number of ranked candidates.
func (r *RankedResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Candidates)
}

// Explanation records per-stage scores for one fused candidate, including dropped ones.
type Explanation struct {
	ChunkID          string             `json:"chunk_id"`
	Source           string             `json:"source,omitempty"`
	Provenances      []Provenance       `json:"provenances"`
	RawScores        map[string]float64 `json:"raw_scores"`
	NormalizedScores map[string]float64 `json:"normalized_scores"`
	FusedScore       float64            `json:"fused_score"`
	FusedRank        int                `json:"fused_rank"`
	RerankRaw        *float64           `json:"rerank_raw,omitempty"`
	RerankScore      *float64           `json:"rerank_score,omitempty"`
	FinalRank        int                `json:"final_rank,omitempty"`
	Dropped          bool               `json:"dropped,omitempty"`
	DropReason       string             `json:"drop_reason,omitempty"`
}

// Drop reasons recorded in explanations.
const (
	DropBelowThreshold = "below_threshold"
	DropTruncated      = "truncated_top_n"
	DropRerankFailed   = "rerank_item_failed"
)
