package models

import "sort"

// Provenance identifies which retriever produced a candidate.
type Provenance string

const (
	ProvenanceVector  Provenance = "vector"
	ProvenanceKeyword Provenance = "keyword"
)

// Provenances lists known provenances in priority order.
var Provenances = []Provenance{ProvenanceVector, ProvenanceKeyword}

// Priority is the tie-break rank of p; lower wins. Unknown provenances sort last.
func (p Provenance) Priority() int {
	for i, known := range Provenances {
		if p == known {
			return i
		}
	}
	return len(Provenances)
}

// Candidate is one retriever's hit for one query.
type Candidate struct {
	ChunkID    string     `json:"chunk_id"`
	Chunk      *Chunk     `json:"-"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// FusedCandidate merges every candidate that shares a chunk id.
type FusedCandidate struct {
	ChunkID          string                 `json:"chunk_id"`
	Chunk            *Chunk                 `json:"chunk,omitempty"`
	Score            float64                `json:"score"`
	Provenances      []Provenance           `json:"provenances"`
	RawScores        map[Provenance]float64 `json:"raw_scores"`
	NormalizedScores map[Provenance]float64 `json:"normalized_scores"`
}

// AddProvenance records p keeping Provenances sorted by priority.
func (f *FusedCandidate) AddProvenance(p Provenance) {
	if f.HasProvenance(p) {
		return
	}
	f.Provenances = append(f.Provenances, p)
	sort.SliceStable(f.Provenances, func(i, j int) bool {
		return f.Provenances[i].Priority() < f.Provenances[j].Priority()
	})
}

// HasProvenance reports whether p contributed to f.
func (f *FusedCandidate) HasProvenance(p Provenance) bool {
	for _, have := range f.Provenances {
		if have == p {
			return true
		}
	}
	return false
}

// BestPriority is the priority of the highest-ranked contributing provenance.
func (f *FusedCandidate) BestPriority() int {
	if len(f.Provenances) == 0 {
		return len(Provenances)
	}
	return f.Provenances[0].Priority()
}

// Text returns the chunk text or "" when the chunk was not resolved.
func (f *FusedCandidate) Text() string {
	if f.Chunk == nil {
		return ""
	}
	return f.Chunk.Text
}
