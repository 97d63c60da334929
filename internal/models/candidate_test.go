package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProvenancePriority(t *testing.T) {
	assert.Less(t, ProvenanceVector.Priority(), ProvenanceKeyword.Priority())
	assert.Greater(t, Provenance("other").Priority(), ProvenanceKeyword.Priority())
}

func TestFusedCandidate_AddProvenanceKeepsPriorityOrder(t *testing.T) {
	f := &FusedCandidate{ChunkID: "a"}
	f.AddProvenance(ProvenanceKeyword)
	f.AddProvenance(ProvenanceVector)
	f.AddProvenance(ProvenanceKeyword)

	assert.Equal(t, []Provenance{ProvenanceVector, ProvenanceKeyword}, f.Provenances)
	assert.Equal(t, ProvenanceVector.Priority(), f.BestPriority())
	assert.True(t, f.HasProvenance(ProvenanceKeyword))
}

func TestFusedCandidate_TextWithoutChunk(t *testing.T) {
	assert.Equal(t, "", (&FusedCandidate{}).Text())
	assert.Equal(t, "hi", (&FusedCandidate{Chunk: &Chunk{Text: "hi"}}).Text())
}
