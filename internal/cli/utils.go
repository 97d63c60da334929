// Package cli formats retrieval results for the ragchat command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/pkg/utils"
)

// OutputFormat is the format for query result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ExcerptLength is the number of runes of chunk text shown per result.
const ExcerptLength = 150

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	pathColor   = color.New(color.FgGreen)
	scoreColor  = color.New(color.FgYellow)
	warnColor   = color.New(color.FgRed)
)

type jsonOutput struct {
	*models.RankedResult
	Explanations []models.Explanation `json:"explanations,omitempty"`
}

// WriteResults writes result to w in the given format. explanations are
// included only when non-empty. Unknown formats fall back to text.
func WriteResults(w io.Writer, result *models.RankedResult, explanations []models.Explanation, format OutputFormat) error {
	if result == nil {
		result = &models.RankedResult{}
	}
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonOutput{RankedResult: result, Explanations: explanations})
	default:
		writeText(w, result, explanations)
		return nil
	}
}

// ParseFormat returns the OutputFormat named by s.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

func writeText(w io.Writer, result *models.RankedResult, explanations []models.Explanation) {
	mode := "fused"
	if result.Reranked {
		mode = "reranked"
	}
	headerColor.Fprintf(w, "\nFound %d results in %dms (%s)\n\n", result.Len(), result.QueryTime, mode)
	for _, warning := range result.Warnings {
		warnColor.Fprintf(w, "warning: %s\n", warning)
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w)
	}

	for _, c := range result.Candidates {
		writeCandidate(w, c, result.Reranked)
	}

	if len(explanations) > 0 {
		headerColor.Fprintln(w, "Explanations")
		for _, e := range explanations {
			writeExplanation(w, e)
		}
	}
}

func writeCandidate(w io.Writer, c *models.RankedCandidate, reranked bool) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	source := c.ChunkID
	if c.Chunk != nil && c.Chunk.Source != "" {
		source = c.Chunk.Source
	}
	fmt.Fprintf(w, "%d. ", c.Rank)
	pathColor.Fprintln(w, source)

	scores := fmt.Sprintf("similarity: %.4f", c.Score)
	if reranked && c.RerankScore != nil {
		scores += fmt.Sprintf(" | relevance: %.4f", *c.RerankScore)
	}
	scores += " | via " + joinProvenances(c.Provenances)
	scoreColor.Fprintln(w, scores)

	fmt.Fprintf(w, "\n%s\n\n", utils.Excerpt(c.Text(), ExcerptLength))
}

func writeExplanation(w io.Writer, e models.Explanation) {
	status := fmt.Sprintf("rank %d", e.FinalRank)
	if e.Dropped {
		status = "dropped: " + e.DropReason
	}
	fmt.Fprintf(w, "  %s [%s] fused %.4f (#%d)", e.ChunkID, status, e.FusedScore, e.FusedRank)
	for _, p := range e.Provenances {
		key := string(p)
		fmt.Fprintf(w, " %s=%.4f/%.4f", key, e.RawScores[key], e.NormalizedScores[key])
	}
	if e.RerankScore != nil {
		fmt.Fprintf(w, " rerank=%.4f", *e.RerankScore)
	}
	fmt.Fprintln(w)
}

func joinProvenances(ps []models.Provenance) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, "+")
}
