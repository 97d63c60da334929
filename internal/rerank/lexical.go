package rerank

import (
	"context"
	"strings"
	"unicode"
)

// LexicalCrossEncoder scores texts by query-term coverage. It needs no model and is
// used offline and in tests. Scores are logits in [-4, 4] so sigmoid normalization
// behaves as it does for a real cross-encoder.
type LexicalCrossEncoder struct{}

var _ CrossEncoder = LexicalCrossEncoder{}

// ScoreBatch returns one coverage logit per text.
func (LexicalCrossEncoder) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := uniqueTerms(query)
	scores := make([]float64, len(texts))
	for i, text := range texts {
		if len(terms) == 0 {
			scores[i] = -4
			continue
		}
		have := make(map[string]struct{})
		for _, t := range tokenize(text) {
			have[t] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := have[t]; ok {
				matched++
			}
		}
		scores[i] = 8*float64(matched)/float64(len(terms)) - 4
	}
	return scores, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTerms(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokenize(s) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
