package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special token ids.
const (
	tokenCLS     = 101
	tokenSEP     = 102
	vocabSize    = 30000
	reservedBase = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// PairTokenizer encodes a (query, passage) pair for cross-encoder models.
type PairTokenizer interface {
	TokenizePair(query, text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs.
// It keeps models runnable without a vocabulary file; quality depends on the model tolerating it.
type SimpleTokenizer struct{}

var (
	_ Tokenizer     = (*SimpleTokenizer)(nil)
	_ PairTokenizer = (*SimpleTokenizer)(nil)
)

// Tokenize encodes [CLS] text [SEP], padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs, attentionMask, tokenTypeIDs = alloc(maxTokens)
	inputIDs[0], attentionMask[0] = tokenCLS, 1
	pos := fill(inputIDs, attentionMask, tokenTypeIDs, 1, maxTokens-1, SplitWords(text), 0)
	inputIDs[pos], attentionMask[pos] = tokenSEP, 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenizePair encodes [CLS] query [SEP] text [SEP]. The query gets at most half the budget;
// text tokens carry token type 1.
func (t *SimpleTokenizer) TokenizePair(query, text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 4 {
		maxTokens = 512
	}
	inputIDs, attentionMask, tokenTypeIDs = alloc(maxTokens)
	inputIDs[0], attentionMask[0] = tokenCLS, 1

	pos := fill(inputIDs, attentionMask, tokenTypeIDs, 1, maxTokens/2, SplitWords(query), 0)
	inputIDs[pos], attentionMask[pos] = tokenSEP, 1
	pos++

	pos = fill(inputIDs, attentionMask, tokenTypeIDs, pos, maxTokens-1, SplitWords(text), 1)
	inputIDs[pos], attentionMask[pos], tokenTypeIDs[pos] = tokenSEP, 1, 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func alloc(n int) (a, b, c []int64) {
	return make([]int64, n), make([]int64, n), make([]int64, n)
}

// fill writes word ids from pos up to (excluding) limit and returns the next free position.
func fill(ids, mask, types []int64, pos, limit int, words []string, typeID int64) int {
	for _, w := range words {
		if pos >= limit {
			break
		}
		ids[pos] = TokenID(w)
		mask[pos] = 1
		types[pos] = typeID
		pos++
	}
	return pos
}

// TokenID maps a word to a stable id outside the special token range.
func TokenID(word string) int64 {
	return int64(reservedBase + HashString(strings.ToLower(word))%(vocabSize-reservedBase))
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
