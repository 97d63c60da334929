// Package indexer splits documents into chunks and writes them to the chunk store
// and both retrieval indices. It runs before retrieval, never alongside it.
package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/ragchat/internal/fileid"
	"github.com/hyperjump/ragchat/internal/models"
)

// Chunk size defaults, in characters.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 80
)

// separators are tried in order when looking for a window boundary.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into overlapping character windows, preferring to end a
// window on a paragraph, line, sentence, or word boundary.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker. Non-positive size falls back to DefaultChunkSize;
// an overlap outside [0, size) falls back to size/10.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into chunks with ids <docID>_<index>. Each chunk records its
// rune offset in text and its source path in metadata. Blank text yields nil.
func (c *Chunker) Chunk(docID, source, text string) []*models.Chunk {
	runes := []rune(text)
	var chunks []*models.Chunk
	for start := 0; start < len(runes); {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.boundary(runes, start, end)
		}

		lead := 0
		for start+lead < end && unicode.IsSpace(runes[start+lead]) {
			lead++
		}
		if body := strings.TrimRightFunc(string(runes[start+lead:end]), unicode.IsSpace); body != "" {
			i := len(chunks)
			chunks = append(chunks, &models.Chunk{
				ID:         fileid.ChunkID(docID, i),
				DocumentID: docID,
				Text:       body,
				Source:     source,
				Index:      i,
				Metadata: map[string]interface{}{
					models.MetaSourcePath: source,
					models.MetaOffset:     start + lead,
				},
			})
		}
		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary moves end back to just after the last separator found in the second
// half of the window. Without one, the window is cut at end.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	floor := len(string(runes[start : start+c.size/2]))
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= floor {
			return start + len([]rune(window[:i+len(sep)]))
		}
	}
	return end
}
