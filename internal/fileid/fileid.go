// Package fileid derives stable document and chunk ids.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const prefix = "file-"

// DocID returns a stable document id for path. The same cleaned path always yields
// the same id, so re-indexing a file replaces its previous chunks.
func DocID(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:8])
}

// ChunkID returns the id of chunk index of docID.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_%d", docID, index)
}

// SplitChunkID is the inverse of ChunkID.
func SplitChunkID(id string) (docID string, index int, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}
