// Package extract turns source files into plain text for chunking.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned for file extensions with no registered extractor.
var ErrUnsupported = errors.New("unsupported file type")

type extractFunc func(content []byte) (string, error)

// Extractor maps file extensions to text extractors.
type Extractor struct {
	formats map[string]extractFunc
	maxSize int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxFileSize rejects files larger than n bytes. Zero disables the check.
func WithMaxFileSize(n int64) Option {
	return func(e *Extractor) { e.maxSize = n }
}

// NewExtractor returns an extractor for plain text, Markdown, PDF, DOCX, and XLSX.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{formats: map[string]extractFunc{
		".txt":  extractPlain,
		".md":   extractPlain,
		".rst":  extractPlain,
		".text": extractPlain,
		".pdf":  extractPDF,
		".docx": extractDOCX,
		".xlsx": extractExcel,
	}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports reports whether ext (with or without the leading dot) has an extractor.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.formats[normalizeExt(ext)]
	return ok
}

// Extensions returns the supported extensions, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.formats))
	for ext := range e.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))
	if !e.Supports(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if e.maxSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat file: %w", err)
		}
		if info.Size() > e.maxSize {
			return "", fmt.Errorf("file is %d bytes, limit is %d", info.Size(), e.maxSize)
		}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content in the format named by ext.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.formats[normalizeExt(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return fn(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
