package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies retrieval pipeline failures.
type ErrorKind string

const (
	KindConfiguration        ErrorKind = "configuration"
	KindRetrieverUnavailable ErrorKind = "retriever_unavailable"
	KindNoCandidates         ErrorKind = "no_candidates"
	KindRerankerFailure      ErrorKind = "reranker_failure"
	KindFusionInvariant      ErrorKind = "fusion_invariant_violation"
)

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrConfiguration        = &RetrievalError{Kind: KindConfiguration}
	ErrRetrieverUnavailable = &RetrievalError{Kind: KindRetrieverUnavailable}
	ErrNoCandidates         = &RetrievalError{Kind: KindNoCandidates}
	ErrRerankerFailure      = &RetrievalError{Kind: KindRerankerFailure}
	ErrFusionInvariant      = &RetrievalError{Kind: KindFusionInvariant}
)

// RetrievalError is the typed error returned by every stage of the pipeline.
type RetrievalError struct {
	Kind       ErrorKind
	Message    string
	Provenance Provenance // set for retriever failures
	Timeout    bool
	Cause      error
}

func (e *RetrievalError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provenance != "" {
		fmt.Fprintf(&b, " [%s]", e.Provenance)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a RetrievalError of the same kind.
func (e *RetrievalError) Is(target error) bool {
	t, ok := target.(*RetrievalError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewConfigurationError reports an invalid RetrievalConfig.
func NewConfigurationError(format string, args ...interface{}) *RetrievalError {
	return &RetrievalError{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewRetrieverUnavailable reports an index or store failure for one retriever.
func NewRetrieverUnavailable(p Provenance, timeout bool, cause error) *RetrievalError {
	msg := "retriever failed"
	if timeout {
		msg = "retriever timed out"
	}
	return &RetrievalError{Kind: KindRetrieverUnavailable, Message: msg, Provenance: p, Timeout: timeout, Cause: cause}
}

// NewNoCandidatesError reports that every enabled retriever failed.
func NewNoCandidatesError(causes ...error) *RetrievalError {
	return &RetrievalError{
		Kind:    KindNoCandidates,
		Message: "all enabled retrievers failed",
		Cause:   errors.Join(causes...),
	}
}

// NewRerankerFailure reports a fatal reranker error.
func NewRerankerFailure(message string, timeout bool, cause error) *RetrievalError {
	return &RetrievalError{Kind: KindRerankerFailure, Message: message, Timeout: timeout, Cause: cause}
}

// NewFusionInvariantViolation reports an internal fusion bug.
func NewFusionInvariantViolation(format string, args ...interface{}) *RetrievalError {
	return &RetrievalError{Kind: KindFusionInvariant, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a RetrievalError.
func KindOf(err error) ErrorKind {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
