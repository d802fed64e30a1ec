package parser

import (
	"fmt"
	"strings"
)

// ErrorKind classifies why no candidate block produced an intent.
type ErrorKind string

const (
	KindNoCandidate   ErrorKind = "no_candidate_found"
	KindMalformedJSON ErrorKind = "malformed_json"
	KindMissingFields ErrorKind = "missing_fields"
	KindLevelMismatch ErrorKind = "level_mismatch"
	KindUnknownIntent ErrorKind = "unknown_intent"
	KindClassMismatch ErrorKind = "class_mismatch"
	KindInvalidParams ErrorKind = "invalid_params"
	KindInputTooLarge ErrorKind = "input_too_large"
)

// stage orders kinds by how far validation got; with several failing
// candidates the most advanced failure is reported.
var stage = map[ErrorKind]int{
	KindNoCandidate:   0,
	KindMalformedJSON: 1,
	KindMissingFields: 2,
	KindLevelMismatch: 3,
	KindUnknownIntent: 4,
	KindClassMismatch: 5,
	KindInvalidParams: 6,
}

const maxErrorDetails = 5

// ParseError is returned when no candidate validates. It is recoverable:
// callers re-prompt the user instead of failing the request.
type ParseError struct {
	Kind    ErrorKind `json:"kind"`
	Details []string  `json:"details,omitempty"`
}

func (e *ParseError) Error() string {
	if len(e.Details) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Details, "; "))
}

func newError(kind ErrorKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Details: []string{fmt.Sprintf(format, args...)}}
}

// merge folds a candidate failure into the running result.
func merge(acc, next *ParseError) *ParseError {
	if acc == nil {
		return next
	}
	details := acc.Details
	if len(details) < maxErrorDetails {
		details = append(details, next.Details...)
		if len(details) > maxErrorDetails {
			details = details[:maxErrorDetails]
		}
	}
	kind := acc.Kind
	if stage[next.Kind] > stage[acc.Kind] {
		kind = next.Kind
	}
	return &ParseError{Kind: kind, Details: details}
}
