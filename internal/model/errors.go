package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification of an engine failure.
type ErrorKind string

// Supported error kinds.
const (
	KindSourceUnavailable  ErrorKind = "source_unavailable"
	KindRateLimited        ErrorKind = "rate_limited"
	KindScoringUnavailable ErrorKind = "scoring_unavailable"
	KindAllQueriesFailed   ErrorKind = "all_queries_failed"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindAlreadyRunning     ErrorKind = "already_running"
	KindUnknownSubject     ErrorKind = "unknown_subject"
	KindInternal           ErrorKind = "internal"
)

// Collaborator failures. Adapters wrap these so callers can use errors.Is.
var (
	ErrSourceUnavailable  = errors.New("news source unavailable")
	ErrRateLimited        = errors.New("news source rate limited")
	ErrScoringUnavailable = errors.New("scoring unavailable")
)

// Error is a failure surfaced from resolve or a scheduled job.
type Error struct {
	Kind       ErrorKind
	SubjectKey string
	Err        error
}

func (e *Error) Error() string {
	if e.SubjectKey == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.SubjectKey, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, classifying bare collaborator sentinels too.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrScoringUnavailable):
		return KindScoringUnavailable
	}
	return KindInternal
}
