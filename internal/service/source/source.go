package source

import (
	"context"
	"errors"
	"fmt"

	"trendwatch/internal/domain/content"
)

// Query describes what a content source should fetch. Exactly one of
// Keyword or Subreddit is set for reddit; twitter uses Keyword only.
type Query struct {
	Keyword    string
	Subreddit  string
	TimeFilter string // hour, day, week, month, year, all
	Sort       string
	PageSize   int
}

// ContentSource fetches one page of posts per call. Implementations own
// the wire protocol; they perform no persistence and no retries.
type ContentSource interface {
	// Name returns the platform name
	Name() string

	// FetchPage fetches a single page of posts. cursor is the opaque
	// pagination token from the previous page, empty for the first page.
	FetchPage(ctx context.Context, q Query, cursor string) (*content.Page, error)

	// FetchComments fetches top-level comments for a single post
	FetchComments(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error)
}

// Error classification codes
const (
	CodeTimeout      = "timeout"
	CodeUnavailable  = "unavailable"
	CodeRateLimited  = "rate_limited"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeMalformed    = "malformed_response"
)

// Error is a classified failure from an external content source.
// Transient errors are retried by the crawler; permanent errors fail
// the job immediately.
type Error struct {
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient creates a retryable source error
func NewTransient(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Transient: true, Err: err}
}

// NewPermanent creates a non-retryable source error
func NewPermanent(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Transient: false, Err: err}
}

// IsTransient reports whether an error should be retried. Errors that
// are not classified source errors are treated as transient so that a
// flaky network path gets the retry budget rather than failing outright.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Transient
	}
	return true
}

// ErrorCode extracts the stable code from a classified error
func ErrorCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnavailable
}
