package job

import (
	"errors"
	"time"
)

// Kind identifies the type of work a job performs
type Kind string

const (
	KindKeywordCrawl   Kind = "keyword_crawl"
	KindSubredditCrawl Kind = "subreddit_crawl"
	KindTrendAnalysis  Kind = "trend_analysis"
)

// Status identifies where a job is in its lifecycle
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Params holds the opaque parameters a job runs with
type Params struct {
	Platform        string `json:"platform,omitempty"`
	Subreddit       string `json:"subreddit,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	TimeFilter      string `json:"time_filter,omitempty"`
	Sort            string `json:"sort,omitempty"`
	IncludeComments bool   `json:"include_comments,omitempty"`
}

// Job represents a unit of asynchronous work with an observable lifecycle
type Job struct {
	ID          string
	KeywordID   string // empty for ad-hoc subreddit jobs
	Kind        Kind
	Status      Status
	Params      Params
	Attempts    int
	Error       string
	ErrorCode   string
	Summary     map[string]int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// State is the caller-visible view of a job, returned by status polling
type State struct {
	ID          string         `json:"id"`
	KeywordID   string         `json:"keyword_id,omitempty"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Summary     map[string]int `json:"summary,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StateOf projects a job into its caller-visible state
func StateOf(j Job) State {
	return State{
		ID:          j.ID,
		KeywordID:   j.KeywordID,
		Kind:        j.Kind,
		Status:      j.Status,
		Attempts:    j.Attempts,
		Error:       j.Error,
		ErrorCode:   j.ErrorCode,
		Summary:     j.Summary,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Stable error codes recorded on failed jobs
const (
	CodeTransient  = "transient_exhausted"
	CodePermanent  = "permanent"
	CodeTimeout    = "timeout"
	CodeCancelled  = "cancelled"
	CodeInternal   = "internal"
	CodeBadRequest = "bad_request"
)

// Common errors
var (
	// ErrConflict is returned when an active job of the same kind
	// already exists for the keyword
	ErrConflict = errors.New("an active job already exists for this keyword")

	// ErrInvalidState is returned when an operation is not valid for
	// the job's current status
	ErrInvalidState = errors.New("job is in a terminal state")

	// ErrNotFound is returned when no job exists with the given ID
	ErrNotFound = errors.New("job not found")
)
