// internal/server/handlers/job.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"trendwatch/internal/domain/content"
	"trendwatch/internal/domain/job"
)

// JobDispatcher is the dispatcher surface the HTTP layer depends on
type JobDispatcher interface {
	Submit(ctx context.Context, keywordID string, kind job.Kind, params job.Params) (string, error)
	Status(ctx context.Context, jobID string) (*job.State, error)
	Cancel(ctx context.Context, jobID string) error
	ListActive(ctx context.Context, limit int) ([]job.State, error)
}

// KeywordReader provides keyword lookups for the analyze endpoint
type KeywordReader interface {
	GetActiveKeywords(ctx context.Context) ([]content.Keyword, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	dispatcher JobDispatcher
	keywords   KeywordReader
}

// NewJobHandler creates a new job handler
func NewJobHandler(dispatcher JobDispatcher, keywords KeywordReader) *JobHandler {
	return &JobHandler{
		dispatcher: dispatcher,
		keywords:   keywords,
	}
}

// crawlRequest is the optional body for crawl submissions
type crawlRequest struct {
	Platform        string `json:"platform"`
	Subreddit       string `json:"subreddit"`
	KeywordID       string `json:"keyword_id"`
	Limit           int    `json:"limit"`
	TimeFilter      string `json:"time_filter"`
	Sort            string `json:"sort"`
	IncludeComments bool   `json:"include_comments"`
}

// StartCrawl submits a keyword crawl job
func (h *JobHandler) StartCrawl(w http.ResponseWriter, r *http.Request) {
	keywordID := chi.URLParam(r, "keywordID")
	if keywordID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing keyword ID", nil)
		return
	}

	var req crawlRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	jobID, err := h.dispatcher.Submit(r.Context(), keywordID, job.KindKeywordCrawl, job.Params{
		Platform:        req.Platform,
		Limit:           req.Limit,
		TimeFilter:      req.TimeFilter,
		Sort:            req.Sort,
		IncludeComments: req.IncludeComments,
	})
	if err != nil {
		if errors.Is(err, job.ErrConflict) {
			respondWithError(w, http.StatusConflict, "A crawl is already active for this keyword", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to submit crawl", err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// StartSubredditCrawl submits an ad-hoc subreddit crawl job. The
// keyword reference is optional; without one the crawl only ingests.
func (h *JobHandler) StartSubredditCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Subreddit == "" {
		respondWithError(w, http.StatusBadRequest, "Missing subreddit", nil)
		return
	}

	jobID, err := h.dispatcher.Submit(r.Context(), req.KeywordID, job.KindSubredditCrawl, job.Params{
		Subreddit:       req.Subreddit,
		Limit:           req.Limit,
		TimeFilter:      req.TimeFilter,
		Sort:            req.Sort,
		IncludeComments: req.IncludeComments,
	})
	if err != nil {
		if errors.Is(err, job.ErrConflict) {
			respondWithError(w, http.StatusConflict, "A crawl is already active for this keyword", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to submit crawl", err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// GetJob returns the current state of a job
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing job ID", nil)
		return
	}

	state, err := h.dispatcher.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Job not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to get job", err)
		return
	}

	respondWithJSON(w, http.StatusOK, state)
}

// ListActiveJobs returns non-terminal jobs
func (h *JobHandler) ListActiveJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	states, err := h.dispatcher.ListActive(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list jobs", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"jobs": states})
}

// CancelJob requests cancellation of a pending or running job
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing job ID", nil)
		return
	}

	if err := h.dispatcher.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "Job not found", nil)
		case errors.Is(err, job.ErrInvalidState):
			respondWithError(w, http.StatusConflict, "Job is already terminal", nil)
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to cancel job", err)
		}
		return
	}

	state, err := h.dispatcher.Status(r.Context(), jobID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get job", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": string(state.Status)})
}

// analyzeRequest is the body for analysis submissions
type analyzeRequest struct {
	KeywordIDs []string `json:"keyword_ids"`
}

// Analyze submits trend analysis jobs for the given keywords, or for
// every active keyword when none are given
func (h *JobHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	keywordIDs := req.KeywordIDs
	if len(keywordIDs) == 0 {
		keywords, err := h.keywords.GetActiveKeywords(r.Context())
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to list keywords", err)
			return
		}
		for _, kw := range keywords {
			keywordIDs = append(keywordIDs, kw.ID)
		}
	}

	jobIDs := make([]string, 0, len(keywordIDs))
	for _, id := range keywordIDs {
		jobID, err := h.dispatcher.Submit(r.Context(), id, job.KindTrendAnalysis, job.Params{})
		if err != nil {
			// An active analysis for this keyword already covers it
			if errors.Is(err, job.ErrConflict) {
				continue
			}
			respondWithError(w, http.StatusInternalServerError, "Failed to submit analysis", err)
			return
		}
		jobIDs = append(jobIDs, jobID)
	}

	resp := map[string]interface{}{"job_ids": jobIDs}
	if len(jobIDs) > 0 {
		resp["job_id"] = jobIDs[0]
	}

	respondWithJSON(w, http.StatusAccepted, resp)
}
