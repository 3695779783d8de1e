// internal/server/handlers/trend.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trendwatch/internal/domain/metric"
	"trendwatch/internal/observability"
)

// SummaryReader reads persisted metric summaries; the fallback path
// when the cache misses
type SummaryReader interface {
	LatestSummary(ctx context.Context, keywordID string) (*metric.Summary, error)
	ListSummaries(ctx context.Context, keywordID string, from, to time.Time) ([]metric.Summary, error)
}

// SummaryCache is the cache surface the trend handler depends on
type SummaryCache interface {
	Get(keywordID string) (*metric.Summary, bool)
	Put(keywordID string, s metric.Summary)
	Invalidate(keywordID string)
}

// TrendHandler serves computed trend metrics, cache-first
type TrendHandler struct {
	cache   SummaryCache
	metrics SummaryReader
}

// NewTrendHandler creates a new trend handler
func NewTrendHandler(cache SummaryCache, metrics SummaryReader) *TrendHandler {
	return &TrendHandler{
		cache:   cache,
		metrics: metrics,
	}
}

// GetTrend returns the latest metric summary for a keyword. Cache
// misses fall back to the persisted summary rows and re-warm the
// cache; the cache is never a consistency requirement on this path.
func (h *TrendHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	keywordID := chi.URLParam(r, "keywordID")
	if keywordID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing keyword ID", nil)
		return
	}

	if timeRange := r.URL.Query().Get("time_range"); timeRange != "" {
		h.getTrendHistory(w, r, keywordID, timeRange)
		return
	}

	if s, ok := h.cache.Get(keywordID); ok {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		respondWithJSON(w, http.StatusOK, s)
		return
	}
	observability.CacheLookups.WithLabelValues("miss").Inc()

	s, err := h.metrics.LatestSummary(r.Context(), keywordID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get trend", err)
		return
	}
	if s == nil {
		respondWithError(w, http.StatusNotFound, "No metrics computed for this keyword", nil)
		return
	}

	h.cache.Put(keywordID, *s)
	respondWithJSON(w, http.StatusOK, s)
}

// getTrendHistory returns the summary series over a time range
func (h *TrendHandler) getTrendHistory(w http.ResponseWriter, r *http.Request, keywordID, timeRange string) {
	duration, err := time.ParseDuration(timeRange)
	if err != nil || duration <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid time range", err)
		return
	}

	now := time.Now().UTC()
	summaries, err := h.metrics.ListSummaries(r.Context(), keywordID, now.Add(-duration), now)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get trend history", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"summaries": summaries})
}

// InvalidateTrend drops the cached summary for a keyword. Used when
// posts are modified outside the normal crawl flow.
func (h *TrendHandler) InvalidateTrend(w http.ResponseWriter, r *http.Request) {
	keywordID := chi.URLParam(r, "keywordID")
	if keywordID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing keyword ID", nil)
		return
	}

	h.cache.Invalidate(keywordID)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	response := map[string]string{"error": message}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
