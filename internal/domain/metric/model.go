package metric

import (
	"time"
)

// Metric is one computed score row for a single post within one
// analysis run. Rows are append-only; history is retained for
// trend-over-time queries.
type Metric struct {
	ID              string
	KeywordID       string
	PostID          string
	EngagementScore float64
	ImportanceScore float64
	ComputedAt      time.Time
}

// Summary is the per-keyword aggregate produced by one analysis run
type Summary struct {
	ID             string    `json:"id"`
	KeywordID      string    `json:"keyword_id"`
	PostCount      int       `json:"post_count"`
	MeanEngagement float64   `json:"mean_engagement"`
	MeanImportance float64   `json:"mean_importance"`
	TrendVelocity  float64   `json:"trend_velocity"`
	ComputedAt     time.Time `json:"computed_at"`
}
