// internal/adapter/storage/metric_store.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trendwatch/internal/domain/metric"
)

// MetricStore implements append-only storage for computed metrics.
// Rows are never deleted here; retention is an external concern.
type MetricStore struct {
	db *pgxpool.Pool
}

// NewMetricStore creates a new metric store
func NewMetricStore(db *pgxpool.Pool) *MetricStore {
	return &MetricStore{
		db: db,
	}
}

// SaveMetrics inserts the per-post metric rows of one analysis run
func (s *MetricStore) SaveMetrics(ctx context.Context, rows []metric.Metric) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO metrics (
			id, keyword_id, post_id, engagement_score, importance_score, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, m := range rows {
		batch.Queue(query, m.ID, m.KeywordID, m.PostID, m.EngagementScore, m.ImportanceScore, m.ComputedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("error inserting metric row: %w", err)
		}
	}

	return nil
}

// SaveSummary inserts one keyword-level summary row
func (s *MetricStore) SaveSummary(ctx context.Context, sum metric.Summary) error {
	query := `
		INSERT INTO metric_summaries (
			id, keyword_id, post_count, mean_engagement, mean_importance,
			trend_velocity, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.Exec(ctx, query,
		sum.ID, sum.KeywordID, sum.PostCount, sum.MeanEngagement, sum.MeanImportance,
		sum.TrendVelocity, sum.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting summary: %w", err)
	}

	return nil
}

// LatestSummary returns the most recent summary for a keyword, or nil
// if the keyword has never been analyzed
func (s *MetricStore) LatestSummary(ctx context.Context, keywordID string) (*metric.Summary, error) {
	query := `
		SELECT id, keyword_id, post_count, mean_engagement, mean_importance,
			trend_velocity, computed_at
		FROM metric_summaries
		WHERE keyword_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`

	var sum metric.Summary
	err := s.db.QueryRow(ctx, query, keywordID).Scan(
		&sum.ID, &sum.KeywordID, &sum.PostCount, &sum.MeanEngagement, &sum.MeanImportance,
		&sum.TrendVelocity, &sum.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying latest summary: %w", err)
	}

	return &sum, nil
}

// ListSummaries returns the summary series for a keyword within the
// time range, oldest first, for trend-over-time queries
func (s *MetricStore) ListSummaries(ctx context.Context, keywordID string, from, to time.Time) ([]metric.Summary, error) {
	query := `
		SELECT id, keyword_id, post_count, mean_engagement, mean_importance,
			trend_velocity, computed_at
		FROM metric_summaries
		WHERE keyword_id = $1
		AND computed_at >= $2
		AND computed_at <= $3
		ORDER BY computed_at ASC
	`

	rows, err := s.db.Query(ctx, query, keywordID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error querying summaries: %w", err)
	}
	defer rows.Close()

	var summaries []metric.Summary
	for rows.Next() {
		var sum metric.Summary
		err := rows.Scan(
			&sum.ID, &sum.KeywordID, &sum.PostCount, &sum.MeanEngagement, &sum.MeanImportance,
			&sum.TrendVelocity, &sum.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning summary: %w", err)
		}
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}

	return summaries, nil
}
