// internal/adapter/storage/job_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trendwatch/internal/domain/job"
)

// JobStore implements durable storage for job rows
type JobStore struct {
	db *pgxpool.Pool
}

// NewJobStore creates a new job store
func NewJobStore(db *pgxpool.Pool) *JobStore {
	return &JobStore{
		db: db,
	}
}

// Create inserts a new pending job row
func (s *JobStore) Create(ctx context.Context, j job.Job) error {
	query := `
		INSERT INTO jobs (
			id, keyword_id, kind, status, params, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	paramsJSON, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("error marshaling job params: %w", err)
	}

	var keywordID *string
	if j.KeywordID != "" {
		keywordID = &j.KeywordID
	}

	_, err = s.db.Exec(ctx, query,
		j.ID, keywordID, string(j.Kind), string(j.Status), paramsJSON, j.Attempts, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting job: %w", err)
	}

	return nil
}

// Get retrieves a job by ID; returns (nil, nil) when no row exists
func (s *JobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	query := `
		SELECT id, keyword_id, kind, status, params, attempts,
			error_code, error_message, summary,
			created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1
	`

	j, err := s.scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying job: %w", err)
	}

	return j, nil
}

// FindActive returns the non-terminal job of the given kind for a
// keyword, or nil if none exists
func (s *JobStore) FindActive(ctx context.Context, keywordID string, kind job.Kind) (*job.Job, error) {
	query := `
		SELECT id, keyword_id, kind, status, params, attempts,
			error_code, error_message, summary,
			created_at, started_at, completed_at
		FROM jobs
		WHERE keyword_id = $1
		AND kind = $2
		AND status IN ('pending', 'running')
		LIMIT 1
	`

	j, err := s.scanJob(s.db.QueryRow(ctx, query, keywordID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying active job: %w", err)
	}

	return j, nil
}

// ListActive returns non-terminal jobs, oldest first
func (s *JobStore) ListActive(ctx context.Context, limit int) ([]job.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, keyword_id, kind, status, params, attempts,
			error_code, error_message, summary,
			created_at, started_at, completed_at
		FROM jobs
		WHERE status IN ('pending', 'running')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning job: %w", err)
		}
		jobs = append(jobs, *j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// MarkRunning transitions a pending job to running
func (s *JobStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := s.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("error marking job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrInvalidState
	}

	return nil
}

// SetAttempts records the current retry attempt on the job row
func (s *JobStore) SetAttempts(ctx context.Context, id string, attempts int) error {
	query := `UPDATE jobs SET attempts = $2 WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, id, attempts); err != nil {
		return fmt.Errorf("error updating attempts: %w", err)
	}

	return nil
}

// MarkTerminal writes a terminal status with its error code and result
// summary. The status guard keeps concurrent transitions from
// overwriting an already-terminal row.
func (s *JobStore) MarkTerminal(ctx context.Context, id string, status job.Status, code, message string, summary map[string]int, at time.Time) error {
	query := `
		UPDATE jobs
		SET status = $2, error_code = $3, error_message = $4, summary = $5, completed_at = $6
		WHERE id = $1 AND status IN ('pending', 'running')
	`

	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("error marshaling summary: %w", err)
		}
	}

	tag, err := s.db.Exec(ctx, query, id, string(status), code, message, summaryJSON, at)
	if err != nil {
		return fmt.Errorf("error marking job terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrInvalidState
	}

	return nil
}

// scanJob scans one job row
func (s *JobStore) scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var keywordID, errorCode, errorMessage *string
	var kind, status string
	var paramsJSON, summaryJSON []byte

	err := row.Scan(
		&j.ID, &keywordID, &kind, &status, &paramsJSON, &j.Attempts,
		&errorCode, &errorMessage, &summaryJSON,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if keywordID != nil {
		j.KeywordID = *keywordID
	}
	if errorCode != nil {
		j.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		j.Error = *errorMessage
	}
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
			return nil, fmt.Errorf("error unmarshaling job params: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &j.Summary); err != nil {
			return nil, fmt.Errorf("error unmarshaling job summary: %w", err)
		}
	}

	return &j, nil
}
