// internal/adapter/storage/content_store.go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"trendwatch/internal/domain/content"
)

// ContentStore implements storage for normalized posts and comments
type ContentStore struct {
	db *pgxpool.Pool
}

// NewContentStore creates a new content store
func NewContentStore(db *pgxpool.Pool) *ContentStore {
	return &ContentStore{
		db: db,
	}
}

// UpsertPost inserts a post or, when a row with the same
// (keyword_id, external_id) exists, refreshes only its mutable
// engagement fields. Identity and timestamps are left untouched on
// conflict. It returns the canonical row ID and whether a new row was
// inserted.
func (s *ContentStore) UpsertPost(ctx context.Context, p content.Post) (string, bool, error) {
	// The keyword-scoped unique constraint treats NULLs as distinct,
	// so keywordless rows go through their own arbiter index
	if p.KeywordID == "" {
		return s.upsertAdhocPost(ctx, p)
	}

	query := `
		INSERT INTO posts (
			id, keyword_id, external_id, platform, title, body, author,
			subreddit, url, score, comment_count, external_created_at, ingested_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (keyword_id, external_id) DO UPDATE
		SET
			score = $10,
			comment_count = $11
		RETURNING id, (xmax = 0) AS inserted
	`

	var id string
	var inserted bool
	err := s.db.QueryRow(ctx, query,
		p.ID, p.KeywordID, p.ExternalID, p.Platform, p.Title, p.Body, p.Author,
		p.Subreddit, p.URL, p.Score, p.CommentCount, p.ExternalCreatedAt, p.IngestedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("error upserting post: %w", err)
	}

	return id, inserted, nil
}

// upsertAdhocPost deduplicates posts ingested without a keyword, as by
// ad-hoc subreddit crawls, on (platform, external_id)
func (s *ContentStore) upsertAdhocPost(ctx context.Context, p content.Post) (string, bool, error) {
	query := `
		INSERT INTO posts (
			id, external_id, platform, title, body, author,
			subreddit, url, score, comment_count, external_created_at, ingested_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (platform, external_id) WHERE keyword_id IS NULL DO UPDATE
		SET
			score = $9,
			comment_count = $10
		RETURNING id, (xmax = 0) AS inserted
	`

	var id string
	var inserted bool
	err := s.db.QueryRow(ctx, query,
		p.ID, p.ExternalID, p.Platform, p.Title, p.Body, p.Author,
		p.Subreddit, p.URL, p.Score, p.CommentCount, p.ExternalCreatedAt, p.IngestedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("error upserting post: %w", err)
	}

	return id, inserted, nil
}

// UpsertComment inserts a comment or refreshes the score of the
// existing (post_id, external_id) row
func (s *ContentStore) UpsertComment(ctx context.Context, c content.Comment) (bool, error) {
	query := `
		INSERT INTO comments (
			id, post_id, external_id, body, author, score, external_created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (post_id, external_id) DO UPDATE
		SET score = $6
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.db.QueryRow(ctx, query,
		c.ID, c.PostID, c.ExternalID, c.Body, c.Author, c.Score, c.ExternalCreatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("error upserting comment: %w", err)
	}

	return inserted, nil
}

// ListPostsByKeyword returns the post corpus for one keyword, newest
// first. A zero since returns the full corpus.
func (s *ContentStore) ListPostsByKeyword(ctx context.Context, keywordID string, since time.Time) ([]content.Post, error) {
	query := `
		SELECT id, keyword_id, external_id, platform, title, body, author,
			subreddit, url, score, comment_count, external_created_at, ingested_at
		FROM posts
		WHERE keyword_id = $1
		AND ($2::timestamptz IS NULL OR external_created_at >= $2)
		ORDER BY external_created_at DESC
	`

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}

	rows, err := s.db.Query(ctx, query, keywordID, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("error querying posts: %w", err)
	}
	defer rows.Close()

	var posts []content.Post
	for rows.Next() {
		var p content.Post
		var keyword *string

		err := rows.Scan(
			&p.ID, &keyword, &p.ExternalID, &p.Platform, &p.Title, &p.Body, &p.Author,
			&p.Subreddit, &p.URL, &p.Score, &p.CommentCount, &p.ExternalCreatedAt, &p.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}

		if keyword != nil {
			p.KeywordID = *keyword
		}
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	return posts, nil
}
