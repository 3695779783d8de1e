package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trendwatch/internal/domain/content"
)

// ContentStore defines persistence for normalized posts and comments.
// Upserts are keyed by (keyword_id, external_id) for posts and
// (post_id, external_id) for comments; only the mutable engagement
// fields change when a row already exists.
type ContentStore interface {
	UpsertPost(ctx context.Context, p content.Post) (id string, inserted bool, err error)
	UpsertComment(ctx context.Context, c content.Comment) (inserted bool, err error)
}

// Result totals one normalization pass
type Result struct {
	PostsNew        int
	PostsUpdated    int
	CommentsNew     int
	CommentsUpdated int
}

// Normalizer converts raw external records into canonical entities and
// deduplicates them by external ID. Re-running the same batch is
// idempotent: it produces no duplicate rows and converges to the same
// field values, which is what makes crawl retries safe after partial
// failure.
type Normalizer struct {
	store ContentStore
}

// NewNormalizer creates a new normalizer
func NewNormalizer(store ContentStore) *Normalizer {
	return &Normalizer{store: store}
}

// UpsertPosts normalizes a batch of raw posts for a keyword. It returns
// the canonical post ID for each external ID so callers can attach
// comments fetched afterwards.
func (n *Normalizer) UpsertPosts(ctx context.Context, keywordID, platform string, raws []content.RawPost) (map[string]string, Result, error) {
	ids := make(map[string]string, len(raws))
	var res Result

	now := time.Now().UTC()
	for _, raw := range raws {
		if raw.ExternalID == "" {
			continue
		}

		p := content.Post{
			ID:                uuid.New().String(),
			KeywordID:         keywordID,
			ExternalID:        raw.ExternalID,
			Platform:          platform,
			Title:             raw.Title,
			Body:              raw.Body,
			Author:            raw.Author,
			Subreddit:         raw.Subreddit,
			URL:               raw.URL,
			Score:             raw.Score,
			CommentCount:      raw.CommentCount,
			ExternalCreatedAt: raw.CreatedAt,
			IngestedAt:        now,
		}

		id, inserted, err := n.store.UpsertPost(ctx, p)
		if err != nil {
			return ids, res, fmt.Errorf("error upserting post %s: %w", raw.ExternalID, err)
		}

		ids[raw.ExternalID] = id
		if inserted {
			res.PostsNew++
		} else {
			res.PostsUpdated++
		}
	}

	return ids, res, nil
}

// UpsertComments normalizes a batch of raw comments belonging to one post
func (n *Normalizer) UpsertComments(ctx context.Context, postID string, raws []content.RawComment) (Result, error) {
	var res Result

	for _, raw := range raws {
		if raw.ExternalID == "" {
			continue
		}

		c := content.Comment{
			ID:                uuid.New().String(),
			PostID:            postID,
			ExternalID:        raw.ExternalID,
			Body:              raw.Body,
			Author:            raw.Author,
			Score:             raw.Score,
			ExternalCreatedAt: raw.CreatedAt,
		}

		inserted, err := n.store.UpsertComment(ctx, c)
		if err != nil {
			return res, fmt.Errorf("error upserting comment %s: %w", raw.ExternalID, err)
		}

		if inserted {
			res.CommentsNew++
		} else {
			res.CommentsUpdated++
		}
	}

	return res, nil
}
