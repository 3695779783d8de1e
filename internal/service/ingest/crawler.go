package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"trendwatch/internal/domain/content"
	"trendwatch/internal/domain/job"
	"trendwatch/internal/observability"
	"trendwatch/internal/service/source"
)

// CrawlerConfig contains configuration for the crawler
type CrawlerConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	DefaultLimit int
	CommentLimit int
}

// Crawler executes one crawl job: it paginates through the external
// source, retries transient failures with exponential backoff, and
// hands each fetched page to the normalizer. Cancellation is observed
// cooperatively between pages; posts already normalized stay committed.
type Crawler struct {
	sources    map[string]source.ContentSource
	normalizer *Normalizer
	config     CrawlerConfig
}

// NewCrawler creates a new crawler over the given content sources,
// keyed by platform name
func NewCrawler(sources map[string]source.ContentSource, normalizer *Normalizer, config CrawlerConfig) *Crawler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = 10 * time.Second
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 100
	}
	if config.CommentLimit <= 0 {
		config.CommentLimit = 50
	}

	return &Crawler{
		sources:    sources,
		normalizer: normalizer,
		config:     config,
	}
}

// Run executes a crawl job to completion. keywordText is empty for
// ad-hoc subreddit jobs. onAttempt is called with the current try
// number before every fetch so the job row reflects retry progress.
func (c *Crawler) Run(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
	platform := j.Params.Platform
	if platform == "" {
		platform = "reddit"
	}

	src, ok := c.sources[platform]
	if !ok {
		return nil, source.NewPermanent(source.CodeNotFound, fmt.Sprintf("unknown platform %q", platform), nil)
	}

	q := source.Query{
		Keyword:    keywordText,
		Subreddit:  j.Params.Subreddit,
		TimeFilter: j.Params.TimeFilter,
		Sort:       j.Params.Sort,
	}

	limit := j.Params.Limit
	if limit <= 0 {
		limit = c.config.DefaultLimit
	}

	summary := map[string]int{
		"posts_fetched": 0,
		"posts_new":     0,
		"posts_updated": 0,
	}

	cursor := ""
	for summary["posts_fetched"] < limit {
		// Cancellation checkpoint: between paginated fetches only
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		q.PageSize = limit - summary["posts_fetched"]

		page, err := c.fetchWithRetry(ctx, src, q, cursor, onAttempt)
		if err != nil {
			return summary, err
		}

		if len(page.Posts) == 0 {
			break
		}

		ids, res, err := c.normalizer.UpsertPosts(ctx, j.KeywordID, platform, page.Posts)
		if err != nil {
			return summary, err
		}

		summary["posts_fetched"] += len(page.Posts)
		summary["posts_new"] += res.PostsNew
		summary["posts_updated"] += res.PostsUpdated
		observability.PostsIngested.WithLabelValues(platform, "new").Add(float64(res.PostsNew))
		observability.PostsIngested.WithLabelValues(platform, "updated").Add(float64(res.PostsUpdated))

		if j.Params.IncludeComments {
			c.ingestComments(ctx, src, page.Posts, ids, summary)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return summary, nil
}

// fetchWithRetry fetches one page, retrying transient failures up to
// the attempt budget with exponential backoff. Non-transient failures
// and context cancellation return immediately.
func (c *Crawler) fetchWithRetry(ctx context.Context, src source.ContentSource, q source.Query, cursor string, onAttempt func(int)) (*content.Page, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}

		page, err := src.FetchPage(ctx, q, cursor)
		if err == nil {
			observability.SourceRequests.WithLabelValues(src.Name(), "ok").Inc()
			return page, nil
		}
		observability.SourceRequests.WithLabelValues(src.Name(), "error").Inc()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !source.IsTransient(err) {
			return nil, err
		}

		lastErr = err
		if attempt == c.config.MaxAttempts {
			break
		}

		delay := c.config.BackoffBase << (attempt - 1)
		if delay > c.config.BackoffCap {
			delay = c.config.BackoffCap
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// ingestComments fetches and normalizes top-level comments for each
// post in a page. Comment failures shorten enrichment but never fail
// the crawl.
func (c *Crawler) ingestComments(ctx context.Context, src source.ContentSource, posts []content.RawPost, ids map[string]string, summary map[string]int) {
	for _, raw := range posts {
		if ctx.Err() != nil {
			return
		}

		postID, ok := ids[raw.ExternalID]
		if !ok {
			continue
		}

		comments, err := src.FetchComments(ctx, raw.ExternalID, c.config.CommentLimit)
		if err != nil {
			log.Printf("Error fetching comments for post %s: %v", raw.ExternalID, err)
			continue
		}
		if len(comments) == 0 {
			continue
		}

		res, err := c.normalizer.UpsertComments(ctx, postID, comments)
		if err != nil {
			log.Printf("Error upserting comments for post %s: %v", raw.ExternalID, err)
			continue
		}

		summary["comments_new"] += res.CommentsNew
		summary["comments_updated"] += res.CommentsUpdated
	}
}
