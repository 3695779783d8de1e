package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"trendwatch/internal/domain/content"
)

// RedditSource fetches posts and comments from the Reddit JSON API
type RedditSource struct {
	httpClient *http.Client
	limiter    *Limiter
	baseURL    string
	userAgent  string
}

// redditPost is a post as returned by the Reddit API
type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Created     float64 `json:"created_utc"`
}

// redditListing is the envelope Reddit wraps listings in
type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// redditComment is a comment as returned by the Reddit API
type redditComment struct {
	ID      string  `json:"id"`
	Body    string  `json:"body"`
	Author  string  `json:"author"`
	Score   int     `json:"score"`
	Created float64 `json:"created_utc"`
}

// RedditConfig holds Reddit client configuration
type RedditConfig struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
}

// NewRedditSource creates a new Reddit API client
func NewRedditSource(cfg RedditConfig, limiter *Limiter) *RedditSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "trendwatch/1.0"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &RedditSource{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
	}
}

// Name returns the platform name
func (c *RedditSource) Name() string {
	return "reddit"
}

// FetchPage fetches a single page of posts for a keyword search or a
// subreddit listing, depending on which query field is set
func (c *RedditSource) FetchPage(ctx context.Context, q Query, cursor string) (*content.Page, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	endpoint, err := c.listingURL(q, cursor)
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := c.getJSON(ctx, endpoint, &listing); err != nil {
		return nil, err
	}

	page := &content.Page{NextCursor: listing.Data.After}
	for _, child := range listing.Data.Children {
		// Listings can interleave non-post kinds; skip them
		if child.Kind != "t3" {
			continue
		}

		var rp redditPost
		if err := json.Unmarshal(child.Data, &rp); err != nil {
			return nil, NewPermanent(CodeMalformed, "unexpected post shape in listing", err)
		}

		postURL := rp.URL
		if rp.Permalink != "" {
			postURL = c.baseURL + rp.Permalink
		}

		page.Posts = append(page.Posts, content.RawPost{
			ExternalID:   rp.ID,
			Title:        rp.Title,
			Body:         rp.SelfText,
			Author:       rp.Author,
			Subreddit:    rp.Subreddit,
			URL:          postURL,
			Score:        rp.Score,
			CommentCount: rp.NumComments,
			CreatedAt:    time.Unix(int64(rp.Created), 0).UTC(),
		})
	}

	return page, nil
}

// FetchComments fetches top-level comments for a post
func (c *RedditSource) FetchComments(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}

	endpoint := fmt.Sprintf("%s/comments/%s.json?limit=%d&depth=1", c.baseURL, postExternalID, limit)

	// The comments endpoint returns a two-element array: the post
	// listing followed by the comment listing
	var listings []redditListing
	if err := c.getJSON(ctx, endpoint, &listings); err != nil {
		return nil, err
	}

	if len(listings) < 2 {
		return nil, nil
	}

	var comments []content.RawComment
	for _, child := range listings[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}

		var rc redditComment
		if err := json.Unmarshal(child.Data, &rc); err != nil {
			return nil, NewPermanent(CodeMalformed, "unexpected comment shape in listing", err)
		}

		comments = append(comments, content.RawComment{
			ExternalID:       rc.ID,
			ParentExternalID: postExternalID,
			Body:             rc.Body,
			Author:           rc.Author,
			Score:            rc.Score,
			CreatedAt:        time.Unix(int64(rc.Created), 0).UTC(),
		})
	}

	return comments, nil
}

// listingURL builds the listing endpoint for a query
func (c *RedditSource) listingURL(q Query, cursor string) (string, error) {
	sort := q.Sort
	if sort == "" {
		sort = "top"
	}
	timeFilter := q.TimeFilter
	if timeFilter == "" {
		timeFilter = "day"
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", pageSize))
	params.Set("t", timeFilter)
	if cursor != "" {
		params.Set("after", cursor)
	}

	switch {
	case q.Subreddit != "":
		return fmt.Sprintf("%s/r/%s/%s.json?%s", c.baseURL, q.Subreddit, sort, params.Encode()), nil
	case q.Keyword != "":
		params.Set("q", q.Keyword)
		params.Set("sort", sort)
		return fmt.Sprintf("%s/search.json?%s", c.baseURL, params.Encode()), nil
	default:
		return "", NewPermanent(CodeNotFound, "query has neither keyword nor subreddit", nil)
	}
}

// getJSON performs a GET request and decodes the response, classifying
// failures into the transient/permanent taxonomy
func (c *RedditSource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewPermanent(CodeMalformed, "failed to create request", err)
	}

	// Reddit throttles requests without a descriptive User-Agent
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewTransient(CodeTimeout, "request to Reddit API failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewTransient(CodeRateLimited, "Reddit API rate limit exceeded", nil)
	case resp.StatusCode == http.StatusNotFound:
		return NewPermanent(CodeNotFound, "subreddit or post not found", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewPermanent(CodeUnauthorized, fmt.Sprintf("Reddit API rejected request with status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return NewTransient(CodeUnavailable, fmt.Sprintf("Reddit API returned status %d", resp.StatusCode), nil)
	default:
		return NewPermanent(CodeMalformed, fmt.Sprintf("Reddit API returned status %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewTransient(CodeMalformed, "failed to decode Reddit API response", err)
	}

	return nil
}
