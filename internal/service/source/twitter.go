package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	twitter "github.com/g8rswimmer/go-twitter/v2"

	"trendwatch/internal/domain/content"
)

// TwitterConfig holds Twitter client configuration. BearerToken alone
// is enough for app-only search; the four OAuth1 credentials enable
// user-context requests.
type TwitterConfig struct {
	BearerToken       string
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	RequestTimeout    time.Duration
}

// TwitterSource fetches tweets matching a keyword via the v2 recent
// search endpoint. Twitter has no subreddit equivalent and its comment
// trees are not fetched separately; replies are counted in the post's
// engagement fields instead.
type TwitterSource struct {
	client  *twitter.Client
	limiter *Limiter
}

// bearerAuthorizer adds an app-only bearer token to outgoing requests
type bearerAuthorizer struct {
	token string
}

func (a bearerAuthorizer) Add(req *http.Request) {
	req.Header.Add("Authorization", "Bearer "+a.token)
}

// noopAuthorizer is used when the underlying HTTP client already signs
// requests (OAuth1 user context)
type noopAuthorizer struct{}

func (noopAuthorizer) Add(req *http.Request) {}

// NewTwitterSource creates a new Twitter API client
func NewTwitterSource(cfg TwitterConfig, limiter *Limiter) (*TwitterSource, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	var client *twitter.Client
	switch {
	case cfg.ConsumerKey != "" && cfg.AccessToken != "":
		oauthConfig := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
		token := oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret)
		httpClient := oauthConfig.Client(oauth1.NoContext, token)
		httpClient.Timeout = cfg.RequestTimeout

		client = &twitter.Client{
			Authorizer: noopAuthorizer{},
			Client:     httpClient,
			Host:       "https://api.twitter.com",
		}
	case cfg.BearerToken != "":
		client = &twitter.Client{
			Authorizer: bearerAuthorizer{token: cfg.BearerToken},
			Client:     &http.Client{Timeout: cfg.RequestTimeout},
			Host:       "https://api.twitter.com",
		}
	default:
		return nil, fmt.Errorf("twitter source requires a bearer token or OAuth1 credentials")
	}

	return &TwitterSource{client: client, limiter: limiter}, nil
}

// Name returns the platform name
func (s *TwitterSource) Name() string {
	return "twitter"
}

// FetchPage fetches one page of recent tweets matching the keyword
func (s *TwitterSource) FetchPage(ctx context.Context, q Query, cursor string) (*content.Page, error) {
	if q.Keyword == "" {
		return nil, NewPermanent(CodeNotFound, "twitter queries require a keyword", nil)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	pageSize := q.PageSize
	if pageSize < 10 {
		pageSize = 10 // recent search minimum
	}
	if pageSize > 100 {
		pageSize = 100
	}

	opts := twitter.TweetRecentSearchOpts{
		MaxResults: pageSize,
		NextToken:  cursor,
		TweetFields: []twitter.TweetField{
			twitter.TweetFieldCreatedAt,
			twitter.TweetFieldAuthorID,
			twitter.TweetFieldPublicMetrics,
		},
	}

	res, err := s.client.TweetRecentSearch(ctx, q.Keyword, opts)
	if err != nil {
		return nil, classifyTwitterError(err)
	}

	page := &content.Page{}
	if res.Meta != nil {
		page.NextCursor = res.Meta.NextToken
	}
	if res.Raw == nil {
		return page, nil
	}

	for _, tweet := range res.Raw.Tweets {
		if tweet == nil {
			continue
		}

		createdAt, _ := time.Parse(time.RFC3339, tweet.CreatedAt)

		var score, replies int
		if tweet.PublicMetrics != nil {
			score = tweet.PublicMetrics.Likes + tweet.PublicMetrics.Retweets
			replies = tweet.PublicMetrics.Replies
		}

		page.Posts = append(page.Posts, content.RawPost{
			ExternalID:   tweet.ID,
			Title:        tweet.Text,
			Author:       tweet.AuthorID,
			URL:          fmt.Sprintf("https://twitter.com/i/web/status/%s", tweet.ID),
			Score:        score,
			CommentCount: replies,
			CreatedAt:    createdAt.UTC(),
		})
	}

	return page, nil
}

// FetchComments is a no-op for Twitter; reply counts are already part
// of each tweet's public metrics
func (s *TwitterSource) FetchComments(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error) {
	return nil, nil
}

// classifyTwitterError maps go-twitter errors into the transient/
// permanent taxonomy
func classifyTwitterError(err error) error {
	var apiErr *twitter.ErrorResponse
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return NewTransient(CodeRateLimited, "Twitter API rate limit exceeded", err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return NewPermanent(CodeUnauthorized, "Twitter API rejected credentials", err)
		case apiErr.StatusCode >= 500:
			return NewTransient(CodeUnavailable, "Twitter API unavailable", err)
		default:
			return NewPermanent(CodeMalformed, fmt.Sprintf("Twitter API returned status %d", apiErr.StatusCode), err)
		}
	}

	return NewTransient(CodeTimeout, "request to Twitter API failed", err)
}
