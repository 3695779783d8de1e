package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/domain/content"
	"trendwatch/internal/domain/job"
	"trendwatch/internal/service/source"
)

type fakeSource struct {
	fetchPage     func(ctx context.Context, q source.Query, cursor string) (*content.Page, error)
	fetchComments func(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error)
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchPage(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
	return f.fetchPage(ctx, q, cursor)
}

func (f *fakeSource) FetchComments(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error) {
	if f.fetchComments == nil {
		return nil, nil
	}
	return f.fetchComments(ctx, postExternalID, limit)
}

func testCrawlConfig() CrawlerConfig {
	return CrawlerConfig{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func newTestCrawler(src source.ContentSource) (*Crawler, *memContentStore) {
	store := newMemContentStore()
	crawler := NewCrawler(
		map[string]source.ContentSource{"fake": src},
		NewNormalizer(store),
		testCrawlConfig(),
	)
	return crawler, store
}

func crawlJob(params job.Params) job.Job {
	params.Platform = "fake"
	return job.Job{ID: "j-1", KeywordID: "kw-1", Kind: job.KindKeywordCrawl, Params: params}
}

func TestRunPaginatesUntilCursorExhausted(t *testing.T) {
	pages := map[string]content.Page{
		"":   {Posts: []content.RawPost{rawPost("a", 1, 0), rawPost("b", 1, 0)}, NextCursor: "p2"},
		"p2": {Posts: []content.RawPost{rawPost("c", 1, 0)}},
	}
	var cursors []string
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			cursors = append(cursors, cursor)
			p := pages[cursor]
			return &p, nil
		},
	}

	crawler, store := newTestCrawler(src)
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 100}), "golang", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "p2"}, cursors)
	assert.Equal(t, 3, summary["posts_fetched"])
	assert.Equal(t, 3, summary["posts_new"])
	assert.Len(t, store.posts, 3)
}

func TestRunStopsAtLimit(t *testing.T) {
	var calls int
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			calls++
			n := q.PageSize
			if n > 2 {
				n = 2
			}
			posts := make([]content.RawPost, n)
			for i := range posts {
				posts[i] = rawPost(string(rune('a'+calls*10+i)), 1, 0)
			}
			return &content.Page{Posts: posts, NextCursor: "more"}, nil
		},
	}

	crawler, _ := newTestCrawler(src)
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 4}), "golang", nil)
	require.NoError(t, err)

	assert.Equal(t, 4, summary["posts_fetched"])
	assert.Equal(t, 2, calls, "crawl must stop once the limit is reached")
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			return &content.Page{}, nil
		},
	}

	crawler, _ := newTestCrawler(src)
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10}), "golang", nil)
	require.NoError(t, err)

	assert.Zero(t, summary["posts_fetched"])
}

func TestRunUnknownPlatform(t *testing.T) {
	crawler, _ := newTestCrawler(&fakeSource{})

	j := job.Job{ID: "j-1", KeywordID: "kw-1", Params: job.Params{Platform: "myspace"}}
	_, err := crawler.Run(context.Background(), j, "golang", nil)

	require.Error(t, err)
	assert.False(t, source.IsTransient(err))
	assert.Equal(t, source.CodeNotFound, source.ErrorCode(err))
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	var calls int
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			calls++
			if calls < 3 {
				return nil, source.NewTransient(source.CodeUnavailable, "upstream 503", nil)
			}
			return &content.Page{Posts: []content.RawPost{rawPost("a", 1, 0)}}, nil
		},
	}

	crawler, _ := newTestCrawler(src)

	var attempts []int
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10}), "golang", func(n int) {
		attempts = append(attempts, n)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 1, summary["posts_fetched"])
}

func TestRunTransientExhaustion(t *testing.T) {
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			return nil, source.NewTransient(source.CodeRateLimited, "upstream 429", nil)
		},
	}

	crawler, _ := newTestCrawler(src)

	var attempts []int
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10}), "golang", func(n int) {
		attempts = append(attempts, n)
	})

	require.Error(t, err)
	assert.True(t, source.IsTransient(err))
	assert.Equal(t, source.CodeRateLimited, source.ErrorCode(err))
	assert.Equal(t, []int{1, 2, 3}, attempts, "attempt budget is three tries per page")
	assert.Zero(t, summary["posts_fetched"])
}

func TestRunPermanentFailsWithoutRetry(t *testing.T) {
	var calls int
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			calls++
			return nil, source.NewPermanent(source.CodeUnauthorized, "credentials rejected", nil)
		},
	}

	crawler, _ := newTestCrawler(src)

	var attempts []int
	_, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10}), "golang", func(n int) {
		attempts = append(attempts, n)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{1}, attempts)
}

func TestRunAttemptCounterResetsPerPage(t *testing.T) {
	var calls int
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			calls++
			// First page needs two tries, second page succeeds at once
			if cursor == "" && calls == 1 {
				return nil, source.NewTransient(source.CodeTimeout, "request timed out", nil)
			}
			if cursor == "" {
				return &content.Page{Posts: []content.RawPost{rawPost("a", 1, 0)}, NextCursor: "p2"}, nil
			}
			return &content.Page{Posts: []content.RawPost{rawPost("b", 1, 0)}}, nil
		},
	}

	crawler, _ := newTestCrawler(src)

	var attempts []int
	_, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10}), "golang", func(n int) {
		attempts = append(attempts, n)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 1}, attempts)
}

func TestRunCancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			// Cancellation lands while the first page is in flight; the
			// crawler only honors it at the next page boundary
			cancel()
			return &content.Page{Posts: []content.RawPost{rawPost("a", 1, 0)}, NextCursor: "p2"}, nil
		},
	}

	crawler, store := newTestCrawler(src)
	summary, err := crawler.Run(ctx, crawlJob(job.Params{Limit: 10}), "golang", nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary["posts_fetched"], "pages ingested before cancellation stay committed")
	assert.Len(t, store.posts, 1)
}

func TestRunIngestsComments(t *testing.T) {
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			return &content.Page{Posts: []content.RawPost{rawPost("a", 1, 0), rawPost("b", 1, 0)}}, nil
		},
		fetchComments: func(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error) {
			return []content.RawComment{
				{ExternalID: postExternalID + "-c1", Body: "top comment", Score: 5},
				{ExternalID: postExternalID + "-c2", Body: "reply", Score: 1},
			}, nil
		},
	}

	crawler, store := newTestCrawler(src)
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10, IncludeComments: true}), "golang", nil)
	require.NoError(t, err)

	assert.Equal(t, 4, summary["comments_new"])
	assert.Len(t, store.comments, 4)
}

func TestRunCommentFailureDoesNotFailCrawl(t *testing.T) {
	src := &fakeSource{
		fetchPage: func(ctx context.Context, q source.Query, cursor string) (*content.Page, error) {
			return &content.Page{Posts: []content.RawPost{rawPost("a", 1, 0)}}, nil
		},
		fetchComments: func(ctx context.Context, postExternalID string, limit int) ([]content.RawComment, error) {
			return nil, errors.New("comment endpoint unavailable")
		},
	}

	crawler, _ := newTestCrawler(src)
	summary, err := crawler.Run(context.Background(), crawlJob(job.Params{Limit: 10, IncludeComments: true}), "golang", nil)

	require.NoError(t, err)
	assert.Equal(t, 1, summary["posts_fetched"])
	assert.Zero(t, summary["comments_new"])
}
