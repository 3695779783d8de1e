package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/domain/content"
	"trendwatch/internal/domain/job"
	"trendwatch/internal/domain/metric"
	"trendwatch/internal/service/source"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]job.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]job.Job)}
}

func (s *memJobStore) Create(ctx context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *memJobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (s *memJobStore) FindActive(ctx context.Context, keywordID string, kind job.Kind) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.KeywordID == keywordID && j.Kind == kind && !j.Status.Terminal() {
			j := j
			return &j, nil
		}
	}
	return nil, nil
}

func (s *memJobStore) ListActive(ctx context.Context, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []job.Job
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memJobStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != job.StatusPending {
		return job.ErrInvalidState
	}
	j.Status = job.StatusRunning
	j.StartedAt = &at
	s.jobs[id] = j
	return nil
}

func (s *memJobStore) SetAttempts(ctx context.Context, id string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	j.Attempts = attempts
	s.jobs[id] = j
	return nil
}

func (s *memJobStore) MarkTerminal(ctx context.Context, id string, status job.Status, code, message string, summary map[string]int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status.Terminal() {
		return job.ErrInvalidState
	}
	j.Status = status
	j.ErrorCode = code
	j.Error = message
	j.Summary = summary
	j.CompletedAt = &at
	s.jobs[id] = j
	return nil
}

type memKeywordStore struct {
	keywords map[string]content.Keyword
}

func (s *memKeywordStore) GetKeyword(ctx context.Context, id string) (*content.Keyword, error) {
	kw, ok := s.keywords[id]
	if !ok {
		return nil, nil
	}
	return &kw, nil
}

func (s *memKeywordStore) GetActiveKeywords(ctx context.Context) ([]content.Keyword, error) {
	var out []content.Keyword
	for _, kw := range s.keywords {
		if kw.Active {
			out = append(out, kw)
		}
	}
	return out, nil
}

type stubCrawler struct {
	run func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error)
}

func (c *stubCrawler) Run(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
	if c.run == nil {
		return map[string]int{"posts_fetched": 0}, nil
	}
	return c.run(ctx, j, keywordText, onAttempt)
}

type stubAnalyzer struct {
	mu   sync.Mutex
	runs int
}

func (a *stubAnalyzer) Run(ctx context.Context, keywordID string) (*metric.Summary, error) {
	a.mu.Lock()
	a.runs++
	a.mu.Unlock()
	return &metric.Summary{KeywordID: keywordID, PostCount: 7}, nil
}

func (a *stubAnalyzer) runCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

type testHarness struct {
	store      *memJobStore
	dispatcher *Dispatcher
	analyzer   *stubAnalyzer
}

func newHarness(t *testing.T, crawler *stubCrawler, config DispatcherConfig) *testHarness {
	t.Helper()

	store := newMemJobStore()
	keywords := &memKeywordStore{keywords: map[string]content.Keyword{
		"kw-1": {ID: "kw-1", Text: "golang", Active: true},
	}}
	analyzer := &stubAnalyzer{}

	d := NewDispatcher(store, keywords, crawler, analyzer, nil, config)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(stopCtx)
	})

	return &testHarness{store: store, dispatcher: d, analyzer: analyzer}
}

func (h *testHarness) waitForStatus(t *testing.T, jobID string, want job.Status) *job.State {
	t.Helper()

	var state *job.State
	require.Eventually(t, func() bool {
		s, err := h.dispatcher.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		state = s
		return s.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)

	return state
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	_, err := h.dispatcher.Submit(context.Background(), "kw-1", job.Kind("resync"), job.Params{})
	require.Error(t, err)
}

func TestSubmitRequiresKeyword(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	_, err := h.dispatcher.Submit(context.Background(), "", job.KindKeywordCrawl, job.Params{})
	require.Error(t, err)
}

func TestSubmitRequiresSubredditForSubredditCrawl(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	_, err := h.dispatcher.Submit(context.Background(), "", job.KindSubredditCrawl, job.Params{})
	require.Error(t, err)
}

func TestSubmitDuplicateConflicts(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			close(started)
			<-release
			return map[string]int{"posts_fetched": 1}, nil
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)
	<-started

	_, err = h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.ErrorIs(t, err, job.ErrConflict)

	close(release)
	h.waitForStatus(t, id, job.StatusCompleted)

	// The conflict clears once the first job is terminal
	_, err = h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)
}

func TestCompletedCrawlRecordsSummaryAndChainsAnalysis(t *testing.T) {
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			onAttempt(1)
			return map[string]int{"posts_fetched": 9, "posts_new": 4, "posts_updated": 5}, nil
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	state := h.waitForStatus(t, id, job.StatusCompleted)
	assert.Equal(t, 1, state.Attempts)
	assert.Equal(t, 4, state.Summary["posts_new"])
	assert.Empty(t, state.Error)
	assert.NotNil(t, state.CompletedAt)

	require.Eventually(t, func() bool {
		return h.analyzer.runCount() == 1
	}, 5*time.Second, 10*time.Millisecond, "completed crawl should trigger one analysis run")
}

func TestTransientExhaustionFailsJob(t *testing.T) {
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			onAttempt(3)
			return nil, source.NewTransient(source.CodeUnavailable, "listing fetch failed after 3 attempts", nil)
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	state := h.waitForStatus(t, id, job.StatusFailed)
	assert.Equal(t, job.CodeTransient, state.ErrorCode)
	assert.Equal(t, 3, state.Attempts)
	assert.NotEmpty(t, state.Error)
	assert.Zero(t, h.analyzer.runCount(), "failed crawl must not chain analysis")
}

func TestPermanentErrorFailsJobImmediately(t *testing.T) {
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			onAttempt(1)
			return nil, source.NewPermanent(source.CodeNotFound, "subreddit does not exist", nil)
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	state := h.waitForStatus(t, id, job.StatusFailed)
	assert.Equal(t, job.CodePermanent, state.ErrorCode)
	assert.Equal(t, 1, state.Attempts)
}

func TestJobTimeout(t *testing.T) {
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{JobTimeout: 50 * time.Millisecond})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	state := h.waitForStatus(t, id, job.StatusFailed)
	assert.Equal(t, job.CodeTimeout, state.ErrorCode)
}

func TestJobTimeoutForcedWhileWorkerStuck(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			// Ignores its context entirely
			<-release
			return map[string]int{"posts_fetched": 1}, nil
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{JobTimeout: 30 * time.Millisecond})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	// The row goes terminal at the deadline even though the worker is
	// still stuck inside the crawler
	state := h.waitForStatus(t, id, job.StatusFailed)
	assert.Equal(t, job.CodeTimeout, state.ErrorCode)
}

func TestJobTimeoutWorkerReturnCannotRevive(t *testing.T) {
	release := make(chan struct{})
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			<-release
			return map[string]int{"posts_fetched": 1}, nil
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{JobTimeout: 30 * time.Millisecond})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)
	h.waitForStatus(t, id, job.StatusFailed)

	// The stuck worker eventually returns success; the expired row
	// must not flip to completed
	close(release)
	time.Sleep(50 * time.Millisecond)

	state, err := h.dispatcher.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, state.Status)
	assert.Equal(t, job.CodeTimeout, state.ErrorCode)
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			close(started)
			<-ctx.Done()
			return map[string]int{"posts_fetched": 2}, ctx.Err()
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)
	<-started

	require.NoError(t, h.dispatcher.Cancel(context.Background(), id))

	state := h.waitForStatus(t, id, job.StatusCancelled)
	assert.Equal(t, job.CodeCancelled, state.ErrorCode)
	assert.Equal(t, 2, state.Summary["posts_fetched"], "partial progress survives cancellation")
}

func TestCancelPendingJob(t *testing.T) {
	store := newMemJobStore()
	keywords := &memKeywordStore{keywords: map[string]content.Keyword{
		"kw-1": {ID: "kw-1", Text: "golang", Active: true},
	}}

	// No workers started, so the job stays queued
	d := NewDispatcher(store, keywords, &stubCrawler{}, &stubAnalyzer{}, nil, DispatcherConfig{})

	id, err := d.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	require.NoError(t, d.Cancel(context.Background(), id))

	state, err := d.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, state.Status)
	assert.Equal(t, job.CodeCancelled, state.ErrorCode)
}

func TestCancelTerminalJob(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)
	h.waitForStatus(t, id, job.StatusCompleted)

	err = h.dispatcher.Cancel(context.Background(), id)
	require.ErrorIs(t, err, job.ErrInvalidState)
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	err := h.dispatcher.Cancel(context.Background(), "no-such-job")
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestStatusUnknownJob(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	_, err := h.dispatcher.Status(context.Background(), "no-such-job")
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestAnalysisJobRunsAnalyzer(t *testing.T) {
	h := newHarness(t, &stubCrawler{}, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindTrendAnalysis, job.Params{})
	require.NoError(t, err)

	state := h.waitForStatus(t, id, job.StatusCompleted)
	assert.Equal(t, 7, state.Summary["post_count"])
	assert.Equal(t, 1, h.analyzer.runCount())
}

func TestCrawlUnknownKeywordFailsPermanent(t *testing.T) {
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			t.Error("crawler must not run for an unknown keyword")
			return nil, nil
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-missing", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	state := h.waitForStatus(t, id, job.StatusFailed)
	assert.Equal(t, job.CodePermanent, state.ErrorCode)
}

func TestListActiveExcludesTerminalJobs(t *testing.T) {
	release := make(chan struct{})
	crawler := &stubCrawler{
		run: func(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error) {
			<-release
			return nil, nil
		},
	}
	h := newHarness(t, crawler, DispatcherConfig{})

	id, err := h.dispatcher.Submit(context.Background(), "kw-1", job.KindKeywordCrawl, job.Params{})
	require.NoError(t, err)

	states, err := h.dispatcher.ListActive(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, id, states[0].ID)

	close(release)
	h.waitForStatus(t, id, job.StatusCompleted)

	require.Eventually(t, func() bool {
		states, err := h.dispatcher.ListActive(context.Background(), 50)
		return err == nil && len(states) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueOverflowFailsJob(t *testing.T) {
	store := newMemJobStore()
	keywords := &memKeywordStore{keywords: map[string]content.Keyword{}}

	// Queue of one and no workers draining it
	d := NewDispatcher(store, keywords, &stubCrawler{}, &stubAnalyzer{}, nil, DispatcherConfig{QueueSize: 1})

	_, err := d.Submit(context.Background(), "", job.KindSubredditCrawl, job.Params{Subreddit: "golang"})
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), "", job.KindSubredditCrawl, job.Params{Subreddit: "rust"})
	require.Error(t, err)

	// The overflowed job is failed, not silently dropped
	var failed int
	for _, j := range store.jobs {
		if j.Status == job.StatusFailed {
			failed++
			assert.Equal(t, job.CodeInternal, j.ErrorCode)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestStateOfRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	j := job.Job{
		ID:        "j-1",
		KeywordID: "kw-1",
		Kind:      job.KindKeywordCrawl,
		Status:    job.StatusCompleted,
		Attempts:  2,
		Summary:   map[string]int{"posts_fetched": 3},
		CreatedAt: now,
	}

	state := job.StateOf(j)
	assert.Equal(t, j.ID, state.ID)
	assert.Equal(t, j.Status, state.Status)
	assert.Equal(t, j.Summary, state.Summary)
}
