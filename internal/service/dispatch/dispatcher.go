package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"trendwatch/internal/domain/content"
	"trendwatch/internal/domain/job"
	"trendwatch/internal/domain/metric"
	"trendwatch/internal/observability"
	"trendwatch/internal/service/source"
)

// JobStore defines durable storage for job rows. Updates are atomic
// per job; different jobs never contend with each other.
type JobStore interface {
	Create(ctx context.Context, j job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	FindActive(ctx context.Context, keywordID string, kind job.Kind) (*job.Job, error)
	ListActive(ctx context.Context, limit int) ([]job.Job, error)
	MarkRunning(ctx context.Context, id string, at time.Time) error
	SetAttempts(ctx context.Context, id string, attempts int) error
	MarkTerminal(ctx context.Context, id string, status job.Status, code, message string, summary map[string]int, at time.Time) error
}

// KeywordStore provides read access to keyword records owned by the
// keyword-management collaborator
type KeywordStore interface {
	GetKeyword(ctx context.Context, id string) (*content.Keyword, error)
	GetActiveKeywords(ctx context.Context) ([]content.Keyword, error)
}

// CrawlRunner executes one crawl job against the external source
type CrawlRunner interface {
	Run(ctx context.Context, j job.Job, keywordText string, onAttempt func(int)) (map[string]int, error)
}

// AnalysisRunner executes one trend analysis run for a keyword
type AnalysisRunner interface {
	Run(ctx context.Context, keywordID string) (*metric.Summary, error)
}

// DispatcherConfig contains configuration for the dispatcher
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration
	EventsTopic string
}

// Dispatcher admits jobs, enforces the one-in-flight-per-keyword
// invariant at submission time, and runs jobs on a bounded worker
// pool. Callers observe completion by polling job state; the
// dispatcher never calls back.
type Dispatcher struct {
	jobs     JobStore
	keywords KeywordStore
	crawler  CrawlRunner
	analyzer AnalysisRunner
	eventBus *nats.Conn
	config   DispatcherConfig

	queue   chan string
	running map[string]context.CancelFunc
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	jobs JobStore,
	keywords KeywordStore,
	crawler CrawlRunner,
	analyzer AnalysisRunner,
	eventBus *nats.Conn,
	config DispatcherConfig,
) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 10 * time.Minute
	}
	if config.EventsTopic == "" {
		config.EventsTopic = "jobs"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		jobs:     jobs,
		keywords: keywords,
		crawler:  crawler,
		analyzer: analyzer,
		eventBus: eventBus,
		config:   config,
		queue:    make(chan string, config.QueueSize),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start(ctx context.Context) error {
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to
// wind down or the shutdown context to expire
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit admits a new job. It fails with job.ErrConflict if an active
// job of the same kind already exists for the keyword; the invariant
// is enforced here, synchronously, so callers see an explicit error
// rather than silent queuing.
func (d *Dispatcher) Submit(ctx context.Context, keywordID string, kind job.Kind, params job.Params) (string, error) {
	switch kind {
	case job.KindKeywordCrawl, job.KindSubredditCrawl, job.KindTrendAnalysis:
	default:
		return "", fmt.Errorf("unknown job kind %q", kind)
	}
	if kind == job.KindSubredditCrawl && params.Subreddit == "" {
		return "", fmt.Errorf("subreddit crawl requires a subreddit")
	}
	if kind != job.KindSubredditCrawl && keywordID == "" {
		return "", fmt.Errorf("%s requires a keyword", kind)
	}

	j := job.Job{
		ID:        uuid.New().String(),
		KeywordID: keywordID,
		Kind:      kind,
		Status:    job.StatusPending,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}

	// Admission and enqueue are serialized so two concurrent submits
	// for the same keyword cannot both pass the active-job check
	d.mu.Lock()
	defer d.mu.Unlock()

	if keywordID != "" {
		active, err := d.jobs.FindActive(ctx, keywordID, kind)
		if err != nil {
			return "", fmt.Errorf("error checking active jobs: %w", err)
		}
		if active != nil {
			observability.JobsRejected.WithLabelValues(string(kind), "conflict").Inc()
			return "", job.ErrConflict
		}
	}

	if err := d.jobs.Create(ctx, j); err != nil {
		return "", fmt.Errorf("error creating job: %w", err)
	}

	select {
	case d.queue <- j.ID:
	default:
		observability.JobsRejected.WithLabelValues(string(kind), "queue_full").Inc()
		now := time.Now().UTC()
		if err := d.jobs.MarkTerminal(ctx, j.ID, job.StatusFailed, job.CodeInternal, "dispatch queue is full", nil, now); err != nil {
			log.Printf("Error failing overflowed job %s: %v", j.ID, err)
		}
		return "", fmt.Errorf("dispatch queue is full")
	}

	observability.JobsSubmitted.WithLabelValues(string(kind)).Inc()
	observability.ActiveJobs.Inc()
	d.publishEvent("submitted", job.StateOf(j))

	return j.ID, nil
}

// Status returns the current caller-visible state of a job. It reads
// the job row directly and never blocks on the worker.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (*job.State, error) {
	j, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, job.ErrNotFound
	}

	state := job.StateOf(*j)
	return &state, nil
}

// ListActive returns non-terminal jobs for monitoring collaborators
func (d *Dispatcher) ListActive(ctx context.Context, limit int) ([]job.State, error) {
	jobs, err := d.jobs.ListActive(ctx, limit)
	if err != nil {
		return nil, err
	}

	states := make([]job.State, 0, len(jobs))
	for _, j := range jobs {
		states = append(states, job.StateOf(j))
	}
	return states, nil
}

// Cancel requests cancellation of a pending or running job. Pending
// jobs transition immediately; running jobs transition once the worker
// observes the cancelled context at its next page boundary. Cancelling
// a terminal job returns job.ErrInvalidState.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return job.ErrNotFound
	}
	if j.Status.Terminal() {
		return job.ErrInvalidState
	}

	if cancelJob, ok := d.running[jobID]; ok {
		// Worker owns the job; it will write the terminal status when
		// it acknowledges the cancelled context
		cancelJob()
		return nil
	}

	// Still queued; flip it directly and let the worker skip it
	now := time.Now().UTC()
	if err := d.jobs.MarkTerminal(ctx, jobID, job.StatusCancelled, job.CodeCancelled, "cancelled before execution", nil, now); err != nil {
		return fmt.Errorf("error cancelling job: %w", err)
	}

	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	observability.ActiveJobs.Dec()
	observability.JobsCompleted.WithLabelValues(string(j.Kind), string(job.StatusCancelled)).Inc()
	d.publishEvent("cancelled", job.StateOf(*j))

	return nil
}

// worker consumes job IDs from the queue until the dispatcher stops
func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case jobID := <-d.queue:
			d.execute(jobID)
		}
	}
}

// execute runs one job to a terminal status. Every failure path writes
// a terminal job row before returning; workers never leak errors.
func (d *Dispatcher) execute(jobID string) {
	// Claim the job under the admission lock so a concurrent Cancel
	// either flips the pending row first or sees the running entry
	d.mu.Lock()
	j, err := d.jobs.Get(d.ctx, jobID)
	if err != nil || j == nil {
		d.mu.Unlock()
		log.Printf("Error loading job %s: %v", jobID, err)
		return
	}
	if j.Status != job.StatusPending {
		// Cancelled while queued
		d.mu.Unlock()
		return
	}

	jobCtx, cancelJob := context.WithTimeout(d.ctx, d.config.JobTimeout)
	d.running[jobID] = cancelJob
	d.mu.Unlock()

	defer func() {
		cancelJob()
		d.mu.Lock()
		delete(d.running, jobID)
		d.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	if err := d.jobs.MarkRunning(d.ctx, jobID, startedAt); err != nil {
		log.Printf("Error marking job %s running: %v", jobID, err)
		return
	}
	j.Status = job.StatusRunning
	d.publishEvent("started", job.StateOf(*j))

	// The row is forced terminal at the deadline even if the worker
	// has not yet observed the expired context
	watchdog := time.AfterFunc(d.config.JobTimeout, func() {
		d.expire(jobID, j.Kind, startedAt)
	})
	defer watchdog.Stop()

	summary, runErr := d.run(jobCtx, j)
	d.finish(j, startedAt, summary, runErr)
}

// expire fails a job whose wall-clock budget ran out while the worker
// was still inside a suspension point. Losing the race to the worker's
// own terminal write is fine; exactly one writer wins the row.
func (d *Dispatcher) expire(jobID string, kind job.Kind, startedAt time.Time) {
	now := time.Now().UTC()
	message := fmt.Sprintf("job exceeded %s wall-clock limit", d.config.JobTimeout)

	if err := d.jobs.MarkTerminal(d.ctx, jobID, job.StatusFailed, job.CodeTimeout, message, nil, now); err != nil {
		if !errors.Is(err, job.ErrInvalidState) {
			log.Printf("Error expiring job %s: %v", jobID, err)
		}
		return
	}

	observability.ActiveJobs.Dec()
	observability.JobsCompleted.WithLabelValues(string(kind), string(job.StatusFailed)).Inc()
	observability.JobDuration.WithLabelValues(string(kind)).Observe(now.Sub(startedAt).Seconds())

	if expired, err := d.jobs.Get(d.ctx, jobID); err == nil && expired != nil {
		d.publishEvent(string(job.StatusFailed), job.StateOf(*expired))
	}
}

// run dispatches on the job kind
func (d *Dispatcher) run(ctx context.Context, j *job.Job) (map[string]int, error) {
	switch j.Kind {
	case job.KindKeywordCrawl, job.KindSubredditCrawl:
		return d.runCrawl(ctx, j)
	case job.KindTrendAnalysis:
		s, err := d.analyzer.Run(ctx, j.KeywordID)
		if err != nil {
			return nil, err
		}
		return map[string]int{"post_count": s.PostCount}, nil
	default:
		return nil, source.NewPermanent(job.CodeBadRequest, fmt.Sprintf("unknown job kind %q", j.Kind), nil)
	}
}

// runCrawl resolves the keyword, runs the crawler with attempt
// tracking, and chains a trend analysis job on success
func (d *Dispatcher) runCrawl(ctx context.Context, j *job.Job) (map[string]int, error) {
	var keywordText string
	if j.KeywordID != "" {
		kw, err := d.keywords.GetKeyword(ctx, j.KeywordID)
		if err != nil {
			return nil, fmt.Errorf("error loading keyword: %w", err)
		}
		if kw == nil {
			return nil, source.NewPermanent(source.CodeNotFound, fmt.Sprintf("keyword %s not found", j.KeywordID), nil)
		}
		keywordText = kw.Text
	}

	onAttempt := func(attempt int) {
		j.Attempts = attempt
		if err := d.jobs.SetAttempts(d.ctx, j.ID, attempt); err != nil {
			log.Printf("Error recording attempt for job %s: %v", j.ID, err)
		}
	}

	summary, err := d.crawler.Run(ctx, *j, keywordText, onAttempt)
	if err != nil {
		return summary, err
	}

	// Crawl completion triggers analysis of the refreshed corpus
	if j.KeywordID != "" {
		if _, err := d.Submit(d.ctx, j.KeywordID, job.KindTrendAnalysis, job.Params{}); err != nil && !errors.Is(err, job.ErrConflict) {
			log.Printf("Error chaining analysis for keyword %s: %v", j.KeywordID, err)
		}
	}

	return summary, nil
}

// finish maps the run outcome onto a terminal status and records it
func (d *Dispatcher) finish(j *job.Job, startedAt time.Time, summary map[string]int, runErr error) {
	now := time.Now().UTC()
	status := job.StatusCompleted
	code, message := "", ""

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.DeadlineExceeded):
		status = job.StatusFailed
		code = job.CodeTimeout
		message = fmt.Sprintf("job exceeded %s wall-clock limit", d.config.JobTimeout)
	case errors.Is(runErr, context.Canceled):
		status = job.StatusCancelled
		code = job.CodeCancelled
		message = "cancelled by caller"
	default:
		status = job.StatusFailed
		message = runErr.Error()
		var srcErr *source.Error
		if errors.As(runErr, &srcErr) && !srcErr.Transient {
			code = job.CodePermanent
		} else if errors.As(runErr, &srcErr) {
			code = job.CodeTransient
		} else {
			code = job.CodeInternal
		}
	}

	if err := d.jobs.MarkTerminal(d.ctx, j.ID, status, code, message, summary, now); err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			// The deadline watchdog finalized the row first and did
			// the accounting
			return
		}
		log.Printf("Error finalizing job %s: %v", j.ID, err)
	}

	j.Status = status
	j.Error = message
	j.ErrorCode = code
	j.Summary = summary
	j.CompletedAt = &now

	observability.ActiveJobs.Dec()
	observability.JobsCompleted.WithLabelValues(string(j.Kind), string(status)).Inc()
	observability.JobDuration.WithLabelValues(string(j.Kind)).Observe(now.Sub(startedAt).Seconds())
	d.publishEvent(string(status), job.StateOf(*j))
}

// publishEvent publishes a job lifecycle event to the event bus
func (d *Dispatcher) publishEvent(event string, state job.State) {
	if d.eventBus == nil {
		return
	}

	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("Error marshaling job event: %v", err)
		return
	}

	topic := fmt.Sprintf("%s.%s", d.config.EventsTopic, event)
	if err := d.eventBus.Publish(topic, data); err != nil {
		log.Printf("Error publishing job event: %v", err)
	}
}
