package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"trendwatch/internal/domain/content"
	"trendwatch/internal/domain/metric"
	"trendwatch/internal/observability"
)

// PostReader provides the post corpus for one keyword
type PostReader interface {
	ListPostsByKeyword(ctx context.Context, keywordID string, since time.Time) ([]content.Post, error)
}

// MetricStore defines persistence for computed metrics. Rows are
// append-only; the latest summary per keyword is the comparison window
// for velocity.
type MetricStore interface {
	SaveMetrics(ctx context.Context, rows []metric.Metric) error
	SaveSummary(ctx context.Context, s metric.Summary) error
	LatestSummary(ctx context.Context, keywordID string) (*metric.Summary, error)
}

// SummaryCache receives the write-through copy of each new summary
type SummaryCache interface {
	Put(keywordID string, s metric.Summary)
}

// AnalyzerConfig contains configuration for the trend analyzer
type AnalyzerConfig struct {
	// CommentWeight scales log1p(comment_count) in the engagement
	// score; comments indicate deeper engagement than votes alone
	CommentWeight float64

	// Window restricts the corpus to posts created within this
	// duration; zero means the full corpus
	Window time.Duration

	// EventsTopic is the NATS subject prefix for computed-trend events
	EventsTopic string
}

// velocityEpsilon guards the velocity denominator when the previous
// window's mean is zero
const velocityEpsilon = 1e-9

// Analyzer computes term-importance, engagement, and trend velocity
// for one keyword's post corpus. The corpus is read once at the start
// of a run; posts arriving mid-run are picked up by the next run.
type Analyzer struct {
	posts    PostReader
	metrics  MetricStore
	cache    SummaryCache
	eventBus *nats.Conn
	config   AnalyzerConfig
}

// NewAnalyzer creates a new trend analyzer
func NewAnalyzer(posts PostReader, metrics MetricStore, cache SummaryCache, eventBus *nats.Conn, config AnalyzerConfig) *Analyzer {
	if config.CommentWeight <= 0 {
		config.CommentWeight = 2.0
	}
	if config.EventsTopic == "" {
		config.EventsTopic = "trends"
	}

	return &Analyzer{
		posts:    posts,
		metrics:  metrics,
		cache:    cache,
		eventBus: eventBus,
		config:   config,
	}
}

// Run computes one Metric row per post plus a keyword-level summary,
// persists both, and write-throughs the summary to the cache. A failed
// run leaves the prior summary and cache entry untouched.
func (a *Analyzer) Run(ctx context.Context, keywordID string) (out *metric.Summary, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.AnalysisRuns.WithLabelValues(status).Inc()
	}()

	var since time.Time
	if a.config.Window > 0 {
		since = time.Now().UTC().Add(-a.config.Window)
	}

	// Snapshot the corpus once; scores within a run must not observe
	// posts committed after this read
	posts, err := a.posts.ListPostsByKeyword(ctx, keywordID, since)
	if err != nil {
		return nil, fmt.Errorf("error reading post corpus: %w", err)
	}

	// The previous summary is the comparison window for velocity, so
	// it has to be read before the new one is saved
	prev, err := a.metrics.LatestSummary(ctx, keywordID)
	if err != nil {
		return nil, fmt.Errorf("error reading previous summary: %w", err)
	}

	now := time.Now().UTC()
	importance := a.importanceScores(posts)

	rows := make([]metric.Metric, 0, len(posts))
	var engagementSum, importanceSum float64

	for i, p := range posts {
		engagement := a.EngagementScore(p.Score, p.CommentCount)
		engagementSum += engagement
		importanceSum += importance[i]

		rows = append(rows, metric.Metric{
			ID:              uuid.New().String(),
			KeywordID:       keywordID,
			PostID:          p.ID,
			EngagementScore: engagement,
			ImportanceScore: importance[i],
			ComputedAt:      now,
		})
	}

	summary := metric.Summary{
		ID:         uuid.New().String(),
		KeywordID:  keywordID,
		PostCount:  len(posts),
		ComputedAt: now,
	}
	if len(posts) > 0 {
		summary.MeanEngagement = engagementSum / float64(len(posts))
		summary.MeanImportance = importanceSum / float64(len(posts))
	}
	summary.TrendVelocity = velocity(summary.MeanEngagement, prev)

	if len(rows) > 0 {
		if err := a.metrics.SaveMetrics(ctx, rows); err != nil {
			return nil, fmt.Errorf("error saving metric rows: %w", err)
		}
	}
	if err := a.metrics.SaveSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("error saving summary: %w", err)
	}

	a.cache.Put(keywordID, summary)
	a.publishComputedEvent(summary)

	return &summary, nil
}

// EngagementScore combines votes and comment volume. It is
// non-negative and strictly increasing in both inputs.
func (a *Analyzer) EngagementScore(score, commentCount int) float64 {
	if score < 0 {
		score = 0
	}
	if commentCount < 0 {
		commentCount = 0
	}
	return math.Log1p(float64(score)) + a.config.CommentWeight*math.Log1p(float64(commentCount))
}

// importanceScores computes the TF-IDF importance of every post in the
// corpus, normalized to [0,1] by the batch maximum. A corpus of fewer
// than two documents yields all zeros: there is nothing to weigh a
// document against.
func (a *Analyzer) importanceScores(posts []content.Post) []float64 {
	scores := make([]float64, len(posts))
	if len(posts) < 2 {
		return scores
	}

	docs := make([]map[string]float64, len(posts))
	df := make(map[string]int)

	for i, p := range posts {
		docs[i] = termFrequencies(tokenize(p.Title + " " + p.Body))
		for term := range docs[i] {
			df[term]++
		}
	}

	n := float64(len(posts))
	var maxScore float64

	for i, tf := range docs {
		var sum float64
		for term, freq := range tf {
			idf := math.Log(n / (1.0 + float64(df[term])))
			if idf < 0 {
				// A term present in every document carries no signal
				idf = 0
			}
			sum += freq * idf
		}
		scores[i] = sum
		if sum > maxScore {
			maxScore = sum
		}
	}

	if maxScore > 0 {
		for i := range scores {
			scores[i] /= maxScore
		}
	}

	return scores
}

// velocity is the rate of change of mean engagement against the
// previous computation window. No prior window means zero velocity.
func velocity(currentMean float64, prev *metric.Summary) float64 {
	if prev == nil {
		return 0
	}
	return (currentMean - prev.MeanEngagement) / math.Max(prev.MeanEngagement, velocityEpsilon)
}

// publishComputedEvent publishes a trend computed event
func (a *Analyzer) publishComputedEvent(s metric.Summary) {
	if a.eventBus == nil {
		return
	}

	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("Error marshaling summary event: %v", err)
		return
	}

	topic := fmt.Sprintf("%s.computed", a.config.EventsTopic)
	if err := a.eventBus.Publish(topic, data); err != nil {
		log.Printf("Error publishing trend event: %v", err)
	}
}
