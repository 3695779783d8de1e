package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job lifecycle metrics
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_jobs_submitted_total",
			Help: "Total number of jobs accepted by the dispatcher",
		},
		[]string{"kind"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"kind", "status"},
	)

	JobsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_jobs_rejected_total",
			Help: "Total number of job submissions rejected at admission",
		},
		[]string{"kind", "reason"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendwatch_job_duration_seconds",
			Help:    "Wall-clock duration of completed jobs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendwatch_jobs_active",
			Help: "Number of jobs currently pending or running",
		},
	)

	// External source metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_source_requests_total",
			Help: "Total number of pages fetched from external sources",
		},
		[]string{"platform", "status"},
	)

	PostsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_posts_ingested_total",
			Help: "Total number of posts written by the normalizer",
		},
		[]string{"platform", "outcome"},
	)

	// Analysis metrics
	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_analysis_runs_total",
			Help: "Total number of trend analysis runs",
		},
		[]string{"status"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendwatch_metrics_cache_lookups_total",
			Help: "Metrics cache lookups by result",
		},
		[]string{"result"},
	)
)
