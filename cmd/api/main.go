// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"trendwatch/internal/adapter/storage"
	"trendwatch/internal/config"
	"trendwatch/internal/server"
	"trendwatch/internal/service/analysis"
	"trendwatch/internal/service/dispatch"
	"trendwatch/internal/service/ingest"
	"trendwatch/internal/service/metricscache"
	"trendwatch/internal/service/source"
)

func main() {
	// Load .env in development; environment variables win
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	// Initialize storage adapters
	jobStore := storage.NewJobStore(db)
	contentStore := storage.NewContentStore(db)
	metricStore := storage.NewMetricStore(db)
	keywordStore := storage.NewKeywordStore(db)

	// Shared rate limiter across all workers
	limiter := source.NewLimiter(cfg.Source.RequestsPerSecond, cfg.Source.Burst, cfg.Source.AcquireTimeout)

	// Content sources
	sources := map[string]source.ContentSource{
		"reddit": source.NewRedditSource(source.RedditConfig{
			BaseURL:        cfg.Source.RedditBaseURL,
			UserAgent:      cfg.Source.RedditUserAgent,
			RequestTimeout: cfg.Source.RequestTimeout,
		}, limiter),
	}

	if cfg.Source.TwitterBearer != "" || cfg.Source.TwitterKey != "" {
		twitterSource, err := source.NewTwitterSource(source.TwitterConfig{
			BearerToken:       cfg.Source.TwitterBearer,
			ConsumerKey:       cfg.Source.TwitterKey,
			ConsumerSecret:    cfg.Source.TwitterSecret,
			AccessToken:       cfg.Source.TwitterToken,
			AccessTokenSecret: cfg.Source.TwitterTokenSec,
			RequestTimeout:    cfg.Source.RequestTimeout,
		}, limiter)
		if err != nil {
			log.Fatalf("Failed to initialize Twitter source: %v", err)
		}
		sources["twitter"] = twitterSource
	}

	// Ingestion pipeline
	normalizer := ingest.NewNormalizer(contentStore)
	crawler := ingest.NewCrawler(sources, normalizer, ingest.CrawlerConfig{
		MaxAttempts:  cfg.Crawl.MaxAttempts,
		BackoffBase:  cfg.Crawl.BackoffBase,
		BackoffCap:   cfg.Crawl.BackoffCap,
		DefaultLimit: cfg.Crawl.DefaultLimit,
		CommentLimit: cfg.Crawl.CommentLimit,
	})

	// Metrics cache and trend analyzer
	cache := metricscache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval)
	analyzer := analysis.NewAnalyzer(contentStore, metricStore, cache, natsConn, analysis.AnalyzerConfig{
		CommentWeight: cfg.Analysis.CommentWeight,
		Window:        cfg.Analysis.Window,
		EventsTopic:   cfg.Analysis.EventsTopic,
	})

	// Dispatcher and worker pool
	dispatcher := dispatch.NewDispatcher(jobStore, keywordStore, crawler, analyzer, natsConn, dispatch.DispatcherConfig{
		Workers:     cfg.Crawl.Workers,
		QueueSize:   cfg.Crawl.QueueSize,
		JobTimeout:  cfg.Crawl.JobTimeout,
		EventsTopic: cfg.Crawl.EventsTopic,
	})

	if err := dispatcher.Start(ctx); err != nil {
		log.Fatalf("Failed to start dispatcher: %v", err)
	}

	// Periodic crawl scheduler
	var scheduler *dispatch.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = dispatch.NewScheduler(dispatcher, keywordStore, dispatch.SchedulerConfig{
			ScanInterval: cfg.Scheduler.ScanInterval,
		})
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	// Initialize HTTP server
	httpServer := server.NewServer(
		cfg.Server,
		natsConn,
		cfg.Crawl.EventsTopic,
		dispatcher,
		keywordStore,
		cache,
		metricStore,
	)

	// Start HTTP server
	go func() {
		log.Printf("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	log.Println("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	log.Println("Shutting down services...")

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop scheduler
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			log.Printf("Scheduler shutdown error: %v", err)
		}
	}

	// Stop dispatcher
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Printf("Dispatcher shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
