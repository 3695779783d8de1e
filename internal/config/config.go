// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Source      SourceConfig
	Crawl       CrawlConfig
	Analysis    AnalysisConfig
	Cache       CacheConfig
	Scheduler   SchedulerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// SourceConfig holds external content source configuration. The rate
// limit is shared across all concurrent workers.
type SourceConfig struct {
	RequestsPerSecond float64
	Burst             int
	AcquireTimeout    time.Duration
	RequestTimeout    time.Duration
	RedditBaseURL     string
	RedditUserAgent   string
	TwitterBearer     string
	TwitterKey        string
	TwitterSecret     string
	TwitterToken      string
	TwitterTokenSec   string
}

// CrawlConfig holds crawl execution configuration
type CrawlConfig struct {
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	DefaultLimit int
	CommentLimit int
	EventsTopic  string
}

// AnalysisConfig holds trend analysis configuration
type AnalysisConfig struct {
	CommentWeight float64
	Window        time.Duration
	EventsTopic   string
}

// CacheConfig holds metrics cache configuration
type CacheConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SchedulerConfig holds periodic crawl scheduling configuration
type SchedulerConfig struct {
	Enabled      bool
	ScanInterval time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "trendwatch"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Source: SourceConfig{
			RequestsPerSecond: getEnvAsFloat("SOURCE_REQUESTS_PER_SECOND", 1.0),
			Burst:             getEnvAsInt("SOURCE_BURST", 5),
			AcquireTimeout:    getEnvAsDuration("SOURCE_ACQUIRE_TIMEOUT", 30*time.Second),
			RequestTimeout:    getEnvAsDuration("SOURCE_REQUEST_TIMEOUT", 10*time.Second),
			RedditBaseURL:     getEnv("REDDIT_BASE_URL", "https://www.reddit.com"),
			RedditUserAgent:   getEnv("REDDIT_USER_AGENT", "trendwatch/1.0"),
			TwitterBearer:     getEnv("TWITTER_BEARER_TOKEN", ""),
			TwitterKey:        getEnv("TWITTER_CONSUMER_KEY", ""),
			TwitterSecret:     getEnv("TWITTER_CONSUMER_SECRET", ""),
			TwitterToken:      getEnv("TWITTER_ACCESS_TOKEN", ""),
			TwitterTokenSec:   getEnv("TWITTER_ACCESS_TOKEN_SECRET", ""),
		},
		Crawl: CrawlConfig{
			Workers:      getEnvAsInt("CRAWL_WORKERS", 4),
			QueueSize:    getEnvAsInt("CRAWL_QUEUE_SIZE", 256),
			JobTimeout:   getEnvAsDuration("CRAWL_JOB_TIMEOUT", 10*time.Minute),
			MaxAttempts:  getEnvAsInt("CRAWL_MAX_ATTEMPTS", 3),
			BackoffBase:  getEnvAsDuration("CRAWL_BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:   getEnvAsDuration("CRAWL_BACKOFF_CAP", 10*time.Second),
			DefaultLimit: getEnvAsInt("CRAWL_DEFAULT_LIMIT", 100),
			CommentLimit: getEnvAsInt("CRAWL_COMMENT_LIMIT", 50),
			EventsTopic:  getEnv("CRAWL_EVENTS_TOPIC", "jobs"),
		},
		Analysis: AnalysisConfig{
			CommentWeight: getEnvAsFloat("ANALYSIS_COMMENT_WEIGHT", 2.0),
			Window:        getEnvAsDuration("ANALYSIS_WINDOW", 0),
			EventsTopic:   getEnv("ANALYSIS_EVENTS_TOPIC", "trends"),
		},
		Cache: CacheConfig{
			TTL:             getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getEnvAsBool("SCHEDULER_ENABLED", true),
			ScanInterval: getEnvAsDuration("SCHEDULER_SCAN_INTERVAL", 15*time.Minute),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Source.RequestsPerSecond <= 0 {
		return fmt.Errorf("source request rate must be positive")
	}
	if config.Crawl.MaxAttempts < 1 {
		return fmt.Errorf("crawl max attempts must be at least 1")
	}
	if config.Analysis.CommentWeight < 0 {
		return fmt.Errorf("analysis comment weight must be non-negative")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
