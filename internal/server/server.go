// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trendwatch/internal/config"
	"trendwatch/internal/server/handlers"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	natsConn *nats.Conn,
	jobEventsTopic string,
	dispatcher handlers.JobDispatcher,
	keywords handlers.KeywordReader,
	cache handlers.SummaryCache,
	metrics handlers.SummaryReader,
) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	jobHandler := handlers.NewJobHandler(dispatcher, keywords)
	trendHandler := handlers.NewTrendHandler(cache, metrics)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Crawl API
			r.Post("/keywords/{keywordID}/crawl", jobHandler.StartCrawl)
			r.Post("/crawl/subreddit", jobHandler.StartSubredditCrawl)

			// Jobs API
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", jobHandler.ListActiveJobs)
				r.Get("/{id}", jobHandler.GetJob)
				r.Post("/{id}/cancel", jobHandler.CancelJob)
			})

			// Analysis API
			r.Post("/analyze", jobHandler.Analyze)

			// Trends API
			r.Route("/trends", func(r chi.Router) {
				r.Get("/{keywordID}", trendHandler.GetTrend)
				r.Post("/{keywordID}/invalidate", trendHandler.InvalidateTrend)
			})
		})
	})

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint for live job lifecycle events
	router.Get("/ws/jobs", handlers.JobEventsHandler(natsConn, jobEventsTopic))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
