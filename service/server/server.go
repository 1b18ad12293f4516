package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the history service.
type Server struct {
	addr      string
	fetcher   HistoryFetcher
	workflows WorkflowStarter
	cache     *ReportCache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The workflows starter is optional - if nil, workflow endpoints won't be available.
// The cache is optional - if nil, every request fetches.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, fetcher HistoryFetcher, workflows WorkflowStarter, cache *ReportCache, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		fetcher:   fetcher,
		workflows: workflows,
		cache:     cache,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// History routes
	route("GET /api/v1/accounts/{address}/history", "get_history", handleGetHistory(s.fetcher, s.cache, s.logger))
	route("GET /api/v1/accounts/{address}/summary", "get_summary", handleGetSummary(s.fetcher, s.cache, s.logger))
	route("GET /api/v1/angles", "list_angles", handleListAngles())

	// Durable fetch routes (if Temporal is configured)
	if s.workflows != nil {
		route("POST /api/v1/accounts/{address}/history/workflows", "start_workflow", handleStartWorkflow(s.workflows, s.logger))
	} else {
		s.logger.Warn("workflow starter not configured, workflow endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Fetches can take minutes, so only the read side gets a tight timeout.
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
