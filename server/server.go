// Package server provides HTTP server management and lifecycle handling for
// the instrumentation testbed. It wires the metrics middleware and the
// Prometheus exposition endpoint into a chi router, exposes a set of
// exercise routes, and handles graceful shutdown with proper error handling
// and logging.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/giygas/httpmetrics/config"
	"github.com/giygas/httpmetrics/logging"
	"github.com/giygas/httpmetrics/metrics"
)

// Global server start time
var serverStartTime = time.Now()

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	router   chi.Router
	store    *metrics.ServerMetrics
	gatherer prometheus.Gatherer
	config   *config.Config
}

// NewServer creates a new server instance recording against store and
// serving the gatherer's snapshot on /metrics.
func NewServer(cfg *config.Config, store *metrics.ServerMetrics, gatherer prometheus.Gatherer) *Server {
	router := chi.NewRouter()

	server := &Server{
		server: &http.Server{
			Handler:      router,
			Addr:         cfg.Address + ":" + cfg.Port,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:   router,
		store:    store,
		gatherer: gatherer,
		config:   cfg,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures all middleware. Recoverer sits outside the
// metrics middleware so that handler panics are accounted before being
// turned into a 500 response.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(RealIPMiddleware)
	s.router.Use(logging.LoggingMiddleware(logging.Logger()))
	s.router.Use(middleware.RedirectSlashes)
	s.router.Use(middleware.Recoverer)
	s.router.Use(RateLimitHandler)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(metrics.Middleware(s.store, s.router))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/ping", s.handlePing)
	s.router.Get("/status/{code}", s.handleStatus)
	s.router.Get("/delay/{duration}", s.handleDelay)
	s.router.Get("/boom", s.handleBoom)
	s.router.Get("/redirect", s.handleRedirect)
	s.router.Get("/health", s.handleHealth)

	s.router.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus echoes back the status code given in the path.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		respondWithError(w, http.StatusBadRequest, "code must be a valid HTTP status")
		return
	}
	respondWithJSON(w, code, map[string]int{"status": code})
}

// handleDelay sleeps for the requested duration before responding, capped
// at the server write timeout.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	d, err := time.ParseDuration(chi.URLParam(r, "duration"))
	if err != nil || d < 0 {
		respondWithError(w, http.StatusBadRequest, "duration must be a valid positive duration")
		return
	}
	if d > 10*time.Second {
		d = 10 * time.Second
	}

	select {
	case <-time.After(d):
		respondWithJSON(w, http.StatusOK, map[string]string{"slept": d.String()})
	case <-r.Context().Done():
		// Client went away; the middleware still finalizes accounting.
	}
}

// handleBoom panics, exercising the exception accounting path.
func (s *Server) handleBoom(w http.ResponseWriter, r *http.Request) {
	panic(errors.New("boom"))
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ping", http.StatusFound)
}

// Start starts the server
func (s *Server) Start() error {
	logging.Info(fmt.Sprintf("Starting server at: %s:%s", s.config.Address, s.config.Port))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	if err := s.server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		// If graceful shutdown fails, force close
		if err := s.server.Close(); err != nil {
			logging.Error("Server close error", "error", err)
			return err
		}
	}

	logging.Info("Server shutdown complete")
	return nil
}

// Router exposes the underlying router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// HealthData represents health check response data
type HealthData struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	MemoryUsage int    `json:"memory_usage_mb"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	respondWithJSON(w, http.StatusOK, HealthData{
		Status:      "healthy",
		Uptime:      time.Since(serverStartTime).Round(time.Second).String(),
		MemoryUsage: int(m.Alloc / 1024 / 1024),
	})
}

// respondWithJSON writes a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.Error("Failed to encode JSON response", "error", err)
		}
	}
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, map[string]string{"error": msg})
}
