// Package server fronts the pipeline with a small JSON API. The pipeline
// itself stays a library boundary; this layer only decodes requests,
// injects an explicit merge policy, and maps typed pipeline errors onto
// status codes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/config"
	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/merge"
	"github.com/notescrub/notescrub/internal/session"
)

const version = "0.1.0"

// Server represents the HTTP API server
type Server struct {
	logger   *logger.Logger
	pipeline *session.Pipeline
	router   *mux.Router
	server   *http.Server

	mu     sync.RWMutex
	config *config.Config
}

// New creates a new API server instance
func New(cfg *config.Config, pipeline *session.Pipeline, log *logger.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		logger:   log.WithComponent("server"),
		pipeline: pipeline,
		router:   router,
		config:   cfg,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health and info endpoints
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/bundle", s.handleBundle).Methods("POST")

	api.HandleFunc("/sessions/{id}/spans", s.handleSessionSpans).Methods("GET")
	api.HandleFunc("/sessions/{id}/manual", s.handleAddManual).Methods("POST")
	api.HandleFunc("/sessions/{id}/exclude", s.handleExclude).Methods("POST")
	api.HandleFunc("/sessions/{id}/include", s.handleInclude).Methods("POST")
	api.HandleFunc("/sessions/{id}/relabel", s.handleRelabel).Methods("POST")
	api.HandleFunc("/sessions/{id}/redact", s.handleSessionRedact).Methods("POST")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting notescrub API server",
		zap.Int("port", s.currentConfig().Server.Port),
		zap.String("merge_mode", s.currentConfig().Detection.MergeMode),
		zap.String("model_provider", s.currentConfig().Model.Provider),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping notescrub API server")
	return s.server.Shutdown(ctx)
}

// UpdateConfig swaps the config after a hot reload. Only the default
// policy and rate limits take effect without a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	s.logger.Info("Configuration reloaded",
		zap.String("merge_mode", cfg.Detection.MergeMode),
	)
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// defaultPolicy derives the merge policy from current config.
func (s *Server) defaultPolicy() merge.Policy {
	cfg := s.currentConfig()
	return merge.Policy{
		Mode:                merge.Mode(cfg.Detection.MergeMode),
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		ProtectProviders:    cfg.Detection.ProtectProviders,
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name":"notescrub",
		"version":"%s",
		"merge_mode":"%s",
		"model_provider":"%s",
		"translate_dates":%t
	}`, version, cfg.Detection.MergeMode, cfg.Model.Provider, cfg.Redaction.TranslateDates)
}
