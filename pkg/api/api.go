// Package api exposes the admin HTTP interface: health, rule inspection and
// per-client overrides, the follow-up answer registry and the query log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"blackhole/pkg/config"
	"blackhole/pkg/reload"
	"blackhole/pkg/rules"
	"blackhole/pkg/storage"
	"blackhole/pkg/tempanswer"
)

// Server represents the API server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger

	// Dependencies
	storage storage.Storage
	rules   *rules.Store
	reload  *reload.Manager
	temp    *tempanswer.Registry

	// Auth and CORS, fixed at construction
	apiKey       string
	authHeader   string
	basicUser    string
	passwordHash string
	corsOrigins  map[string]struct{}

	// Metadata
	version   string
	startTime time.Time
}

// Config holds API server configuration
type Config struct {
	ListenAddress string
	Auth          config.APIConfig
	Storage       storage.Storage
	Rules         *rules.Store
	Reload        *reload.Manager
	TempAnswers   *tempanswer.Registry
	Logger        *slog.Logger
	Version       string
}

// New creates a new API server
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewNoOpStorage()
	}

	s := &Server{
		storage:      cfg.Storage,
		rules:        cfg.Rules,
		reload:       cfg.Reload,
		temp:         cfg.TempAnswers,
		logger:       cfg.Logger,
		apiKey:       cfg.Auth.APIKey,
		authHeader:   "X-API-Key",
		basicUser:    cfg.Auth.Username,
		passwordHash: cfg.Auth.PasswordHash,
		version:      cfg.Version,
		startTime:    time.Now(),
	}
	if len(cfg.Auth.CORSOrigins) > 0 {
		s.corsOrigins = make(map[string]struct{}, len(cfg.Auth.CORSOrigins))
		for _, o := range cfg.Auth.CORSOrigins {
			s.corsOrigins[o] = struct{}{}
		}
	}

	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Rules
	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules/reload", s.handleReloadRules)
	mux.HandleFunc("GET /api/rules/{client}", s.handleGetRules)
	mux.HandleFunc("PUT /api/rules/{client}", s.handlePutRules)
	mux.HandleFunc("DELETE /api/rules/{client}", s.handleDeleteRules)

	// Follow-up answers
	mux.HandleFunc("GET /api/temp-answers", s.handleListTempAnswers)
	mux.HandleFunc("DELETE /api/temp-answers", s.handlePurgeTempAnswers)

	// Queries
	mux.HandleFunc("GET /api/queries", s.handleQueries)

	handler := s.authMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// getUptime returns the server uptime as a string
func (s *Server) getUptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
