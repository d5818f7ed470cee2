package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/service"
)

// Pinger reports database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource exposes reconciliation loop counters.
type StatsSource interface {
	Stats() service.Stats
}

// Exporter lists active identifier values for downstream consumers.
type Exporter interface {
	ListActiveValues(ctx context.Context, limit int) ([]string, error)
}

// Config contains HTTP server parameters.
type Config struct {
	Port        string
	ExportLimit int
}

// Server serves the health and export endpoints.
type Server struct {
	httpServer *http.Server
	db         Pinger
	stats      StatsSource
	exporter   Exporter
	logger     *logger.Logger
	config     Config
}

func NewServer(db Pinger, stats StatsSource, exporter Exporter, logger *logger.Logger, config Config) *Server {
	s := &Server{
		db:       db,
		stats:    stats,
		exporter: exporter,
		logger:   logger,
		config:   config,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/export", s.handleExport)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("HTTP server: listening",
		"addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status     string    `json:"status"`
	Database   string    `json:"database"`
	ScanCount  int64     `json:"scan_count"`
	ErrorCount int       `json:"error_count"`
	LastScan   time.Time `json:"last_scan"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}

	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("HTTP server: database ping failed",
			"error", err.Error())
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}

	stats := s.stats.Stats()
	resp.ScanCount = stats.ScanCount
	resp.ErrorCount = stats.ErrorCount
	resp.LastScan = stats.LastScan

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("HTTP server: failed to encode health response",
			"error", err.Error())
	}
}

// handleExport writes active identifier values one per line. The consumer is a
// line-oriented allowlist loader, so the format stays plain text.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	values, err := s.exporter.ListActiveValues(r.Context(), s.config.ExportLimit)
	if err != nil {
		s.logger.Error("HTTP server: export failed",
			"error", err.Error())
		http.Error(w, "export unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(values) == 0 {
		return
	}
	fmt.Fprint(w, strings.Join(values, "\n")+"\n")
}
