// Package server implements the beacon collection server: it receives
// enrollment and conversion events from storefront clients, serves active
// experiment definitions, and exposes aggregated results.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nudgeworks/nudge/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	startTime time.Time
	logger    *slog.Logger
}

// New creates a Server around an open store. A fresh dashboard token is
// generated on every start.
func New(s *store.SQLiteStore, port int, tokenFile string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:     s,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		startTime: time.Now(),
		logger:    logger,
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/b", s.handleBeacon)
	s.router.HandleFunc("/api/experiments", s.handleExperiments)
	s.router.Handle("/metrics", promhttp.Handler())

	// Dashboard endpoints (protected)
	s.router.Handle("/dashboard/api/results", s.authMiddleware(http.HandlerFunc(s.handleResults)))
}

// Start writes the dashboard token file and serves until the listener
// fails.
func (s *Server) Start() error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.logger.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	s.logger.Info("listening", "port", s.port)
	return http.ListenAndServe(fmt.Sprintf(":%d", s.port), s.router)
}

// Token returns the dashboard token for this run.
func (s *Server) Token() string {
	return s.token
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a static
		// fallback keeps the dashboard reachable.
		return "a1b2c3d4"
	}
	return hex.EncodeToString(bytes)
}
