// Package api serves the worker's own HTTP surface: the health probe and the
// hub-driven worktree endpoints (commit, discard). Internal endpoints sit
// behind the worker internal token; every response echoes the request's
// trace id.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goyais/worker/internal/config"
	"github.com/goyais/worker/internal/worktree"
)

// Server is the worker's HTTP listener.
type Server struct {
	cfg      *config.Config
	worktree *worktree.Manager

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds the worker HTTP surface.
func NewServer(cfg *config.Config, wt *worktree.Manager) *Server {
	return &Server{cfg: cfg, worktree: wt}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.traceMiddleware(s.handleHealth))
	mux.HandleFunc("POST /internal/executions/{id}/commit", s.traceMiddleware(s.authMiddleware(s.handleCommit)))
	mux.HandleFunc("POST /internal/executions/{id}/discard", s.traceMiddleware(s.authMiddleware(s.handleDiscard)))

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("worker api starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("worker api server: %w", err)
	}
	return nil
}

// handleHealth reports liveness and the running version.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.cfg.Version,
	})
}
