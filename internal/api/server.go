// Package api exposes the funnel pipeline over HTTP: submit a run, poll its
// status, fetch its result. Runs execute in the background; the registry is
// in-memory and scoped to the process lifetime.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/offertracker/internal/config"
	"github.com/ignite/offertracker/internal/pipeline"
)

// Runner executes one pipeline run. Swappable so handler tests never touch a
// real mailbox.
type Runner func(ctx context.Context, opts pipeline.Options) (*pipeline.RunResult, error)

// Server is the API server.
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
	router   *chi.Mux
}

// NewServer wires the handlers and routes. cfg carries the run defaults
// applied to every submitted run.
func NewServer(cfg *config.Config) *Server {
	handlers := NewHandlers(cfg, pipeline.Run)
	router := SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	return &Server{
		config:   cfg.Server,
		handler:  router,
		handlers: handlers,
		router:   router,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.handlers.Wait(ctx)
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
