// Package server implements the CARROT HTTP API server (spec §6),
// grounded on the teacher's internal/server/server.go: a chi.Router built
// once in New, with Start/Stop driving a stdlib http.Server's lifecycle
// independently of the router construction.
package server

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carrotsystems/carrot/internal/buildcoordinator"
	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/objectstorage"
	"github.com/carrotsystems/carrot/internal/server/handlers"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/internal/submitter"
)

// Server is the CARROT HTTP API server.
type Server struct {
	store  store.Provider
	router chi.Router
	addr   string
	apiKey string
	srv    *http.Server
}

// New creates a new HTTP server. apiKey, if non-empty, requires every
// request but GET /api/v1/health to carry a matching X-API-Key header.
func New(addr string, st store.Provider, engine *cromwell.Client, submit *submitter.Submitter, builds *buildcoordinator.Coordinator, wdl *objectstorage.Store, apiKey string) *Server {
	s := &Server{
		store:  st,
		addr:   addr,
		apiKey: apiKey,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(APIKeyMiddleware(apiKey))

	h := handlers.New(st, engine, submit, builds, wdl)
	r.Handle("/debug/vars", expvar.Handler())
	registerRoutes(r, h)

	s.router = r
	return s
}

// Start begins serving HTTP requests. It blocks until the server stops or
// fails; callers typically run it in its own goroutine.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("carrot server listening on %s\n", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
