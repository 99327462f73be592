// Package server exposes projects and cell runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/registry"
	"github.com/leapstack-labs/nodebook/internal/state"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the server.
type Config struct {
	Store    *state.Store
	Registry *registry.Client
	// UserID owns every project created through this server.
	UserID string
	Port   int
	// Session configures the engine session of each loaded project.
	Session engine.Config
	Logger  *slog.Logger
}

// Server serves the project API. It keeps one engine session per loaded
// project so cell bindings survive between requests.
type Server struct {
	store    *state.Store
	registry *registry.Client
	userID   string
	port     int
	session  engine.Config
	logger   *slog.Logger
	notifier *Notifier

	mu       sync.Mutex
	sessions map[string]*engine.Session
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.NewClient(registry.Config{Logger: logger})
	}
	return &Server{
		store:    cfg.Store,
		registry: cfg.Registry,
		userID:   cfg.UserID,
		port:     cfg.Port,
		session:  cfg.Session,
		logger:   logger,
		notifier: NewNotifier(),
		sessions: make(map[string]*engine.Session),
	}
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	s.routes(r)
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server...")
		s.closeSessions()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// load returns the session for a project, loading it from the store on
// first use.
func (s *Server) load(ctx context.Context, id string) (*engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	nb, err := p.Notebook()
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	sess := engine.NewSession(nb, s.session)
	s.sessions[id] = sess
	s.logger.Debug("session opened", "project_id", id, "cells", len(nb.Cells))
	return sess, nil
}

// replace swaps the session of a project for one over nb.
func (s *Server) replace(id string, nb *notebook.Project) *engine.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[id]; ok {
		old.Close()
	}
	sess := engine.NewSession(nb, s.session)
	s.sessions[id] = sess
	return sess
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Close()
		delete(s.sessions, id)
	}
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}

// persist writes the session's project back to the store.
func (s *Server) persist(ctx context.Context, id string, sess *engine.Session) error {
	var err error
	sess.View(func(p *notebook.Project) {
		err = s.store.Save(ctx, id, p)
	})
	return err
}
