// Package server exposes the engine over HTTP: a JSON API for profiles,
// providers and grid state, plus a live status stream for the panel.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/gridstream/internal/engine"
)

// Server is the HTTP API server.
type Server struct {
	engine       *engine.Engine
	sessionStore *sessions.CookieStore
	addr         string
	watch        bool
	logger       *slog.Logger
}

// Config holds configuration for the API server.
type Config struct {
	Engine        *engine.Engine
	Addr          string
	SessionSecret string
	// Watch reloads the provider registry when its file changes.
	Watch  bool
	Logger *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		engine:       cfg.Engine,
		sessionStore: sessionStore,
		addr:         cfg.Addr,
		watch:        cfg.Watch,
		logger:       logger,
	}
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.addr)

	eg, egctx := errgroup.WithContext(ctx)

	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	setupRoutes(r, s.engine, s.sessionStore, s.logger)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch {
		eg.Go(func() error {
			err := s.engine.Registry().Watch(egctx)
			if err != nil && egctx.Err() == nil {
				s.logger.Warn("provider watch stopped", "error", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
