// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It connects the store, services,
// handlers, middleware and routes, and it owns the lifecycle of the
// things that must be shut down: the HTTP listener, the cleanup scheduler
// and the database handle.
//
// WHY SEPARATE FROM main.go?
// Keeping server setup in its own package makes it testable: tests build a
// Server against an in-memory database and drive Handler() with httptest,
// without ever listening on a port.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → sqlite.DB → services → handlers → chi routes
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/connhub/internal/auth"
	"github.com/sakif/connhub/internal/config"
	"github.com/sakif/connhub/internal/handler"
	"github.com/sakif/connhub/internal/metrics"
	"github.com/sakif/connhub/internal/middleware"
	"github.com/sakif/connhub/internal/probe"
	sqliteRepo "github.com/sakif/connhub/internal/repository/sqlite"
	"github.com/sakif/connhub/internal/scheduler"
	"github.com/sakif/connhub/internal/service"
)

// shutdownTimeout is how long in-flight requests and running jobs get
// to finish after a shutdown signal.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database handle and the scheduler. Close (called by
// Start on shutdown, or directly by tests) stops the scheduler first, so no
// cleanup job is mid-query when the database closes.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	scheduler *scheduler.Scheduler
}

// New creates a Server: it opens the database (running migrations),
// builds the services and providers, registers the cleanup job and mounts
// every route. Nothing is started yet.
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with the
// SQLite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		db:        db,
		scheduler: scheduler.New(logger),
	}

	if err := s.setupRoutes(); err != nil {
		db.Close() // Clean up DB if wiring fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes builds the dependency graph and configures all routes.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz, /metrics                  → ops
//	GET    /, /login, /signup                  → pages (OptionalAuth)
//	GET    /dashboard, /connections            → pages (RequirePage)
//	GET    /auth/{provider}/login|callback     → OAuth (configured providers only)
//	POST   /api/auth/signup, /api/register     → signup
//	POST   /api/auth/login, /api/auth/logout   → password login, logout
//	POST   /api/auth/logout-all                → revoke every session (RequireAuth)
//	GET    /api/auth/session                   → current principal (OptionalAuth)
//	*      /api/connections..., /api/users..., /api/stats → JSON API (RequireAuth)
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (the logger reads it)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs and counts each request, including recovered panics
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() error {
	cfg := s.config

	// === SERVICES ===
	passwords, err := auth.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	authService := service.NewAuthService(s.db, s.db, s.db, passwords, service.SessionConfig{
		MaxAge:    cfg.SessionMaxAge,
		UpdateAge: cfg.SessionUpdateAge,
	}, s.logger)
	connectionService := service.NewConnectionService(s.db, s.db, probe.New(cfg.ProbeTimeout, cfg.ProbeAllowLoopback, s.logger), s.logger)
	userService := service.NewUserService(s.db, s.logger)
	statsService := service.NewStatsService(s.db, s.db)

	if err := s.scheduler.Every(cfg.SessionCleanupSchedule, "session-cleanup", authService.CleanupExpiredSessions); err != nil {
		return err
	}

	// === OAUTH PROVIDERS ===
	// Only configured providers are created, so only their routes exist.
	var providers []auth.Provider
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(
			cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL(auth.ProviderGitHub)))
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL(auth.ProviderGoogle)))
	}

	var states *auth.StateSigner
	providerNames := make([]string, 0, len(providers))
	if len(providers) > 0 {
		states, err = auth.NewStateSigner(cfg.StateSecret)
		if err != nil {
			return fmt.Errorf("creating state signer: %w", err)
		}
		for _, p := range providers {
			providerNames = append(providerNames, p.Name())
		}
	}

	// === HANDLERS ===
	sessions := auth.NewMiddleware(authService, cfg.SecureCookies, s.logger)
	authHandler := handler.NewAuthHandler(authService, providers, states, cfg.SecureCookies, s.logger)
	connectionHandler := handler.NewConnectionHandler(connectionService, s.logger)
	userHandler := handler.NewUserHandler(userService, s.logger)
	statsHandler := handler.NewStatsHandler(statsService)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)
	pageHandler, err := handler.NewPageHandler(connectionService, statsService, providerNames, s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Ops ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	// === Pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(sessions.OptionalAuth)
		r.Get("/", pageHandler.HandleIndex)
		r.Get("/login", pageHandler.HandleLogin)
		r.Get("/signup", pageHandler.HandleSignup)
	})
	s.router.Group(func(r chi.Router) {
		r.Use(sessions.RequirePage)
		r.Get("/dashboard", pageHandler.HandleDashboard)
		r.Get("/connections", pageHandler.HandleConnections)
	})

	// === OAuth ===
	if len(providers) > 0 {
		s.router.Get("/auth/{provider}/login", authHandler.HandleOAuthLogin)
		s.router.Get("/auth/{provider}/callback", authHandler.HandleOAuthCallback)
	}

	// === API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", authHandler.HandleSignup)
		r.Post("/register", authHandler.HandleSignup)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.With(sessions.OptionalAuth).Get("/auth/session", authHandler.HandleSession)

		r.Group(func(r chi.Router) {
			r.Use(sessions.RequireAuth)

			r.Post("/auth/logout-all", authHandler.HandleLogoutAll)

			r.Get("/connections", connectionHandler.HandleList)
			r.Post("/connections", connectionHandler.HandleCreate)
			r.Get("/connections/{id}", connectionHandler.HandleGet)
			r.Put("/connections/{id}", connectionHandler.HandleUpdate)
			r.Delete("/connections/{id}", connectionHandler.HandleDelete)
			r.Post("/connections/{id}/shares", connectionHandler.HandleShare)
			r.Delete("/connections/{id}/shares/{userId}", connectionHandler.HandleUnshare)
			r.Post("/connections/{id}/test", connectionHandler.HandleTest)

			r.Get("/users", userHandler.HandleList)
			r.Get("/users/{id}", userHandler.HandleGet)

			r.Get("/stats", statsHandler.HandleGet)
		})
	})

	return nil
}

// Handler returns the fully wired router. Tests serve it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until SIGINT or SIGTERM, then shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the scheduler and close the database (Close)
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.scheduler.Start()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.scheduler.Stop(shutdownCtx)
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

// Close stops the scheduler and closes the database. Safe to call more
// than once.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.scheduler.Stop(ctx)
	return s.db.Close()
}
