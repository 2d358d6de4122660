// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New builds every dependency from
// the configuration and hands each layer only what it needs.
//
//	config → sqlite.DB, storage.Store, markdown → services → handlers → routes
//
// Handlers see services, services see repository interfaces, and only this
// package knows about the concrete sqlite and filesystem types.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/agent-library/internal/auth"
	"github.com/sakif/agent-library/internal/config"
	"github.com/sakif/agent-library/internal/handler"
	"github.com/sakif/agent-library/internal/markdown"
	"github.com/sakif/agent-library/internal/middleware"
	sqliteRepo "github.com/sakif/agent-library/internal/repository/sqlite"
	"github.com/sakif/agent-library/internal/service"
	"github.com/sakif/agent-library/internal/storage"
)

// shutdownTimeout is how long in-flight requests get after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Server owns the router and the resources behind it. The database is
// closed when Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New opens the database and upload directory, wires every service and
// registers the routes. Accounts listed in cfg.AdminEmails are promoted
// to admin before New returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on the way out.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID, RealIP: give the logger and rate limiter what they need
//  2. Logger, Metrics: see the final status, including recovered panics
//  3. Recoverer: turns a panic into a 500
//  4. CORS: answers preflight requests before routing
func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.config

	blobs, err := storage.New(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("opening upload directory: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	agents := s.db.Agents()
	reviews := s.db.Reviews()
	users := s.db.Users()

	// An untyped nil keeps the interface nil when no provider is configured.
	var metadata service.MetadataGenerator
	if cfg.MetadataProvider == config.MetadataMarkdown {
		metadata = markdown.NewGenerator()
	}

	ratingService := service.NewRatingService(agents, reviews)
	agentService := service.NewAgentService(agents, reviews, blobs, metadata, markdown.NewRenderer(), s.logger)
	reviewService := service.NewReviewService(reviews, agents, ratingService, s.logger)
	featuredService := service.NewFeaturedService(agents, service.FeaturedConfig{
		Refresh:  cfg.FeaturedRefresh,
		VideoIDs: cfg.YouTubeVideoIDs,
	}, s.logger)
	authService := service.NewAuthService(users, tokens, auth.NewPasswordService(), cfg.AllowRegistration, s.logger)

	if err := authService.PromoteAdmins(ctx, cfg.AdminEmails); err != nil {
		return fmt.Errorf("promoting admins: %w", err)
	}

	var github handler.GitHubOAuth
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	}
	secureCookie := strings.HasPrefix(cfg.GitHubCallbackURL, "https://")

	authenticator := auth.NewAuthenticator(tokens, users, s.logger)
	limiter := middleware.NewRateLimiter(cfg.AuthRateLimitPerMinute, s.logger)

	agentHandler := handler.NewAgentHandler(agentService, cfg.MaxUploadBytes, s.logger)
	reviewHandler := handler.NewReviewHandler(reviewService, s.logger)
	featuredHandler := handler.NewFeaturedHandler(featuredService)
	authHandler := handler.NewAuthHandler(authService, github, tokens.TTL(), secureCookie, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === Global Middleware ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	allOrigins := slices.Contains(cfg.CORSOrigins, "*")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: !allOrigins,
		MaxAge:           300,
	}))

	// === Operational ===
	r.Get("/health", healthHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// === Browser auth flow ===
	r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	r.Post("/auth/logout", authHandler.HandleLogout)

	// === API ===
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(limiter.Handler).Post("/register", authHandler.HandleRegister)
			r.With(limiter.Handler).Post("/login", authHandler.HandleLogin)
			r.With(authenticator.RequireAuth).Get("/me", authHandler.HandleMe)
		})

		r.Route("/agent-files", func(r chi.Router) {
			r.With(authenticator.OptionalAuth).Get("/", agentHandler.HandleList)
			r.With(authenticator.RequireAuth).Post("/", agentHandler.HandleCreate)
			r.With(authenticator.RequireAuth).Get("/dashboard/me", agentHandler.HandleDashboard)
			r.With(authenticator.RequireAuth, auth.RequireAdmin).Get("/admin", agentHandler.HandleAdminList)

			r.Route("/{id}", func(r chi.Router) {
				r.With(authenticator.OptionalAuth).Get("/", agentHandler.HandleGet)
				r.With(authenticator.RequireAuth).Put("/", agentHandler.HandleUpdate)
				r.With(authenticator.RequireAuth).Delete("/", agentHandler.HandleDelete)
				r.Get("/download", agentHandler.HandleDownload)
				r.Get("/preview", agentHandler.HandlePreview)
				r.Post("/views", agentHandler.HandleView)
				r.Post("/copies", agentHandler.HandleCopy)
			})
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Use(authenticator.RequireAuth)
			r.Post("/", reviewHandler.HandleUpsert)
			r.Delete("/{id}", reviewHandler.HandleDelete)
		})

		r.Get("/featured", featuredHandler.HandleGet)
	})

	return nil
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests and
// closes the database.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("uploads", s.config.UploadDir),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
