// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/olegiv/lms-go/internal/auth"
	"github.com/olegiv/lms-go/internal/config"
	"github.com/olegiv/lms-go/internal/handler"
	"github.com/olegiv/lms-go/internal/imaging"
	"github.com/olegiv/lms-go/internal/logging"
	"github.com/olegiv/lms-go/internal/middleware"
	"github.com/olegiv/lms-go/internal/pubsub"
	"github.com/olegiv/lms-go/internal/scheduler"
	"github.com/olegiv/lms-go/internal/session"
	"github.com/olegiv/lms-go/internal/settings"
	"github.com/olegiv/lms-go/internal/store"
	"github.com/olegiv/lms-go/internal/version"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	// Parse CLI flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "LMS - Learning Management System backend\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_SESSION_SECRET    Session encryption key (required, min 32 bytes)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_DB_PATH           SQLite database path (default: ./data/lms.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_SERVER_PORT       Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_ENV               Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_UPLOADS_DIR       Uploads directory (default: ./uploads)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_REDIS_URL         Redis URL for cross-instance settings events (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  LMS_TOKEN_SECRET      API token signing secret (default: session secret)\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		info := version.Info{Version: appVersion, GitCommit: appGitCommit, BuildTime: appBuildTime}
		_, _ = fmt.Printf("lms %s\n", info)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (development)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	versionInfo := version.Info{
		Version:   appVersion,
		GitCommit: appGitCommit,
		BuildTime: appBuildTime,
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ensure data and uploads directories exist
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0755); err != nil {
		return fmt.Errorf("creating uploads directory: %w", err)
	}

	// Initialize database
	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	// Run migrations
	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Upgrade logger to also write WARN and ERROR logs to the event log
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	eventLogHandler := logging.NewEventLogHandler(textHandler, db)
	logger = slog.New(eventLogHandler)
	slog.SetDefault(logger)
	slog.Info("event log integration enabled", "min_level", "warn")

	// Seed default data
	ctx := context.Background()
	if err := store.Seed(ctx, db, cfg.DoSeed); err != nil {
		return fmt.Errorf("seeding database: %w", err)
	}

	// Initialize session manager
	sessionManager := session.New(db, cfg.IsDevelopment())
	slog.Info("session manager initialized")

	// Select the settings change broker: Redis when configured so changes
	// propagate across instances, in-process otherwise.
	var broker pubsub.Broker
	if cfg.UseRedis() {
		redisBroker, err := pubsub.NewRedisBrokerFromURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		if err := redisBroker.Ping(ctx); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
		broker = redisBroker
		slog.Info("settings broker initialized", "backend", "redis", "channel", cfg.SettingsChannel)
	} else {
		broker = pubsub.NewMemoryBroker()
		slog.Info("settings broker initialized", "backend", "memory", "channel", cfg.SettingsChannel)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("error closing settings broker", "error", err)
		}
	}()

	// Settings service and the local live copy
	settingsService := settings.NewService(db, broker, cfg.SettingsChannel)
	settingsWatcher := settings.NewWatcher(settingsService, broker, cfg.SettingsChannel, logger)
	if err := settingsWatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting settings watcher: %w", err)
	}
	defer settingsWatcher.Close()
	slog.Info("settings watcher started")

	// API tokens
	tokens := auth.NewTokens(cfg.JWTSecret(), time.Duration(cfg.TokenTTL)*time.Second)

	// Image processor for logo and payment QR uploads
	processor := imaging.NewProcessor(cfg.UploadsDir)

	// Start scheduler (event retention, settings reconciliation)
	sched := scheduler.New(db, settingsWatcher, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// Login protection and rate limiters
	loginProtection := middleware.NewLoginProtection(middleware.DefaultLoginProtectionConfig())
	publicRateLimiter := middleware.NewGlobalRateLimiter(10.0, 20)
	slog.Info("login protection initialized",
		"max_failed_attempts", 5,
		"lockout_duration", "15m",
	)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(db, sessionManager, loginProtection, tokens)
	courseHandler := handler.NewCourseHandler(db)
	settingsHandler := handler.NewSettingsHandler(db, settingsService, settingsWatcher, processor)
	streamHandler := handler.NewStreamHandler(broker, cfg.SettingsChannel)
	eventsHandler := handler.NewEventsHandler(db)
	healthHandler := handler.NewHealthHandler(db, settingsWatcher, cfg.UploadsDir, versionInfo)

	// Create router
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(chimw.GetHead)
	r.Use(chimw.Timeout(30 * time.Second))

	securityConfig := middleware.DefaultSecurityHeadersConfig(cfg.IsDevelopment())
	r.Use(middleware.SecurityHeaders(securityConfig))

	r.Use(sessionManager.LoadAndSave)
	r.Use(middleware.ResolveSession(sessionManager, db))

	// Health check routes (public, more detail for authenticated callers)
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)

	// Uploaded assets (logo, payment QR)
	registerUploadsRoute(r, cfg.UploadsDir)

	// CSRF protects the session-authenticated surface; token-authenticated
	// admin API routes are registered outside this group.
	csrfConfig := middleware.DefaultCSRFConfig([]byte(cfg.SessionSecret), cfg.IsDevelopment())
	csrfMiddleware := middleware.CSRF(csrfConfig)

	// Public API
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(publicRateLimiter.Middleware())
			r.Use(csrfMiddleware)

			r.With(loginProtection.Middleware()).Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Get("/courses", courseHandler.List)
			r.Get("/courses/{slug}", courseHandler.GetBySlug)

			r.Get("/settings", settingsHandler.Get)
		})

		// The event stream is long-lived; it skips the rate limiter so a
		// reconnecting client cannot exhaust its own budget.
		r.Get("/settings/stream", streamHandler.Settings)

		// Admin API (bearer token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(tokens, db))
			r.Use(middleware.RequireAdminAPI())
			r.Use(middleware.APIRateLimit(5.0, 10))

			r.Post("/courses", courseHandler.Create)
			r.Put("/courses/{id}", courseHandler.Update)
			r.Delete("/courses/{id}", courseHandler.Delete)

			r.Put("/settings", settingsHandler.Update)
			r.Post("/settings/logo", settingsHandler.UploadLogo)
			r.Post("/settings/payment-qr", settingsHandler.UploadPaymentQR)
			r.Post("/settings/refetch", settingsHandler.Refetch)

			r.Get("/events", eventsHandler.List)
		})
	})

	// Session-gated browser routes. Anonymous visitors are sent to the
	// login page with the original destination preserved; non-admins asking
	// for admin pages land on the dashboard instead of an error.
	r.Group(func(r chi.Router) {
		r.Use(csrfMiddleware)

		r.With(middleware.RequireAuth()).Get("/dashboard", authHandler.Me)
		r.With(middleware.RequireAdmin()).Get("/admin/events", eventsHandler.List)
	})

	// Create server with appropriate timeouts
	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // Longer to allow for uploads and the event stream
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB max header size
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// registerUploadsRoute serves processed upload files (logo, payment QR)
// with path containment checks.
func registerUploadsRoute(r chi.Router, uploadsDir string) {
	r.Get("/uploads/*", func(w http.ResponseWriter, req *http.Request) {
		cleanPath := filepath.Clean(chi.URLParam(req, "*"))
		if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
			http.NotFound(w, req)
			return
		}

		absUploadsDir, err := filepath.Abs(uploadsDir)
		if err != nil {
			http.NotFound(w, req)
			return
		}
		absFilePath, err := filepath.Abs(filepath.Join(absUploadsDir, cleanPath))
		if err != nil {
			http.NotFound(w, req)
			return
		}

		// Verify containment using filepath.Rel (CodeQL-recognized pattern)
		rel, err := filepath.Rel(absUploadsDir, absFilePath)
		if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			http.NotFound(w, req)
			return
		}

		http.ServeFile(w, req, absFilePath)
	})
}
