// promptd-server - HTTP front end for the promptd conversation service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/promptd/promptd/internal/api"
	"github.com/promptd/promptd/internal/config"
	"github.com/promptd/promptd/internal/contextwin"
	"github.com/promptd/promptd/internal/dispatch"
	"github.com/promptd/promptd/internal/keypool"
	"github.com/promptd/promptd/internal/middleware"
	"github.com/promptd/promptd/internal/provider"
	"github.com/promptd/promptd/internal/session"
	"github.com/promptd/promptd/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.DefaultModel)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	pool := keypool.Load(cfg.APIKeys,
		keypool.WithLogger(logger),
		keypool.WithValidator(func(c keypool.Credential) bool {
			return strings.HasPrefix(string(c), "sk-")
		}),
	)
	slog.Info("Credential pool loaded", "size", pool.Size())

	dispatcher := dispatch.New(pool, dispatch.WithLogger(logger))

	resolve := func(model string) (provider.Client, error) {
		return provider.Resolve(model, provider.ResolverConfig{
			OpenAIBaseURL: cfg.OpenAIBaseURL,
			OllamaBaseURL: cfg.OllamaBaseURL,
			Timeout:       cfg.RequestTimeout,
			Logger:        logger,
		})
	}

	svc, err := session.New(session.Config{
		Repo:          repo,
		Dispatcher:    dispatcher,
		Window:        contextwin.New(),
		Resolve:       resolve,
		DefaultModel:  cfg.DefaultModel,
		ContextBudget: cfg.ContextBudget,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("Failed to initialize session service", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	handler := api.NewHandler(svc, logger)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}
