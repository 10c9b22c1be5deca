// Sereno - Conversational Wellness Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/serenoapp/sereno/internal/analysis"
	"github.com/serenoapp/sereno/internal/api"
	"github.com/serenoapp/sereno/internal/chat"
	"github.com/serenoapp/sereno/internal/config"
	"github.com/serenoapp/sereno/internal/identity"
	"github.com/serenoapp/sereno/internal/llm"
	"github.com/serenoapp/sereno/internal/middleware"
	"github.com/serenoapp/sereno/internal/session"
	"github.com/serenoapp/sereno/internal/store"
	"github.com/serenoapp/sereno/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	if cfg.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY not set, provider calls will fail until configured")
	}
	completer := llm.NewClient(cfg.LLM)

	// Initialize services.
	sessionCfg := session.Config{
		DailyCap:                 cfg.Chat.DailyConversationCap,
		ExchangesPerConversation: cfg.Chat.ExchangesPerConversation,
		ContextWindow:            cfg.Chat.ContextWindow,
		RevealChunkSize:          cfg.Chat.RevealChunkSize,
		RevealTick:               cfg.Chat.RevealTick,
		WatchdogTimeout:          cfg.Chat.WatchdogTimeout,
	}
	sessions := session.NewManager(sessionCfg, repo, completer)
	analyzer := analysis.NewService(repo, completer, cfg.Chat.SuggestionBatchSize, cfg.Chat.RequireSuggestionNote)

	limiter := chat.NewRateLimiter(20, time.Minute)
	defer limiter.Stop()

	// Initialize handlers.
	wellnessHandler := api.NewWellnessHandler(repo, sessions, analyzer)
	chatHandler := chat.NewHandler(sessions, limiter)
	wsHandler := chat.NewWebSocketHandler(sessions, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	wellnessHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server. WriteTimeout stays generous: a submit response waits
	// for the full reveal playback, bounded by the watchdog ceiling.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * cfg.Chat.WatchdogTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle controller eviction.
	session.StartEvictionWorker(ctx, sessions, cfg.SessionTTL)
	slog.Info("Eviction worker started", "session_ttl", cfg.SessionTTL)

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
