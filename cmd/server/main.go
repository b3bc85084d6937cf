// hostbot - webhook chat relay for property hosts
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

	"github.com/ashureev/hostbot/internal/api"
	"github.com/ashureev/hostbot/internal/chat"
	"github.com/ashureev/hostbot/internal/config"
	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/fetch"
	"github.com/ashureev/hostbot/internal/identity"
	"github.com/ashureev/hostbot/internal/ingest"
	"github.com/ashureev/hostbot/internal/knowledge"
	"github.com/ashureev/hostbot/internal/llm"
	"github.com/ashureev/hostbot/internal/middleware"
	"github.com/ashureev/hostbot/internal/session"
	"github.com/ashureev/hostbot/internal/store"
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

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.OpenAIModel, "db_path", cfg.DBPath)
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; completion calls will fail")
	}

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

	created, err := repo.EnsureProfile(context.Background(), &domain.Profile{
		ID:        cfg.DefaultProfileID,
		Name:      cfg.DefaultProfileName,
		Locale:    cfg.DefaultLocale,
		City:      cfg.DefaultCity,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Error("Failed to bootstrap default profile", "error", err)
		os.Exit(1)
	}
	slog.Info("Default profile ready", "profile_id", cfg.DefaultProfileID, "created", created)

	completer, err := llm.NewClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.CompletionTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize completion client", "error", err)
		os.Exit(1)
	}

	policy, err := chat.ParseInvalidationPolicy(cfg.InvalidationPolicy)
	if err != nil {
		slog.Error("Invalid invalidation policy", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	sessions := session.NewStore(cfg.MaxTurns)
	chatSvc := chat.NewService(repo, sessions, completer, chat.Config{
		Temperature: cfg.ChatTemperature,
		Policy:      policy,
	})
	fetcher := fetch.New(&http.Client{Timeout: cfg.FetchTimeout}, cfg.SourceMaxChars)
	ingestSvc := ingest.NewService(fetcher, knowledge.NewExtractor(completer), chatSvc, repo, ingest.Defaults{
		ProfileID: cfg.DefaultProfileID,
		Name:      cfg.DefaultProfileName,
		Locale:    cfg.DefaultLocale,
		City:      cfg.DefaultCity,
	})

	// Initialize handlers.
	handler := api.NewHandler(chatSvc, ingestSvc, repo, api.Options{
		DefaultProfileID: cfg.DefaultProfileID,
		DefaultLocale:    cfg.DefaultLocale,
		MaxBodyBytes:     cfg.MaxRequestBodyBytes,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.DefaultProfileID))

	handler.RegisterRoutes(r)

	// Create server. WriteTimeout covers a source fetch plus a completion.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.FetchTimeout + cfg.CompletionTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SessionTTL > 0 {
		session.StartTTLWorker(ctx, sessions, cfg.SessionTTL, cfg.SessionSweepInterval)
	}

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
