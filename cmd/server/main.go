package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/latex-ai/latex-ai-be/internal/api"
	"github.com/latex-ai/latex-ai-be/internal/circuitbreaker"
	"github.com/latex-ai/latex-ai-be/internal/config"
	"github.com/latex-ai/latex-ai-be/internal/keys"
	"github.com/latex-ai/latex-ai-be/internal/logging"
	"github.com/latex-ai/latex-ai-be/internal/prompt"
	"github.com/latex-ai/latex-ai-be/internal/relay"
	"github.com/latex-ai/latex-ai-be/internal/retry"
	"github.com/latex-ai/latex-ai-be/internal/store"
	"github.com/latex-ai/latex-ai-be/internal/ws"
	"github.com/latex-ai/latex-ai-be/pkg/gemini"
	"github.com/latex-ai/latex-ai-be/pkg/groq"
	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if envErr != nil {
		logger.Warn(".env file not loaded", zap.Error(envErr))
	}

	err = run(cfg, logger)
	if err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the service and serves until a shutdown signal arrives or the
// listener fails. Deferred cleanup runs on every return path.
func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	rotator, err := keys.NewRotator(cfg.APIKeys())
	if err != nil {
		return fmt.Errorf("no usable upstream credentials for %s: %w", cfg.Provider, err)
	}

	client, model := newClient(cfg)
	logger.Info("upstream configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", model),
		zap.Int("credentials", rotator.Len()),
	)

	// Generation log: PostgreSQL when configured, memory otherwise
	var generations store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.Open(store.Config{
			URL:             cfg.DatabaseURL,
			MaxConnections:  10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pg.Close()

		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pg.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to prepare database: %w", err)
		}
		generations = pg
		logger.Info("generation log: postgres")
	} else {
		generations = store.NewMemoryStore(10000)
		logger.Info("generation log: memory")
	}

	breaker := circuitbreaker.NewCircuitBreaker(cfg.CircuitMaxFailures, cfg.CircuitResetTimeout)

	solver := relay.New(relay.Deps{
		Client:   client,
		Rotator:  rotator,
		Prompts:  prompt.NewBuilder(cfg.Subject),
		Breaker:  breaker,
		Recorder: generations,
		Logger:   logger.Named("relay"),
		Config: relay.Config{
			Model:       model,
			Temperature: &cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			RequireSeed: cfg.RequireSeed,
			Retry: retry.Policy{
				MaxAttempts:  cfg.RetryMaxAttempts,
				InitialDelay: cfg.RetryInitialDelay,
			},
		},
	})

	wsHandler := ws.NewHandler(solver, logger.Named("ws"), ws.Config{
		AllowedOrigins:    cfg.AllowedOrigins,
		MessagesPerMinute: cfg.RateLimitPerMinute,
		MessageBurst:      cfg.RateLimitBurst,
	})

	router, err := api.NewRouter(api.RouterConfig{
		Logger:             logger.Named("http"),
		AllowedOrigins:     cfg.AllowedOrigins,
		TrustedProxies:     cfg.TrustedProxies,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		Generate:           api.NewGenerateHandler(solver),
		Stats:              api.NewStatsHandler(generations, breaker, rotator.Len()),
		WebSocket:          wsHandler.HandleGenerate,
	})
	if err != nil {
		return err
	}

	// No WriteTimeout: solutions stream for as long as the upstream does
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Strings("allowed_origins", cfg.AllowedOrigins),
			zap.Strings("trusted_proxies", cfg.TrustedProxies),
			zap.Bool("require_seed", cfg.RequireSeed),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// newClient builds the upstream client for the configured provider and
// returns the model it will use
func newClient(cfg *config.Config) (llm.Client, string) {
	switch cfg.Provider {
	case config.ProviderGemini:
		c := gemini.NewHTTPClient(gemini.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.UpstreamTimeout,
		})
		return c, c.Model()
	default:
		c := groq.NewHTTPClient(groq.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.UpstreamTimeout,
		})
		return c, c.Model()
	}
}
