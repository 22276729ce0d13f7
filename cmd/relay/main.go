// Command relay serves the streaming chat relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kilonzo683/smartwebai-sub002/internal/adapter/llm"
	"github.com/kilonzo683/smartwebai-sub002/internal/config"
	"github.com/kilonzo683/smartwebai-sub002/internal/logging"
	"github.com/kilonzo683/smartwebai-sub002/internal/policy"
	"github.com/kilonzo683/smartwebai-sub002/internal/prompt"
	"github.com/kilonzo683/smartwebai-sub002/internal/ratelimit"
	store "github.com/kilonzo683/smartwebai-sub002/internal/repository"
	"github.com/kilonzo683/smartwebai-sub002/internal/service"
	handler "github.com/kilonzo683/smartwebai-sub002/internal/transport/http"
	"github.com/kilonzo683/smartwebai-sub002/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Int("port", cfg.HTTPPort).
		Str("database", cfg.DatabaseURL).
		Str("upstream", cfg.UpstreamURL).
		Str("model", cfg.UpstreamModel).
		Bool("mock", cfg.IsMock()).
		Msg("starting relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	prompts, err := loadPrompts(cfg)
	if err != nil {
		return err
	}

	policyEngine, err := loadPolicy(ctx, cfg)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := loadLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	svc := service.New(service.Deps{
		Store:    db,
		Provider: llm.NewProvider(cfg, logger),
		Prompts:  prompts,
		Policy:   policyEngine,
		Limiter:  limiter,
		Config:   cfg,
		Logger:   logger,
	})

	hub := ws.NewHub(logger)
	wsServer := ws.NewServer(cfg, hub, svc, logger)
	e := handler.NewServer(svc, logger, wsServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("relay listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		wsServer.Shutdown()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to shutdown http server gracefully")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("relay stopped")
	return nil
}

func loadPrompts(cfg *config.Config) (*prompt.Registry, error) {
	if cfg.PromptsFile == "" {
		return prompt.NewRegistry(), nil
	}
	prompts, err := prompt.LoadFile(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	return prompts, nil
}

func loadPolicy(ctx context.Context, cfg *config.Config) (*policy.Engine, error) {
	var (
		engine *policy.Engine
		err    error
	)
	if cfg.PolicyFile != "" {
		engine, err = policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	} else {
		engine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	return engine, nil
}

func loadLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("tenant rate limiting disabled")
		return ratelimit.Noop{}, func() {}, nil
	}
	limiter, err := ratelimit.Connect(ctx, cfg.RedisURL, cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect rate limiter: %w", err)
	}
	logger.Info().
		Int("requests", cfg.RateLimitRequests).
		Dur("window", cfg.RateLimitWindow).
		Msg("tenant rate limiting enabled")
	return limiter, func() { limiter.Close() }, nil
}
