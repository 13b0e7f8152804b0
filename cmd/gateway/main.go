package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/config"
	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/manager"
	"github.com/switchboard-ai/switchboard/providers"
	"github.com/switchboard-ai/switchboard/providers/openai"
	"github.com/switchboard-ai/switchboard/routes"
)

func main() {
	ctx := context.Background()

	cfg, err := config.New(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewZapLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewPrometheusMetrics()

	mgr := manager.New(adapterFactory(cfg), manager.Config{
		Provider:      cfg.Resilience,
		Weights:       cfg.Selection.Weights,
		TaskOverrides: cfg.Selection.TaskOverrides,
		Strategy:      cfg.Selection.Strategy,
	}, metrics, logger)
	defer mgr.Close()

	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start health monitor", zap.Error(err))
	}

	registerConfiguredProviders(ctx, cfg, mgr, logger)

	handler := routes.SetupRoutes(&routes.Dependencies{
		Config:  cfg,
		Manager: mgr,
		Logger:  logger,
		Metrics: metrics,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", cfg.Server.Address()),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// adapterFactory builds concrete adapters by provider name.
func adapterFactory(cfg *config.Config) manager.Factory {
	return func(name string, creds manager.Credentials, rcfg providers.Config, logger *zap.Logger) (providers.Adapter, error) {
		switch name {
		case "openai":
			baseURL := creds.BaseURL
			if baseURL == "" {
				baseURL = cfg.Providers.OpenAI.BaseURL
			}
			return openai.New(openai.Config{
				APIKey:  creds.APIKey,
				BaseURL: baseURL,
				OrgID:   creds.OrgID,
			}, rcfg, logger), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
}

// registerConfiguredProviders seeds the registry from startup config.
// Failures are logged, not fatal: providers can be registered later via
// the management API.
func registerConfiguredProviders(ctx context.Context, cfg *config.Config, mgr *manager.Manager, logger *zap.Logger) {
	if cfg.Providers.OpenAI.APIKey == "" {
		logger.Warn("no providers configured at startup")
		return
	}
	if _, err := mgr.AddProvider(ctx, "openai", manager.Credentials{
		APIKey:  cfg.Providers.OpenAI.APIKey,
		BaseURL: cfg.Providers.OpenAI.BaseURL,
		OrgID:   cfg.Providers.OpenAI.OrgID,
	}); err != nil {
		logger.Error("failed to register openai provider", zap.Error(err))
	}
}
