// Package app wires the campaigner components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokopoints/campaigner/internal/api"
	"github.com/tokopoints/campaigner/internal/audience"
	"github.com/tokopoints/campaigner/internal/config"
	"github.com/tokopoints/campaigner/internal/directory"
	"github.com/tokopoints/campaigner/internal/dispatch"
	"github.com/tokopoints/campaigner/internal/metrics"
	"github.com/tokopoints/campaigner/internal/outcome"
	"github.com/tokopoints/campaigner/internal/store"
	"github.com/tokopoints/campaigner/internal/transport"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *store.Store
	outcomes      outcome.Publisher
	dispatcher    *dispatch.Dispatcher
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	var dir audience.Directory
	switch cfg.Directory.Driver {
	case "postgres":
		pg, err := directory.OpenPostgres(cfg.Directory.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to recipient directory: %w", err)
		}
		dir = pg
		logger.Info("recipient directory connected", "driver", "postgres")
	case "memory":
		dir = directory.NewMemoryDirectory()
		logger.Warn("using in-memory recipient directory")
	default:
		return nil, fmt.Errorf("unknown directory driver: %s", cfg.Directory.Driver)
	}

	resolver := audience.NewResolver(dir, nil)

	sender := transport.NewGatewayClient(
		cfg.Transport.BaseURL,
		cfg.Transport.APIKey,
		cfg.Transport.Timeout,
	)

	var outcomes outcome.Publisher
	switch cfg.Outcomes.Driver {
	case "amqp":
		outcomes, err = outcome.NewAMQPPublisher(cfg.Outcomes.URL, cfg.Outcomes.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to outcome broker: %w", err)
		}
		logger.Info("outcome publishing enabled", "driver", "amqp", "queue", cfg.Outcomes.Queue)
	default:
		outcomes = outcome.NewLogPublisher(logger.With("component", "outcomes"))
	}

	m := metrics.New()

	dispatcher := dispatch.New(
		st,
		resolver,
		sender,
		outcomes,
		cfg.Delivery,
		dispatch.Config{
			Workers:             cfg.Dispatch.Workers,
			MaxAttempts:         cfg.Dispatch.MaxAttempts,
			RetryDelay:          cfg.Dispatch.RetryDelay,
			SendTimeout:         cfg.Dispatch.SendTimeout,
			FailureWindow:       cfg.Dispatch.FailureWindow,
			AutoPauseMinSamples: cfg.Dispatch.AutoPauseMinSamples,
			SchedulerInterval:   cfg.Dispatch.SchedulerInterval,
		},
		m,
		logger,
	)

	apiServer := api.NewServer(st, resolver, dispatcher, cfg.Delivery, m,
		&cfg.Server, logger.With("component", "api"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	return &App{
		config:        cfg,
		store:         st,
		outcomes:      outcomes,
		dispatcher:    dispatcher,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Run starts all components and blocks until a signal or a fatal error
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting campaigner",
		"api_addr", a.config.Server.ListenAddr,
		"directory", a.config.Directory.Driver,
		"throttle_per_minute", a.config.Delivery.ThrottlePerMinute,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Pick up campaigns interrupted mid-send by the previous process.
	if err := a.dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover sending campaigns: %w", err)
	}

	go a.dispatcher.RunScheduler(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("fatal error", "error", err)
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Drain in-flight sends; interrupted campaigns stay in sending and
	// are recovered on the next start.
	a.dispatcher.Stop()

	if err := a.outcomes.Close(); err != nil {
		a.logger.Error("outcome publisher close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
