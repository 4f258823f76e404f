package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/cache"
	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
	"github.com/jia-app/recoveryservice/internal/recovery/usecase"
	"github.com/jia-app/recoveryservice/internal/tracing"
)

// App represents the recovery service application
type App struct {
	config        *config.Config
	logger        *zap.Logger
	store         repo.Store
	cache         *cache.Cache
	publisher     events.Publisher
	engine        *Engine
	sweeper       *usecase.Sweeper
	metricsServer *metrics.Server
	closeTracing  func()
}

// New creates a new application instance
func New(cfg *config.Config) (*App, error) {
	if err := log.Init(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	ctx := context.Background()
	logger := log.L(ctx)

	logger.Info("Initializing recovery service application",
		zap.String("app_name", cfg.AppName),
		zap.String("metrics_addr", cfg.Metrics.Addr))

	var closeTracing func()
	if cfg.Tracing.Enabled {
		cleanup, err := tracing.Init(tracing.Config{
			ServiceName:    cfg.AppName,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SamplingRatio:  cfg.Tracing.SamplingRatio,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		closeTracing = cleanup
	}

	store, err := initializeStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Redis is optional: without it, idempotency dedup falls back to
	// storage lookups and feature reads skip the cache.
	redisCache, err := cache.NewCache(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis initialization failed, continuing without cache",
			zap.Error(err),
			zap.String("redis_addr", cfg.Redis.GetRedisAddr()))
		redisCache = nil
	}

	publisher, err := initializePublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	engine, err := buildEngine(cfg, store, redisCache, publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build recovery engine: %w", err)
	}

	sweeper := usecase.NewSweeper(store.Failure(), store.Campaign(),
		engine.Retries, engine.Campaigns, cfg.Recovery)

	metricsServer := metrics.NewServer(cfg.Metrics.Addr, storeHealth(store), logger)

	return &App{
		config:        cfg,
		logger:        logger,
		store:         store,
		cache:         redisCache,
		publisher:     publisher,
		engine:        engine,
		sweeper:       sweeper,
		metricsServer: metricsServer,
		closeTracing:  closeTracing,
	}, nil
}

// Engine returns the wired operation surface.
func (a *App) Engine() *Engine {
	return a.engine
}

// Run starts the sweep loop and the metrics server and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting recovery service application")

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.metricsServer.Start(ctx)
	}()
	go a.sweeper.Run(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down recovery service application")

	if err := a.metricsServer.Shutdown(ctx); err != nil {
		a.logger.Error("Failed to shut down metrics server", zap.Error(err))
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("Failed to close event publisher", zap.Error(err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close store", zap.Error(err))
		}
	}

	if a.closeTracing != nil {
		a.closeTracing()
	}

	a.logger.Info("Application shutdown complete")
	return nil
}
