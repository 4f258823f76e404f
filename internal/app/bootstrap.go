package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/audit"
	"github.com/jia-app/recoveryservice/internal/auth"
	"github.com/jia-app/recoveryservice/internal/billing"
	"github.com/jia-app/recoveryservice/internal/cache"
	"github.com/jia-app/recoveryservice/internal/circuitbreaker"
	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/notify"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
	"github.com/jia-app/recoveryservice/internal/recovery/repo/postgres"
	"github.com/jia-app/recoveryservice/internal/recovery/usecase"
)

// Engine bundles the recovery operation surface behind one wiring
// point.
type Engine struct {
	Tracker   *usecase.Tracker
	Retries   *usecase.RetryScheduler
	Campaigns *usecase.CampaignEngine
	Accounts  *usecase.AccountMachine
	Analytics *usecase.Analytics
	Validator auth.Validator
}

// buildEngine wires the usecase layer over storage and the external
// collaborators.
func buildEngine(cfg *config.Config, store repo.Store, redisCache *cache.Cache, publisher events.Publisher, logger *zap.Logger) (*Engine, error) {
	auditor := audit.NewManager(audit.NewZapAuditLogger(logger))

	processor, err := newProcessor(cfg, logger)
	if err != nil {
		return nil, err
	}
	breaker := circuitbreaker.New("payment-processor", circuitbreaker.DefaultConfig(), logger)

	validator, err := auth.NewJWTValidator(cfg.Auth.SigningSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to build token validator: %w", err)
	}

	notifier := notify.NewEventNotifier(publisher)

	accounts := usecase.NewAccountMachine(store.AccountState(), store.Failure(), store.Campaign(),
		redisCache, publisher, auditor, nil, cfg.Recovery)
	campaigns := usecase.NewCampaignEngine(store.Campaign(), store.Failure(),
		notifier, accounts, publisher, auditor)
	retries := usecase.NewRetryScheduler(store.Failure(), processor, breaker,
		campaigns, accounts, publisher, auditor, cfg.Recovery)
	tracker := usecase.NewTracker(store.Failure(), redisCache, publisher, accounts, cfg.Recovery)
	analytics := usecase.NewAnalytics(store.Analytics(), store.Failure(), store.Campaign())

	return &Engine{
		Tracker:   tracker,
		Retries:   retries,
		Campaigns: campaigns,
		Accounts:  accounts,
		Analytics: analytics,
		Validator: validator,
	}, nil
}

// newProcessor creates the payment processor collaborator.
func newProcessor(cfg *config.Config, logger *zap.Logger) (billing.Processor, error) {
	processor, err := billing.NewStripeProcessor(cfg.Stripe.SecretKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment processor: %w", err)
	}
	logger.Info("Stripe payment processor initialized")
	return processor, nil
}

// initializeStore creates the durable store.
func initializeStore(ctx context.Context, cfg *config.Config) (repo.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg := postgres.DefaultPoolConfig()
	poolCfg.DSN = cfg.Database.GetDSN()
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	return postgres.NewStore(ctx, poolCfg)
}

// storeHealth adapts the store's health check for the readiness probe.
func storeHealth(store repo.Store) metrics.HealthFunc {
	type healthChecker interface {
		Health(ctx context.Context) error
	}
	if hc, ok := store.(healthChecker); ok {
		return hc.Health
	}
	return nil
}

// initializePublisher creates the Kafka publisher, or a noop one when no
// brokers are configured.
func initializePublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("No Kafka brokers configured, events will be discarded")
		return events.NewNoopPublisher(), nil
	}

	publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers,
		cfg.Kafka.EventTopic, cfg.Kafka.NotificationTopic)
	if err != nil {
		return nil, err
	}
	logger.Info("Kafka event publisher initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("event_topic", cfg.Kafka.EventTopic))
	return publisher, nil
}
