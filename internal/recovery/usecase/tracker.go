package usecase

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/cache"
	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// idempotencyRetention bounds how long a processor event key is held for
// duplicate shedding. Storage lookup remains the backstop after expiry.
const idempotencyRetention = 48 * time.Hour

// FailureEvent is a processor-delivered failed-payment event.
type FailureEvent struct {
	CustomerID      string         `json:"customer_id"`
	SubscriptionID  *string        `json:"subscription_id,omitempty"`
	Amount          int64          `json:"amount"` // minor units
	Currency        string         `json:"currency"`
	FailureReason   string         `json:"failure_reason"`
	FailureCode     string         `json:"failure_code"`
	PaymentMethodID string         `json:"payment_method_id"`
	IdempotencyKey  string         `json:"idempotency_key"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Tracker owns the payment failure lifecycle: recording processor
// failure events and serving failure queries.
type Tracker struct {
	failures  repo.FailureRepository
	cache     *cache.Cache
	publisher events.Publisher
	accounts  *AccountMachine
	backoff   BackoffPolicy
	cfg       config.RecoveryConfig
}

// NewTracker creates a new failure tracker.
func NewTracker(
	failures repo.FailureRepository,
	c *cache.Cache,
	publisher events.Publisher,
	accounts *AccountMachine,
	cfg config.RecoveryConfig,
) *Tracker {
	return &Tracker{
		failures:  failures,
		cache:     c,
		publisher: publisher,
		accounts:  accounts,
		backoff:   NewBackoffPolicy(cfg),
		cfg:       cfg,
	}
}

// RecordFailure creates or refreshes the open failure for the event's
// (customer, subscription) pair. Duplicate events sharing an idempotency
// key return the already-recorded failure without mutation.
func (t *Tracker) RecordFailure(ctx context.Context, event FailureEvent) (*domain.PaymentFailure, error) {
	if event.CustomerID == "" {
		return nil, domain.NewValidationError("customer_id is required", "")
	}
	if event.IdempotencyKey == "" {
		return nil, domain.NewValidationError("idempotency_key is required", "")
	}
	if event.Amount <= 0 {
		return nil, domain.NewValidationError("amount must be positive", strconv.FormatInt(event.Amount, 10))
	}
	if event.Currency == "" {
		return nil, domain.NewValidationError("currency is required", "")
	}

	ctx = log.WithCustomerID(ctx, event.CustomerID)

	// Fast duplicate shedding via redis, backstopped by storage below.
	if t.cache != nil {
		firstSeen, err := t.cache.MarkOnce(ctx, event.IdempotencyKey, idempotencyRetention)
		if err != nil {
			log.Warn(ctx, "Idempotency cache unavailable, falling back to storage",
				zap.Error(err))
		} else if !firstSeen {
			existing, err := t.failures.GetByIdempotencyKey(ctx, event.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				metrics.FailuresRecorded.WithLabelValues(event.Currency, "true").Inc()
				return existing, nil
			}
		}
	}

	if existing, err := t.failures.GetByIdempotencyKey(ctx, event.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		metrics.FailuresRecorded.WithLabelValues(event.Currency, "true").Inc()
		return existing, nil
	}

	now := time.Now()

	open, err := t.failures.GetOpenBySubscription(ctx, event.CustomerID, event.SubscriptionID)
	if err != nil {
		return nil, err
	}

	var failure *domain.PaymentFailure
	if open != nil {
		// Another processor event against an already-open case refreshes
		// the failure details without resetting the retry budget.
		open.Amount = event.Amount
		open.Currency = event.Currency
		open.FailureReason = event.FailureReason
		open.FailureCode = event.FailureCode
		if event.PaymentMethodID != "" {
			open.PaymentMethodID = event.PaymentMethodID
		}
		open.UpdatedAt = now
		if err := t.failures.Update(ctx, open); err != nil {
			return nil, err
		}
		failure = open
	} else {
		nextRetry := now.Add(t.backoff.Delay(0))
		failure = &domain.PaymentFailure{
			ID:               uuid.New(),
			CustomerID:       event.CustomerID,
			SubscriptionID:   event.SubscriptionID,
			Amount:           event.Amount,
			Currency:         event.Currency,
			FailureReason:    event.FailureReason,
			FailureCode:      event.FailureCode,
			Status:           domain.FailureStatusPending,
			RetryCount:       0,
			MaxRetryAttempts: t.cfg.MaxRetryAttempts,
			NextRetryAt:      &nextRetry,
			IdempotencyKey:   event.IdempotencyKey,
			PaymentMethodID:  event.PaymentMethodID,
			Metadata:         event.Metadata,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := t.failures.Create(ctx, failure); err != nil {
			return nil, err
		}
	}

	metrics.FailuresRecorded.WithLabelValues(event.Currency, "false").Inc()
	log.Info(ctx, "Payment failure recorded",
		zap.String("failure_id", failure.ID.String()),
		zap.Int64("amount", failure.Amount),
		zap.String("currency", failure.Currency),
		zap.String("failure_code", failure.FailureCode))

	if t.publisher != nil {
		if err := t.publisher.PublishRecoveryEvent(ctx, &events.RecoveryEvent{
			Type:        events.TypeFailureRecorded,
			CustomerID:  failure.CustomerID,
			FailureID:   failure.ID.String(),
			Amount:      failure.Amount,
			Currency:    failure.Currency,
			RetryCount:  failure.RetryCount,
			NextRetryAt: events.UnixPtr(failure.NextRetryAt),
			Reason:      failure.FailureReason,
		}); err != nil {
			log.Warn(ctx, "Failed to publish failure event", zap.Error(err))
		}
	}

	// Billing health changed; re-derive the account state.
	if t.accounts != nil {
		if _, err := t.accounts.Recalculate(ctx, failure.CustomerID); err != nil {
			log.Error(ctx, "Account recalculation failed after failure record",
				zap.String("customer_id", failure.CustomerID),
				zap.Error(err))
		}
	}

	return failure, nil
}

// GetFailure loads one failure, enforcing ownership.
func (t *Tracker) GetFailure(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error) {
	failure, err := t.failures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	actor, ok := domain.ActorFromContext(ctx)
	if ok && !actor.CanAccessCustomer(failure.CustomerID) {
		return nil, domain.NewAccessDeniedError("caller may not read this failure")
	}
	return failure, nil
}

// ListFailures lists failures matching the filter. Customers are scoped
// to their own failures; admins may query across customers.
func (t *Tracker) ListFailures(ctx context.Context, filter domain.FailureFilter) ([]*domain.PaymentFailure, error) {
	if actor, ok := domain.ActorFromContext(ctx); ok && !actor.IsAdmin() {
		filter.CustomerID = actor.ID
	}
	return t.failures.List(ctx, filter)
}
