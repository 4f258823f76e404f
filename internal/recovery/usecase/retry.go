package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/audit"
	"github.com/jia-app/recoveryservice/internal/billing"
	"github.com/jia-app/recoveryservice/internal/circuitbreaker"
	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
	"github.com/jia-app/recoveryservice/internal/retry"
	"github.com/jia-app/recoveryservice/internal/tracing"
)

// RetryPaymentRequest asks for one charge attempt against an open
// failure. SkipRetryCount is admin-only and leaves the retry budget
// untouched on a failed attempt.
type RetryPaymentRequest struct {
	FailureID       uuid.UUID `json:"failure_id"`
	PaymentMethodID string    `json:"payment_method_id,omitempty"`
	SkipRetryCount  bool      `json:"skip_retry_count,omitempty"`
}

// RetryScheduler executes payment retries and owns the backoff
// schedule. Both the periodic sweep and on-demand manual retries go
// through RetryPayment; the optimistic status flip before the charge is
// what keeps concurrent callers from double-charging.
type RetryScheduler struct {
	failures  repo.FailureRepository
	processor billing.Processor
	breaker   *circuitbreaker.CircuitBreaker
	campaigns *CampaignEngine
	accounts  *AccountMachine
	publisher events.Publisher
	auditor   *audit.Manager
	backoff   BackoffPolicy
	cfg       config.RecoveryConfig
}

// NewRetryScheduler creates a new retry scheduler.
func NewRetryScheduler(
	failures repo.FailureRepository,
	processor billing.Processor,
	breaker *circuitbreaker.CircuitBreaker,
	campaigns *CampaignEngine,
	accounts *AccountMachine,
	publisher events.Publisher,
	auditor *audit.Manager,
	cfg config.RecoveryConfig,
) *RetryScheduler {
	return &RetryScheduler{
		failures:  failures,
		processor: processor,
		breaker:   breaker,
		campaigns: campaigns,
		accounts:  accounts,
		publisher: publisher,
		auditor:   auditor,
		backoff:   NewBackoffPolicy(cfg),
		cfg:       cfg,
	}
}

// RetryPayment attempts to charge the failure's outstanding amount.
//
// A success resolves the failure and cascades to the linked campaign and
// the account state. A declined charge consumes a retry attempt and
// reschedules per backoff, escalating once the budget is spent. A
// processor outage also consumes an attempt and reschedules; it is not
// surfaced as a fatal error. Retrying a terminal or concurrently-mutated
// failure is a no-op returning the current state.
func (s *RetryScheduler) RetryPayment(ctx context.Context, req RetryPaymentRequest) (*domain.PaymentFailure, error) {
	if req.FailureID == uuid.Nil {
		return nil, domain.NewValidationError("failure_id is required", "")
	}

	actor, ok := domain.ActorFromContext(ctx)
	if !ok {
		return nil, domain.NewAccessDeniedError("caller identity is required")
	}

	failure, err := s.failures.GetByID(ctx, req.FailureID)
	if err != nil {
		return nil, err
	}

	ctx = log.WithCustomerID(ctx, failure.CustomerID)

	if !actor.CanAccessCustomer(failure.CustomerID) {
		_ = s.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"retry_payment", "payment_failure", failure.ID.String(), "caller is not owner or admin")
		return nil, domain.NewAccessDeniedError("caller may not retry this failure")
	}
	if req.SkipRetryCount && !actor.IsAdmin() {
		_ = s.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"retry_payment", "payment_failure", failure.ID.String(), "skip_retry_count requires admin")
		return nil, domain.NewAccessDeniedError("skip_retry_count requires admin")
	}

	if failure.Terminal() {
		return failure, domain.NewInvalidStateError("failure is terminal",
			fmt.Sprintf("status: %s", failure.Status))
	}
	if failure.Status == domain.FailureStatusEscalated && !req.SkipRetryCount {
		return failure, domain.NewInvalidStateError("failure is escalated",
			"retry budget exhausted; admin skip_retry_count required")
	}
	if failure.AttemptsExhausted() && !req.SkipRetryCount {
		return failure, domain.NewInvalidStateError("retry attempts exhausted",
			fmt.Sprintf("retry_count: %d", failure.RetryCount))
	}

	paymentMethodID := req.PaymentMethodID
	if paymentMethodID == "" {
		paymentMethodID = failure.PaymentMethodID
	}
	if paymentMethodID == "" {
		return nil, domain.NewValidationError("payment_method_id is required",
			"failure has no stored payment method")
	}

	// Claim the attempt with an optimistic pre-state check. Losing the
	// race means someone else already mutated the failure; no charge
	// happens in that case.
	now := time.Now()
	prev := failure.Status
	failure.Status = domain.FailureStatusRetrying
	failure.LastRetryAt = &now
	failure.NextRetryAt = nil
	failure.UpdatedAt = now

	claimed, err := s.failures.UpdateIfStatus(ctx, failure, prev)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.failures.GetByID(ctx, req.FailureID)
		if err != nil {
			return nil, err
		}
		return current, domain.NewInvalidStateError("failure mutated concurrently",
			fmt.Sprintf("status: %s", current.Status))
	}

	result, chargeErr := s.charge(ctx, failure, paymentMethodID)
	if chargeErr != nil {
		// Processor outage: the transport retry is exhausted, so the
		// attempt is consumed and rescheduled per backoff.
		metrics.ProcessorCalls.WithLabelValues("error").Inc()
		metrics.RetryAttempts.WithLabelValues("upstream_failure").Inc()
		log.Error(ctx, "Payment processor unavailable",
			zap.String("failure_id", failure.ID.String()),
			zap.Error(chargeErr))
		_ = s.auditor.LogChargeAttempt(ctx, actor.ID, string(actor.Role),
			failure.ID.String(), "", false, chargeErr.Error())
		return s.recordFailedAttempt(ctx, actor, failure, req.SkipRetryCount, now)
	}

	if result.Success {
		metrics.ProcessorCalls.WithLabelValues("success").Inc()
		return s.resolve(ctx, actor, failure, result, now)
	}

	metrics.ProcessorCalls.WithLabelValues("declined").Inc()
	log.Info(ctx, "Charge declined",
		zap.String("failure_id", failure.ID.String()),
		zap.String("error_code", result.ErrorCode))
	_ = s.auditor.LogChargeAttempt(ctx, actor.ID, string(actor.Role),
		failure.ID.String(), result.TransactionID, false, result.ErrorMessage)
	return s.recordFailedAttempt(ctx, actor, failure, req.SkipRetryCount, now)
}

// charge runs one processor call behind the circuit breaker with
// transport-level retries. The transport schedule is independent of the
// business-level backoff.
func (s *RetryScheduler) charge(ctx context.Context, failure *domain.PaymentFailure, paymentMethodID string) (*billing.ChargeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.charge")
	defer span.End()

	chargeReq := billing.ChargeRequest{
		CustomerID:      failure.CustomerID,
		PaymentMethodID: paymentMethodID,
		Amount:          failure.Amount,
		Currency:        failure.Currency,
		// Attempt-scoped key so a transport replay never charges twice.
		IdempotencyKey: fmt.Sprintf("retry-%s-%d", failure.ID, failure.RetryCount+1),
	}

	var result *billing.ChargeResult
	attempt := func() error {
		return retry.Do(ctx, retry.DefaultConfig(), log.L(ctx), func() error {
			r, err := s.processor.ChargePayment(ctx, chargeReq)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, attempt)
	} else {
		err = attempt()
	}
	if err != nil {
		return nil, domain.NewUpstreamFailureError("payment processor", err.Error())
	}
	return result, nil
}

// resolve finishes a successfully recovered failure and cascades to the
// campaign and account state.
func (s *RetryScheduler) resolve(ctx context.Context, actor domain.Actor, failure *domain.PaymentFailure, result *billing.ChargeResult, now time.Time) (*domain.PaymentFailure, error) {
	before := string(failure.Status)
	failure.MarkResolved(domain.ResolutionPaymentSucceeded, now)

	if err := s.failures.Update(ctx, failure); err != nil {
		return nil, err
	}

	metrics.RetryAttempts.WithLabelValues("success").Inc()
	metrics.RevenueRecovered.WithLabelValues(failure.Currency).Add(float64(failure.Amount))
	log.Info(ctx, "Payment recovered",
		zap.String("failure_id", failure.ID.String()),
		zap.String("transaction_id", result.TransactionID),
		zap.Int64("amount", failure.Amount))

	_ = s.auditor.LogChargeAttempt(ctx, actor.ID, string(actor.Role),
		failure.ID.String(), result.TransactionID, true, "")
	_ = s.auditor.LogStateChange(ctx, actor.ID, string(actor.Role),
		"retry_payment", "payment_failure", failure.ID.String(),
		before, string(failure.Status), map[string]any{"transaction_id": result.TransactionID})

	s.publish(ctx, &events.RecoveryEvent{
		Type:       events.TypeRetrySucceeded,
		CustomerID: failure.CustomerID,
		FailureID:  failure.ID.String(),
		Amount:     failure.Amount,
		Currency:   failure.Currency,
		RetryCount: failure.RetryCount,
	})

	if s.campaigns != nil {
		if err := s.campaigns.HandleFailureResolved(ctx, failure.ID); err != nil {
			log.Error(ctx, "Campaign completion cascade failed", zap.Error(err))
		}
	}
	if s.accounts != nil {
		if _, err := s.accounts.Recalculate(ctx, failure.CustomerID); err != nil {
			log.Error(ctx, "Account recalculation failed after resolution", zap.Error(err))
		}
	}

	return failure, nil
}

// recordFailedAttempt consumes a retry attempt (unless skipped),
// reschedules per backoff, and escalates when the budget is spent.
func (s *RetryScheduler) recordFailedAttempt(ctx context.Context, actor domain.Actor, failure *domain.PaymentFailure, skipRetryCount bool, now time.Time) (*domain.PaymentFailure, error) {
	before := string(failure.Status)

	if !skipRetryCount {
		failure.RetryCount++
	}

	if failure.AttemptsExhausted() {
		failure.Status = domain.FailureStatusEscalated
		failure.NextRetryAt = nil
	} else {
		next := now.Add(s.backoff.Delay(failure.RetryCount))
		failure.Status = domain.FailureStatusRetrying
		failure.NextRetryAt = &next
	}
	failure.UpdatedAt = now

	if err := s.failures.Update(ctx, failure); err != nil {
		return nil, err
	}

	metrics.RetryAttempts.WithLabelValues("failed").Inc()
	_ = s.auditor.LogStateChange(ctx, actor.ID, string(actor.Role),
		"retry_payment", "payment_failure", failure.ID.String(),
		before, string(failure.Status),
		map[string]any{"retry_count": failure.RetryCount})

	if failure.Status == domain.FailureStatusEscalated {
		log.Warn(ctx, "Failure escalated after exhausting retries",
			zap.String("failure_id", failure.ID.String()),
			zap.Int("retry_count", failure.RetryCount))
		s.publish(ctx, &events.RecoveryEvent{
			Type:       events.TypeFailureEscalated,
			CustomerID: failure.CustomerID,
			FailureID:  failure.ID.String(),
			RetryCount: failure.RetryCount,
		})
	} else {
		s.publish(ctx, &events.RecoveryEvent{
			Type:        events.TypeRetryFailed,
			CustomerID:  failure.CustomerID,
			FailureID:   failure.ID.String(),
			RetryCount:  failure.RetryCount,
			NextRetryAt: events.UnixPtr(failure.NextRetryAt),
		})
		s.publish(ctx, &events.RecoveryEvent{
			Type:        events.TypeRetryScheduled,
			CustomerID:  failure.CustomerID,
			FailureID:   failure.ID.String(),
			RetryCount:  failure.RetryCount,
			NextRetryAt: events.UnixPtr(failure.NextRetryAt),
		})
	}

	// A failing case feeds the dunning engine and the account state.
	if s.campaigns != nil && failure.RetryCount >= s.cfg.CampaignThreshold {
		if err := s.campaigns.EnsureCampaign(ctx, failure); err != nil {
			log.Error(ctx, "Campaign auto-creation failed", zap.Error(err))
		}
	}
	if s.accounts != nil {
		if _, err := s.accounts.Recalculate(ctx, failure.CustomerID); err != nil {
			log.Error(ctx, "Account recalculation failed after retry failure", zap.Error(err))
		}
	}

	return failure, nil
}

// Abandon marks a failure abandoned without further recovery attempts.
// Admin-only; cascades a cancel to the linked campaign and re-derives
// the account state.
func (s *RetryScheduler) Abandon(ctx context.Context, failureID uuid.UUID, reason string) (*domain.PaymentFailure, error) {
	if failureID == uuid.Nil {
		return nil, domain.NewValidationError("failure_id is required", "")
	}

	actor, ok := domain.ActorFromContext(ctx)
	if !ok || !actor.IsAdmin() {
		_ = s.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"abandon_failure", "payment_failure", failureID.String(), "admin role required")
		return nil, domain.NewAccessDeniedError("abandoning a failure requires admin")
	}

	failure, err := s.failures.GetByID(ctx, failureID)
	if err != nil {
		return nil, err
	}

	if failure.Terminal() {
		return failure, domain.NewInvalidStateError("failure is terminal",
			fmt.Sprintf("status: %s", failure.Status))
	}

	now := time.Now()
	before := failure.Status
	failure.MarkAbandoned(domain.ResolutionAbandonedManual, now)

	changed, err := s.failures.UpdateIfStatus(ctx, failure, before)
	if err != nil {
		return nil, err
	}
	if !changed {
		current, err := s.failures.GetByID(ctx, failureID)
		if err != nil {
			return nil, err
		}
		return current, domain.NewInvalidStateError("failure mutated concurrently",
			fmt.Sprintf("status: %s", current.Status))
	}

	_ = s.auditor.LogStateChange(ctx, actor.ID, string(actor.Role),
		"abandon_failure", "payment_failure", failure.ID.String(),
		string(before), string(failure.Status), map[string]any{"reason": reason})

	s.publish(ctx, &events.RecoveryEvent{
		Type:       events.TypeFailureAbandoned,
		CustomerID: failure.CustomerID,
		FailureID:  failure.ID.String(),
		Reason:     reason,
	})

	if s.campaigns != nil {
		if err := s.campaigns.HandleFailureAbandoned(ctx, failure.ID); err != nil {
			log.Error(ctx, "Campaign cancel cascade failed", zap.Error(err))
		}
	}
	if s.accounts != nil {
		if _, err := s.accounts.Recalculate(ctx, failure.CustomerID); err != nil {
			log.Error(ctx, "Account recalculation failed after abandon", zap.Error(err))
		}
	}

	return failure, nil
}

func (s *RetryScheduler) publish(ctx context.Context, event *events.RecoveryEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRecoveryEvent(ctx, event); err != nil {
		log.Warn(ctx, "Failed to publish recovery event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}
