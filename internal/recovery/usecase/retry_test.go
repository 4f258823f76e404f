package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

func TestFailedRetryPublishesReschedule(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")

	e.processor.results = append(e.processor.results, declined("card_declined"))
	after, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: failure.ID})
	require.NoError(t, err)
	require.Equal(t, domain.FailureStatusRetrying, after.Status)

	scheduled := e.published.lastOfType(events.TypeRetryScheduled)
	require.NotNil(t, scheduled, "no %s event published, saw %v",
		events.TypeRetryScheduled, e.published.eventTypes())
	require.Equal(t, "c1", scheduled.CustomerID)
	require.Equal(t, after.RetryCount, scheduled.RetryCount)
	require.NotNil(t, scheduled.NextRetryAt)
	require.Equal(t, after.NextRetryAt.Unix(), *scheduled.NextRetryAt)
}

func TestRetryPaymentSuccessCascades(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")

	campaign, err := e.campaigns.CreateCampaign(ctx, CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	})
	require.NoError(t, err)

	e.processor.results = append(e.processor.results, succeeded("txn_1"))

	resolved, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{
		FailureID:       failure.ID,
		PaymentMethodID: "pm_1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.FailureStatusResolved, resolved.Status)
	require.Equal(t, domain.ResolutionPaymentSucceeded, resolved.ResolutionType)
	require.Nil(t, resolved.NextRetryAt)
	require.NotNil(t, resolved.ResolvedAt)

	// Cascade: linked campaign finished, account back to active.
	after, err := e.store.Campaign().GetByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusCompleted, after.Status)

	state, err := e.accounts.GetAccountState(adminCtx(), "c1")
	require.NoError(t, err)
	require.Equal(t, domain.AccountStateActive, state.State)
}

func TestRetryResolvedFailureNeverChargesTwice(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")
	e.processor.results = append(e.processor.results, succeeded("txn_1"))

	_, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: failure.ID})
	require.NoError(t, err)
	require.Equal(t, 1, e.processor.callCount())

	current, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: failure.ID})
	require.True(t, domain.HasCode(err, domain.ErrCodeInvalidState),
		"retrying a resolved failure should be INVALID_STATE, got %v", err)
	require.Equal(t, domain.FailureStatusResolved, current.Status)
	require.Equal(t, 1, e.processor.callCount(), "second retry must not reach the processor")
}

func TestRetryFailureEscalatesAtBudget(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")

	// Spend all but the last attempt.
	failure.RetryCount = e.cfg.MaxRetryAttempts - 1
	require.NoError(t, e.store.Failure().Update(context.Background(), failure))

	e.processor.results = append(e.processor.results, declined("card_declined"))

	after, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: failure.ID})
	require.NoError(t, err)
	require.Equal(t, domain.FailureStatusEscalated, after.Status)
	require.Equal(t, e.cfg.MaxRetryAttempts, after.RetryCount)
	require.Nil(t, after.NextRetryAt)

	// Escalation pushes the account down the ladder.
	state, err := e.accounts.GetAccountState(adminCtx(), "c1")
	require.NoError(t, err)
	require.Equal(t, domain.AccountStateRestricted, state.State)

	// And the failing case now carries a campaign.
	campaign, err := e.store.Campaign().GetByFailureID(context.Background(), failure.ID)
	require.NoError(t, err)
	require.NotNil(t, campaign)
	require.Equal(t, "standard", campaign.CampaignType)
}

func TestRetryFailureReschedulesWithBackoff(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")
	e.processor.results = append(e.processor.results, declined("card_declined"))

	after, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: failure.ID})
	require.NoError(t, err)
	require.Equal(t, domain.FailureStatusRetrying, after.Status)
	require.Equal(t, 1, after.RetryCount)
	require.NotNil(t, after.NextRetryAt)
	require.NotNil(t, after.LastRetryAt)

	// delay = base × 2^retryCount plus jitter.
	gap := after.NextRetryAt.Sub(*after.LastRetryAt)
	min := 2 * e.cfg.RetryBaseDelay
	require.GreaterOrEqual(t, gap, min)
	require.LessOrEqual(t, gap, min+e.cfg.RetryJitterMax)
}

func TestRetryEscalatedRequiresAdminSkip(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")
	failure.Status = domain.FailureStatusEscalated
	failure.RetryCount = e.cfg.MaxRetryAttempts
	failure.NextRetryAt = nil
	require.NoError(t, e.store.Failure().Update(context.Background(), failure))

	_, err := e.retrier.RetryPayment(customerCtx("c1"), RetryPaymentRequest{FailureID: failure.ID})
	require.True(t, domain.HasCode(err, domain.ErrCodeInvalidState))
	require.Equal(t, 0, e.processor.callCount())

	// Non-admin may not bypass the budget.
	_, err = e.retrier.RetryPayment(customerCtx("c1"), RetryPaymentRequest{
		FailureID:      failure.ID,
		SkipRetryCount: true,
	})
	require.True(t, domain.HasCode(err, domain.ErrCodeAccessDenied))
	require.Equal(t, 0, e.processor.callCount())

	e.processor.results = append(e.processor.results, succeeded("txn_admin"))
	resolved, err := e.retrier.RetryPayment(adminCtx(), RetryPaymentRequest{
		FailureID:      failure.ID,
		SkipRetryCount: true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.FailureStatusResolved, resolved.Status)
	require.Equal(t, 1, e.processor.callCount())
}

func TestRetryPaymentAccessDenied(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")

	_, err := e.retrier.RetryPayment(customerCtx("c2"), RetryPaymentRequest{FailureID: failure.ID})
	require.True(t, domain.HasCode(err, domain.ErrCodeAccessDenied))
	require.Equal(t, 0, e.processor.callCount(), "denied caller must not reach the processor")
}

func TestRetryUpstreamFailureConsumesAttempt(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")
	e.processor.err = errors.New("processor boom")

	after, err := e.retrier.RetryPayment(customerCtx("c1"), RetryPaymentRequest{FailureID: failure.ID})
	require.NoError(t, err, "upstream failure must not surface as fatal")
	require.Equal(t, domain.FailureStatusRetrying, after.Status)
	require.Equal(t, 1, after.RetryCount, "outage consumes a retry attempt")
	require.NotNil(t, after.NextRetryAt, "outage reschedules per backoff")
}

func TestAbandonFailure(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")

	campaign, err := e.campaigns.CreateCampaign(adminCtx(), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	})
	require.NoError(t, err)

	_, err = e.retrier.Abandon(customerCtx("c1"), failure.ID, "customer churned")
	require.True(t, domain.HasCode(err, domain.ErrCodeAccessDenied))

	abandoned, err := e.retrier.Abandon(adminCtx(), failure.ID, "customer churned")
	require.NoError(t, err)
	require.Equal(t, domain.FailureStatusAbandoned, abandoned.Status)
	require.Equal(t, domain.ResolutionAbandonedManual, abandoned.ResolutionType)
	require.Nil(t, abandoned.NextRetryAt)

	after, err := e.store.Campaign().GetByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusCanceled, after.Status)

	state, err := e.accounts.GetAccountState(adminCtx(), "c1")
	require.NoError(t, err)
	require.Equal(t, domain.AccountStateSuspended, state.State)
}
