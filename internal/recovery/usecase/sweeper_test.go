package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

func TestSweepPicksUpDueRetries(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")
	past := time.Now().Add(-time.Minute)
	failure.NextRetryAt = &past
	if err := e.store.Failure().Update(context.Background(), failure); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	e.processor.results = append(e.processor.results, succeeded("txn_sweep"))
	e.sweeper.Sweep(context.Background())

	if e.processor.callCount() != 1 {
		t.Fatalf("processor calls = %d, want 1", e.processor.callCount())
	}

	after, err := e.store.Failure().GetByID(context.Background(), failure.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if after.Status != domain.FailureStatusResolved {
		t.Errorf("status = %s, want resolved", after.Status)
	}
}

func TestSweepAdvancesDueCampaignSteps(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")
	campaign, err := e.campaigns.CreateCampaign(customerCtx("c1"), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	// Step 1 of "standard" is due immediately; the failure itself is
	// not yet due for retry.
	e.sweeper.Sweep(context.Background())

	if len(e.notifier.Sent()) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(e.notifier.Sent()))
	}

	after, err := e.store.Campaign().GetByID(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if after.SequenceStep != 2 {
		t.Errorf("sequence_step = %d, want 2", after.SequenceStep)
	}
}

func TestSweepLeavesFutureWorkAlone(t *testing.T) {
	e := newTestEngine(t)

	// Freshly recorded failure schedules its first retry in the future.
	e.recordFailure(t, "c1", "evt_1")
	e.sweeper.Sweep(context.Background())

	if e.processor.callCount() != 0 {
		t.Errorf("processor calls = %d, want 0 for future retry", e.processor.callCount())
	}
}
