package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

func TestCreateCampaignFromTemplate(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")

	campaign, err := e.campaigns.CreateCampaign(ctx, CreateCampaignRequest{
		CustomerID:            "c1",
		PaymentFailureID:      failure.ID,
		CampaignType:          "standard",
		CommunicationChannels: []string{"email"},
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	if campaign.TotalSteps != 5 {
		t.Errorf("total_steps = %d, want 5", campaign.TotalSteps)
	}
	if campaign.SequenceStep != 1 {
		t.Errorf("sequence_step = %d, want 1", campaign.SequenceStep)
	}
	if campaign.Status != domain.CampaignStatusActive {
		t.Errorf("status = %s, want active", campaign.Status)
	}
	if campaign.NextCommunicationAt == nil {
		t.Error("next_communication_at not set")
	}
	if campaign.ABTestGroup != domain.AssignABTestGroup("c1", "standard") {
		t.Errorf("ab_test_group = %s, not deterministic", campaign.ABTestGroup)
	}
}

func TestCreateCampaignRejections(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")

	if _, err := e.campaigns.CreateCampaign(customerCtx("c1"), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "no_such_type",
	}); !domain.HasCode(err, domain.ErrCodeValidation) {
		t.Errorf("unknown type: error = %v, want VALIDATION_ERROR", err)
	}

	if _, err := e.campaigns.CreateCampaign(customerCtx("c2"), CreateCampaignRequest{
		CustomerID:       "c2",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	}); !domain.HasCode(err, domain.ErrCodeValidation) {
		t.Errorf("foreign failure: error = %v, want VALIDATION_ERROR", err)
	}

	if _, err := e.campaigns.CreateCampaign(customerCtx("c1"), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: uuid.New(),
		CampaignType:     "standard",
	}); !domain.HasCode(err, domain.ErrCodeNotFound) {
		t.Errorf("missing failure: error = %v, want NOT_FOUND", err)
	}

	if _, err := e.campaigns.CreateCampaign(customerCtx("c1"), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	}); err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	if _, err := e.campaigns.CreateCampaign(customerCtx("c1"), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	}); !domain.HasCode(err, domain.ErrCodeInvalidState) {
		t.Errorf("duplicate campaign: error = %v, want INVALID_STATE", err)
	}
}

func TestAdvanceStepDispatchesAndCompletes(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")
	campaign, err := e.campaigns.CreateCampaign(ctx, CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "gentle", // 3 steps
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	for step := 1; step <= campaign.TotalSteps; step++ {
		advanced, err := e.campaigns.AdvanceStep(context.Background(), campaign.ID)
		if err != nil {
			t.Fatalf("AdvanceStep() step %d error: %v", step, err)
		}
		if step < campaign.TotalSteps {
			if advanced.SequenceStep != step+1 {
				t.Errorf("sequence_step = %d, want %d", advanced.SequenceStep, step+1)
			}
			if advanced.NextCommunicationAt == nil {
				t.Error("next step not scheduled")
			}
		} else {
			if advanced.Status != domain.CampaignStatusCompleted {
				t.Errorf("status after last step = %s, want completed", advanced.Status)
			}
			if advanced.NextCommunicationAt != nil {
				t.Error("completed campaign still scheduled")
			}
		}
	}

	sent := e.notifier.Sent()
	if len(sent) != campaign.TotalSteps {
		t.Fatalf("dispatched %d messages, want %d", len(sent), campaign.TotalSteps)
	}
	if sent[0].Template != "gentle_step_1" {
		t.Errorf("first template = %s, want gentle_step_1", sent[0].Template)
	}

	// sequenceStep never exceeded totalSteps.
	final, err := e.store.Campaign().GetByID(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if final.SequenceStep > final.TotalSteps {
		t.Errorf("sequence_step %d exceeds total_steps %d", final.SequenceStep, final.TotalSteps)
	}

	if _, err := e.campaigns.AdvanceStep(context.Background(), campaign.ID); !domain.HasCode(err, domain.ErrCodeInvalidState) {
		t.Errorf("advancing a completed campaign: error = %v, want INVALID_STATE", err)
	}
}

func TestDunningExhaustionSuspendsAccount(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")
	failure.Status = domain.FailureStatusEscalated
	if err := e.store.Failure().Update(context.Background(), failure); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if _, err := e.accounts.Recalculate(context.Background(), "c1"); err != nil {
		t.Fatalf("Recalculate() error: %v", err)
	}

	state, err := e.accounts.GetAccountState(adminCtx(), "c1")
	if err != nil {
		t.Fatalf("GetAccountState() error: %v", err)
	}
	if state.State != domain.AccountStateRestricted {
		t.Fatalf("state before exhaustion = %s, want restricted", state.State)
	}

	campaign, err := e.campaigns.CreateCampaign(adminCtx(), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "gentle", // 3 steps
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	for step := 1; step <= campaign.TotalSteps; step++ {
		if _, err := e.campaigns.AdvanceStep(context.Background(), campaign.ID); err != nil {
			t.Fatalf("AdvanceStep() step %d error: %v", step, err)
		}
	}

	// The completed campaign with the failure still open must push the
	// account to suspended without any manual recalculation.
	state, err = e.accounts.GetAccountState(adminCtx(), "c1")
	if err != nil {
		t.Fatalf("GetAccountState() error: %v", err)
	}
	if state.State != domain.AccountStateSuspended {
		t.Errorf("state after dunning exhaustion = %s, want suspended", state.State)
	}
	if state.SuspensionDate == nil {
		t.Error("suspension_date not stamped")
	}
}

func TestAdvanceStepAutoTerminatesAtExecutionTime(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	failure := e.recordFailure(t, "c1", "evt_1")
	campaign, err := e.campaigns.CreateCampaign(ctx, CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	// The failure resolves between scheduling and execution.
	failure.MarkResolved(domain.ResolutionPaymentSucceeded, time.Now())
	if err := e.store.Failure().Update(context.Background(), failure); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	after, err := e.campaigns.AdvanceStep(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("AdvanceStep() error: %v", err)
	}
	if after.Status != domain.CampaignStatusCompleted {
		t.Errorf("status = %s, want completed", after.Status)
	}
	if after.CurrentStepStatus != domain.StepStatusSkipped {
		t.Errorf("current_step_status = %s, want skipped", after.CurrentStepStatus)
	}
	if len(e.notifier.Sent()) != 0 {
		t.Error("step dispatched despite resolved failure")
	}
}

func TestAdvanceStepSkipsPausedCampaign(t *testing.T) {
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

	paused := domain.CampaignStatusPaused
	if _, err := e.campaigns.UpdateCampaign(adminCtx(), UpdateCampaignRequest{
		CampaignID: campaign.ID,
		Status:     &paused,
	}); err != nil {
		t.Fatalf("UpdateCampaign() error: %v", err)
	}

	if _, err := e.campaigns.AdvanceStep(context.Background(), campaign.ID); !domain.HasCode(err, domain.ErrCodeInvalidState) {
		t.Errorf("advancing a paused campaign: error = %v, want INVALID_STATE", err)
	}
	if len(e.notifier.Sent()) != 0 {
		t.Error("paused campaign dispatched a message")
	}
}

func TestUpdateCampaignAdminOnlyAndMerge(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")
	campaign, err := e.campaigns.CreateCampaign(customerCtx("c1"), CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
		Metadata:         map[string]any{"origin": "checkout"},
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	if _, err := e.campaigns.UpdateCampaign(customerCtx("c1"), UpdateCampaignRequest{
		CampaignID: campaign.ID,
		Metadata:   map[string]any{"note": "nope"},
	}); !domain.HasCode(err, domain.ErrCodeAccessDenied) {
		t.Fatalf("non-admin update: error = %v, want ACCESS_DENIED", err)
	}

	updated, err := e.campaigns.UpdateCampaign(adminCtx(), UpdateCampaignRequest{
		CampaignID: campaign.ID,
		Metadata:   map[string]any{"note": "vip customer"},
	})
	if err != nil {
		t.Fatalf("UpdateCampaign() error: %v", err)
	}
	if updated.Metadata["origin"] != "checkout" {
		t.Error("existing metadata key dropped; want merge semantics")
	}
	if updated.Metadata["note"] != "vip customer" {
		t.Error("new metadata key missing")
	}
}

func TestListCampaignsScopesCustomers(t *testing.T) {
	e := newTestEngine(t)

	f1 := e.recordFailure(t, "c1", "evt_1")
	f2 := e.recordFailure(t, "c2", "evt_2")

	for _, seed := range []struct {
		customer string
		failure  uuid.UUID
	}{{"c1", f1.ID}, {"c2", f2.ID}} {
		if _, err := e.campaigns.CreateCampaign(adminCtx(), CreateCampaignRequest{
			CustomerID:       seed.customer,
			PaymentFailureID: seed.failure,
			CampaignType:     "standard",
		}); err != nil {
			t.Fatalf("CreateCampaign() error: %v", err)
		}
	}

	mine, err := e.campaigns.ListCampaigns(customerCtx("c1"), domain.CampaignFilter{})
	if err != nil {
		t.Fatalf("ListCampaigns() error: %v", err)
	}
	if len(mine) != 1 || mine[0].CustomerID != "c1" {
		t.Errorf("customer list not scoped: %d rows", len(mine))
	}
}
