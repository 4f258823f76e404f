package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/audit"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/notify"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// notifierRedeliveryDelay reschedules a step whose dispatch hit a
// notifier outage.
const notifierRedeliveryDelay = 15 * time.Minute

// CreateCampaignRequest starts a dunning sequence against an open
// failure.
type CreateCampaignRequest struct {
	CustomerID            string         `json:"customer_id"`
	PaymentFailureID      uuid.UUID      `json:"payment_failure_id"`
	CampaignType          string         `json:"campaign_type"`
	CommunicationChannels []string       `json:"communication_channels,omitempty"`
	PersonalizationData   map[string]any `json:"personalization_data,omitempty"`
	ABTestGroup           string         `json:"ab_test_group,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// UpdateCampaignRequest is the admin-only campaign mutation surface.
// Metadata is merged, never replaced.
type UpdateCampaignRequest struct {
	CampaignID            uuid.UUID              `json:"campaign_id"`
	Status                *domain.CampaignStatus `json:"status,omitempty"`
	CommunicationChannels []string               `json:"communication_channels,omitempty"`
	Metadata              map[string]any         `json:"metadata,omitempty"`
}

// CampaignEngine sequences escalating customer communications for open
// payment failures.
type CampaignEngine struct {
	campaigns repo.CampaignRepository
	failures  repo.FailureRepository
	notifier  notify.Notifier
	accounts  *AccountMachine
	publisher events.Publisher
	auditor   *audit.Manager
}

// NewCampaignEngine creates a new campaign engine.
func NewCampaignEngine(
	campaigns repo.CampaignRepository,
	failures repo.FailureRepository,
	notifier notify.Notifier,
	accounts *AccountMachine,
	publisher events.Publisher,
	auditor *audit.Manager,
) *CampaignEngine {
	return &CampaignEngine{
		campaigns: campaigns,
		failures:  failures,
		notifier:  notifier,
		accounts:  accounts,
		publisher: publisher,
		auditor:   auditor,
	}
}

// CreateCampaign starts a campaign at step 1 of the type's immutable
// sequence template. The A/B group is assigned deterministically per
// (customer, campaign type) unless explicitly supplied.
func (e *CampaignEngine) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*domain.DunningCampaign, error) {
	if req.CustomerID == "" {
		return nil, domain.NewValidationError("customer_id is required", "")
	}
	if req.PaymentFailureID == uuid.Nil {
		return nil, domain.NewValidationError("payment_failure_id is required", "")
	}
	tpl, ok := domain.TemplateFor(req.CampaignType)
	if !ok {
		return nil, domain.NewValidationError("unknown campaign type", req.CampaignType)
	}

	actor, hasActor := domain.ActorFromContext(ctx)
	if hasActor && !actor.CanAccessCustomer(req.CustomerID) {
		_ = e.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"create_campaign", "dunning_campaign", req.PaymentFailureID.String(), "caller is not owner or admin")
		return nil, domain.NewAccessDeniedError("caller may not create campaigns for this customer")
	}

	failure, err := e.failures.GetByID(ctx, req.PaymentFailureID)
	if err != nil {
		return nil, err
	}
	if failure.CustomerID != req.CustomerID {
		return nil, domain.NewValidationError("failure does not belong to customer",
			fmt.Sprintf("failure customer: %s", failure.CustomerID))
	}
	if failure.Terminal() {
		return nil, domain.NewInvalidStateError("failure is terminal",
			fmt.Sprintf("status: %s", failure.Status))
	}

	if existing, err := e.campaigns.GetByFailureID(ctx, req.PaymentFailureID); err != nil {
		return nil, err
	} else if existing != nil && !existing.Terminal() {
		return existing, domain.NewInvalidStateError("failure already has an active campaign",
			existing.ID.String())
	}

	channels := req.CommunicationChannels
	if len(channels) == 0 {
		channels = append([]string(nil), tpl.DefaultChannels...)
	}
	abGroup := req.ABTestGroup
	if abGroup == "" {
		abGroup = domain.AssignABTestGroup(req.CustomerID, req.CampaignType)
	}

	now := time.Now()
	firstStepAt := now.Add(tpl.StepOffset(1))
	campaign := &domain.DunningCampaign{
		ID:                    uuid.New(),
		CustomerID:            req.CustomerID,
		PaymentFailureID:      req.PaymentFailureID,
		CampaignType:          req.CampaignType,
		SequenceStep:          1,
		TotalSteps:            tpl.TotalSteps,
		Status:                domain.CampaignStatusActive,
		CurrentStepStatus:     domain.StepStatusScheduled,
		StartedAt:             now,
		NextCommunicationAt:   &firstStepAt,
		CommunicationChannels: channels,
		ABTestGroup:           abGroup,
		PersonalizationData:   req.PersonalizationData,
		Metadata:              req.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := e.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}

	metrics.CampaignsCreated.WithLabelValues(campaign.CampaignType).Inc()
	log.Info(ctx, "Dunning campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("campaign_type", campaign.CampaignType),
		zap.String("ab_test_group", campaign.ABTestGroup),
		zap.Int("total_steps", campaign.TotalSteps))

	if hasActor {
		_ = e.auditor.LogStateChange(ctx, actor.ID, string(actor.Role),
			"create_campaign", "dunning_campaign", campaign.ID.String(),
			"", string(campaign.Status), map[string]any{"campaign_type": campaign.CampaignType})
	}
	e.publish(ctx, &events.RecoveryEvent{
		Type:       events.TypeCampaignCreated,
		CustomerID: campaign.CustomerID,
		FailureID:  campaign.PaymentFailureID.String(),
		CampaignID: campaign.ID.String(),
		Metadata:   map[string]any{"campaign_type": campaign.CampaignType},
	})

	return campaign, nil
}

// EnsureCampaign auto-creates a standard campaign for a failing case
// that crossed the policy threshold and has no campaign yet.
func (e *CampaignEngine) EnsureCampaign(ctx context.Context, failure *domain.PaymentFailure) error {
	if failure.Terminal() {
		return nil
	}
	existing, err := e.campaigns.GetByFailureID(ctx, failure.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	_, err = e.CreateCampaign(ctx, CreateCampaignRequest{
		CustomerID:       failure.CustomerID,
		PaymentFailureID: failure.ID,
		CampaignType:     "standard",
	})
	if domain.HasCode(err, domain.ErrCodeInvalidState) {
		return nil
	}
	return err
}

// AdvanceStep executes the currently due step. The linked failure's
// state is re-checked here, at execution time, so a resolution or
// abandonment that raced the schedule always wins.
func (e *CampaignEngine) AdvanceStep(ctx context.Context, campaignID uuid.UUID) (*domain.DunningCampaign, error) {
	if campaignID == uuid.Nil {
		return nil, domain.NewValidationError("campaign_id is required", "")
	}

	campaign, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	ctx = log.WithCustomerID(ctx, campaign.CustomerID)

	if campaign.Terminal() {
		return campaign, domain.NewInvalidStateError("campaign is terminal",
			fmt.Sprintf("status: %s", campaign.Status))
	}
	if campaign.Status == domain.CampaignStatusPaused {
		return campaign, domain.NewInvalidStateError("campaign is paused", "")
	}

	// Execution-time auto-termination check against the linked failure.
	failure, err := e.failures.GetByID(ctx, campaign.PaymentFailureID)
	if err != nil {
		return nil, err
	}
	switch failure.Status {
	case domain.FailureStatusResolved:
		return e.terminate(ctx, campaign, domain.CampaignStatusCompleted, "failure resolved")
	case domain.FailureStatusAbandoned:
		return e.terminate(ctx, campaign, domain.CampaignStatusCanceled, "failure abandoned")
	}

	step := campaign.SequenceStep
	now := time.Now()

	var receiptIDs []string
	for _, channel := range campaign.CommunicationChannels {
		receipt, err := e.notifier.Send(ctx, notify.Message{
			CustomerID:   campaign.CustomerID,
			CampaignID:   campaign.ID.String(),
			Channel:      channel,
			Template:     fmt.Sprintf("%s_step_%d", campaign.CampaignType, step),
			SequenceStep: step,
			ABTestGroup:  campaign.ABTestGroup,
			Data:         campaign.PersonalizationData,
		})
		if err != nil {
			// Notifier outage: keep the step scheduled and retry shortly.
			redeliver := now.Add(notifierRedeliveryDelay)
			campaign.NextCommunicationAt = &redeliver
			campaign.UpdatedAt = now
			if _, uerr := e.campaigns.UpdateIfStatus(ctx, campaign, domain.CampaignStatusActive); uerr != nil {
				return nil, uerr
			}
			log.Warn(ctx, "Notifier unavailable, step rescheduled",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Int("sequence_step", step),
				zap.Error(err))
			return campaign, domain.NewUpstreamFailureError("notifier", err.Error())
		}
		receiptIDs = append(receiptIDs, receipt.ID)
		metrics.CampaignSteps.WithLabelValues(campaign.CampaignType, channel).Inc()
	}

	campaign.MergeMetadata(map[string]any{
		fmt.Sprintf("step_%d_receipts", step): receiptIDs,
	})
	campaign.CurrentStepStatus = domain.StepStatusSent
	campaign.LastCommunicationAt = &now
	campaign.UpdatedAt = now

	if step >= campaign.TotalSteps {
		campaign.MarkCompleted(now)
	} else {
		campaign.SequenceStep = step + 1
		campaign.CurrentStepStatus = domain.StepStatusScheduled
		nextAt := campaign.StartedAt.Add(stepOffsetFor(campaign, campaign.SequenceStep))
		if nextAt.Before(now) {
			nextAt = now
		}
		campaign.NextCommunicationAt = &nextAt
	}

	advanced, err := e.campaigns.UpdateIfStatus(ctx, campaign, domain.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	if !advanced {
		current, err := e.campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		return current, domain.NewInvalidStateError("campaign mutated concurrently",
			fmt.Sprintf("status: %s", current.Status))
	}

	log.Info(ctx, "Campaign step dispatched",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("sequence_step", step),
		zap.String("status", string(campaign.Status)))

	e.publish(ctx, &events.RecoveryEvent{
		Type:       events.TypeCampaignStepSent,
		CustomerID: campaign.CustomerID,
		CampaignID: campaign.ID.String(),
		Metadata:   map[string]any{"sequence_step": step},
	})
	if campaign.Status == domain.CampaignStatusCompleted {
		metrics.CampaignsTerminated.WithLabelValues(campaign.CampaignType, string(campaign.Status)).Inc()
		e.publish(ctx, &events.RecoveryEvent{
			Type:       events.TypeCampaignCompleted,
			CustomerID: campaign.CustomerID,
			CampaignID: campaign.ID.String(),
			Reason:     "sequence exhausted",
		})
		// Exhausting the sequence without recovery feeds the suspension
		// policy.
		e.recalc(ctx, campaign.CustomerID)
	}

	return campaign, nil
}

// recalc re-derives the account state after the campaign reaches a
// terminal status.
func (e *CampaignEngine) recalc(ctx context.Context, customerID string) {
	if e.accounts == nil {
		return
	}
	if _, err := e.accounts.Recalculate(ctx, customerID); err != nil {
		log.Error(ctx, "Account recalculation failed after campaign termination",
			zap.Error(err))
	}
}

// stepOffsetFor looks up the template offset for a step, falling back to
// the campaign's own spacing if the type vanished from the table.
func stepOffsetFor(campaign *domain.DunningCampaign, step int) time.Duration {
	if tpl, ok := domain.TemplateFor(campaign.CampaignType); ok {
		return tpl.StepOffset(step)
	}
	return time.Duration(step-1) * 24 * time.Hour
}

// terminate finishes the campaign because its linked failure reached a
// terminal state.
func (e *CampaignEngine) terminate(ctx context.Context, campaign *domain.DunningCampaign, status domain.CampaignStatus, reason string) (*domain.DunningCampaign, error) {
	now := time.Now()
	prev := campaign.Status
	if campaign.CurrentStepStatus == domain.StepStatusScheduled {
		campaign.CurrentStepStatus = domain.StepStatusSkipped
	}
	if status == domain.CampaignStatusCanceled {
		campaign.MarkCanceled(now)
	} else {
		campaign.MarkCompleted(now)
	}

	changed, err := e.campaigns.UpdateIfStatus(ctx, campaign, prev)
	if err != nil {
		return nil, err
	}
	if !changed {
		return e.campaigns.GetByID(ctx, campaign.ID)
	}

	metrics.CampaignsTerminated.WithLabelValues(campaign.CampaignType, string(status)).Inc()
	log.Info(ctx, "Campaign terminated",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("status", string(status)),
		zap.String("reason", reason))

	eventType := events.TypeCampaignCompleted
	if status == domain.CampaignStatusCanceled {
		eventType = events.TypeCampaignCanceled
	}
	e.publish(ctx, &events.RecoveryEvent{
		Type:       eventType,
		CustomerID: campaign.CustomerID,
		CampaignID: campaign.ID.String(),
		Reason:     reason,
	})
	e.recalc(ctx, campaign.CustomerID)

	return campaign, nil
}

// HandleFailureResolved completes the campaign linked to a resolved
// failure, if one is still running.
func (e *CampaignEngine) HandleFailureResolved(ctx context.Context, failureID uuid.UUID) error {
	campaign, err := e.campaigns.GetByFailureID(ctx, failureID)
	if err != nil {
		return err
	}
	if campaign == nil || campaign.Terminal() {
		return nil
	}
	_, err = e.terminate(ctx, campaign, domain.CampaignStatusCompleted, "failure resolved")
	return err
}

// HandleFailureAbandoned cancels the campaign linked to an abandoned
// failure, if one is still running.
func (e *CampaignEngine) HandleFailureAbandoned(ctx context.Context, failureID uuid.UUID) error {
	campaign, err := e.campaigns.GetByFailureID(ctx, failureID)
	if err != nil {
		return err
	}
	if campaign == nil || campaign.Terminal() {
		return nil
	}
	_, err = e.terminate(ctx, campaign, domain.CampaignStatusCanceled, "failure abandoned")
	return err
}

// UpdateCampaign is the admin-only mutation surface: pause/resume/cancel
// plus channel and metadata updates. Metadata merges; existing keys are
// preserved unless overwritten.
func (e *CampaignEngine) UpdateCampaign(ctx context.Context, req UpdateCampaignRequest) (*domain.DunningCampaign, error) {
	if req.CampaignID == uuid.Nil {
		return nil, domain.NewValidationError("campaign_id is required", "")
	}

	actor, ok := domain.ActorFromContext(ctx)
	if !ok || !actor.IsAdmin() {
		_ = e.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"update_campaign", "dunning_campaign", req.CampaignID.String(), "admin role required")
		return nil, domain.NewAccessDeniedError("updating a campaign requires admin")
	}

	campaign, err := e.campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	prev := campaign.Status
	now := time.Now()

	if req.Status != nil && *req.Status != campaign.Status {
		if campaign.Terminal() {
			return campaign, domain.NewInvalidStateError("campaign is terminal",
				fmt.Sprintf("status: %s", campaign.Status))
		}
		switch *req.Status {
		case domain.CampaignStatusPaused, domain.CampaignStatusActive:
			campaign.Status = *req.Status
		case domain.CampaignStatusCanceled:
			if campaign.CurrentStepStatus == domain.StepStatusScheduled {
				campaign.CurrentStepStatus = domain.StepStatusSkipped
			}
			campaign.MarkCanceled(now)
			metrics.CampaignsTerminated.WithLabelValues(campaign.CampaignType, string(campaign.Status)).Inc()
		default:
			return nil, domain.NewValidationError("unsupported status change", string(*req.Status))
		}
	}

	if len(req.CommunicationChannels) > 0 {
		campaign.CommunicationChannels = req.CommunicationChannels
	}
	campaign.MergeMetadata(req.Metadata)
	campaign.UpdatedAt = now

	changed, err := e.campaigns.UpdateIfStatus(ctx, campaign, prev)
	if err != nil {
		return nil, err
	}
	if !changed {
		current, err := e.campaigns.GetByID(ctx, req.CampaignID)
		if err != nil {
			return nil, err
		}
		return current, domain.NewInvalidStateError("campaign mutated concurrently",
			fmt.Sprintf("status: %s", current.Status))
	}

	_ = e.auditor.LogStateChange(ctx, actor.ID, string(actor.Role),
		"update_campaign", "dunning_campaign", campaign.ID.String(),
		string(prev), string(campaign.Status), req.Metadata)

	if campaign.Status == domain.CampaignStatusCanceled && prev != domain.CampaignStatusCanceled {
		e.publish(ctx, &events.RecoveryEvent{
			Type:       events.TypeCampaignCanceled,
			CustomerID: campaign.CustomerID,
			CampaignID: campaign.ID.String(),
			Reason:     "admin cancel",
		})
		e.recalc(ctx, campaign.CustomerID)
	}

	return campaign, nil
}

// ListCampaigns lists campaigns matching the filter. Customers are
// scoped to their own campaigns.
func (e *CampaignEngine) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]*domain.DunningCampaign, error) {
	if actor, ok := domain.ActorFromContext(ctx); ok && !actor.IsAdmin() {
		filter.CustomerID = actor.ID
	}
	return e.campaigns.List(ctx, filter)
}

func (e *CampaignEngine) publish(ctx context.Context, event *events.RecoveryEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishRecoveryEvent(ctx, event); err != nil {
		log.Warn(ctx, "Failed to publish recovery event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}
