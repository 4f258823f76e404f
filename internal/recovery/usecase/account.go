package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/audit"
	"github.com/jia-app/recoveryservice/internal/cache"
	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// featureCacheTTL bounds staleness of the feature restriction read cache.
const featureCacheTTL = 5 * time.Minute

// UpdateAccountStateRequest is the admin-only manual state mutation.
type UpdateAccountStateRequest struct {
	AccountStateID uuid.UUID                `json:"account_state_id"`
	State          domain.AccountStateValue `json:"state"`
	Reason         string                   `json:"reason"`
	ManualOverride bool                     `json:"manual_override,omitempty"`
	OverrideReason string                   `json:"override_reason,omitempty"`
	OverrideBy     string                   `json:"override_by,omitempty"`
}

// AccountMachine derives and enforces the customer's access tier from
// billing health. Recalculation always re-derives from the current set
// of failures and campaigns instead of applying deltas, which keeps it
// correct under out-of-order event delivery.
type AccountMachine struct {
	states    repo.AccountStateRepository
	failures  repo.FailureRepository
	campaigns repo.CampaignRepository
	cache     *cache.Cache
	publisher events.Publisher
	auditor   *audit.Manager
	suspend   SuspensionPolicy
	cfg       config.RecoveryConfig
}

// NewAccountMachine creates a new account state machine. A nil policy
// falls back to DefaultSuspensionPolicy.
func NewAccountMachine(
	states repo.AccountStateRepository,
	failures repo.FailureRepository,
	campaigns repo.CampaignRepository,
	c *cache.Cache,
	publisher events.Publisher,
	auditor *audit.Manager,
	policy SuspensionPolicy,
	cfg config.RecoveryConfig,
) *AccountMachine {
	if policy == nil {
		policy = DefaultSuspensionPolicy
	}
	return &AccountMachine{
		states:    states,
		failures:  failures,
		campaigns: campaigns,
		cache:     c,
		publisher: publisher,
		auditor:   auditor,
		suspend:   policy,
		cfg:       cfg,
	}
}

// GetAccountState returns the authoritative state row for a customer,
// lazily creating the initial active row.
func (m *AccountMachine) GetAccountState(ctx context.Context, customerID string) (*domain.AccountState, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("customer_id is required", "")
	}
	if actor, ok := domain.ActorFromContext(ctx); ok && !actor.CanAccessCustomer(customerID) {
		_ = m.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"get_account_state", "account_state", customerID, "caller is not owner or admin")
		return nil, domain.NewAccessDeniedError("caller may not read this account state")
	}
	return m.ensureCurrent(ctx, customerID)
}

// GetFeatureRestrictions answers the capability query for a customer.
// Reads go through the cache; any state transition invalidates it.
func (m *AccountMachine) GetFeatureRestrictions(ctx context.Context, customerID string) (*domain.FeatureAccess, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("customer_id is required", "")
	}
	if actor, ok := domain.ActorFromContext(ctx); ok && !actor.CanAccessCustomer(customerID) {
		return nil, domain.NewAccessDeniedError("caller may not read this account state")
	}

	cacheKey := featureCacheKey(customerID)
	if m.cache != nil {
		var cached domain.FeatureAccess
		if err := m.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	state, err := m.ensureCurrent(ctx, customerID)
	if err != nil {
		return nil, err
	}

	restrictions := append([]string(nil), state.FeatureRestrictions...)
	access := &domain.FeatureAccess{
		AccountState:    state.State,
		Restrictions:    restrictions,
		AllowedFeatures: domain.AllowedFeatures(restrictions),
		GracePeriodEnd:  state.GracePeriodEnd,
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, cacheKey, access, featureCacheTTL); err != nil {
			log.Warn(ctx, "Failed to cache feature restrictions", zap.Error(err))
		}
	}
	return access, nil
}

// Recalculate re-derives the customer's state from all of their
// failures and campaigns and applies any needed transitions. Accounts
// under manual override are frozen and left untouched.
func (m *AccountMachine) Recalculate(ctx context.Context, customerID string) (*domain.AccountState, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("customer_id is required", "")
	}

	current, err := m.ensureCurrent(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if current.ManualOverride {
		log.Debug(ctx, "Account under manual override, skipping recalculation",
			zap.String("customer_id", customerID))
		return current, nil
	}

	failures, err := m.failures.List(ctx, domain.FailureFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	campaigns, err := m.campaigns.List(ctx, domain.CampaignFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}

	target, reason := m.derive(failures, campaigns)
	if target == current.State ||
		(target == domain.AccountStateActive && current.State == domain.AccountStateReactivated) {
		return current, nil
	}

	// Downgrades step through the ladder so restricted is never reached
	// from active without passing through grace_period.
	for current.State != target {
		next := nextStateTowards(current.State, target)
		current, err = m.applyTransition(ctx, current, next, reason, false, "", "system")
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// derive computes the target state from the customer's billing history.
func (m *AccountMachine) derive(failures []*domain.PaymentFailure, campaigns []*domain.DunningCampaign) (domain.AccountStateValue, string) {
	var open []*domain.PaymentFailure
	for _, f := range failures {
		if f.Open() {
			open = append(open, f)
		}
	}

	if m.suspend(failures, campaigns) {
		return domain.AccountStateSuspended, "dunning exhausted or failure abandoned"
	}
	if len(open) == 0 {
		return domain.AccountStateActive, "no open payment failures"
	}

	oldest := open[0]
	for _, f := range open {
		if f.CreatedAt.Before(oldest.CreatedAt) {
			oldest = f
		}
	}
	age := time.Since(oldest.CreatedAt)

	for _, f := range open {
		if f.Status == domain.FailureStatusEscalated {
			return domain.AccountStateRestricted, "retry attempts exhausted"
		}
	}
	if age > m.cfg.GraceThreshold+m.cfg.GracePeriod {
		return domain.AccountStateRestricted, "grace period expired"
	}
	if age > m.cfg.GraceThreshold {
		return domain.AccountStateGracePeriod, "payment failure unresolved past grace threshold"
	}
	return domain.AccountStateActive, "failure within grace threshold"
}

// UpdateAccountState is the admin-only manual mutation. Transitions
// outside the automatic graph require manualOverride, which then also
// freezes the machine until cleared.
func (m *AccountMachine) UpdateAccountState(ctx context.Context, req UpdateAccountStateRequest) (*domain.AccountState, error) {
	if req.AccountStateID == uuid.Nil {
		return nil, domain.NewValidationError("account_state_id is required", "")
	}
	if req.State == "" {
		return nil, domain.NewValidationError("state is required", "")
	}
	if req.Reason == "" {
		return nil, domain.NewValidationError("reason is required", "")
	}

	actor, ok := domain.ActorFromContext(ctx)
	if !ok || !actor.IsAdmin() {
		_ = m.auditor.LogAccessDenied(ctx, actor.ID, string(actor.Role),
			"update_account_state", "account_state", req.AccountStateID.String(), "admin role required")
		return nil, domain.NewAccessDeniedError("updating account state requires admin")
	}

	anchor, err := m.states.GetByID(ctx, req.AccountStateID)
	if err != nil {
		return nil, err
	}

	current, err := m.states.GetCurrent(ctx, anchor.CustomerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = anchor
	}

	if !req.ManualOverride && !domain.CanTransition(current.State, req.State) {
		return nil, domain.NewInvalidStateError("transition outside the state graph",
			fmt.Sprintf("%s -> %s", current.State, req.State))
	}

	overrideBy := req.OverrideBy
	if overrideBy == "" {
		overrideBy = actor.ID
	}

	state, err := m.applyTransition(ctx, current, req.State, req.Reason,
		req.ManualOverride, req.OverrideReason, overrideBy)
	if err != nil {
		return nil, err
	}

	_ = m.auditor.LogStateChange(ctx, actor.ID, string(actor.Role),
		"update_account_state", "account_state", state.ID.String(),
		string(current.State), string(state.State),
		map[string]any{"reason": req.Reason, "manual_override": req.ManualOverride})

	return state, nil
}

// History returns the customer's append-only state history, newest
// first.
func (m *AccountMachine) History(ctx context.Context, customerID string, limit int) ([]*domain.AccountState, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("customer_id is required", "")
	}
	if actor, ok := domain.ActorFromContext(ctx); ok && !actor.CanAccessCustomer(customerID) {
		return nil, domain.NewAccessDeniedError("caller may not read this account history")
	}
	return m.states.History(ctx, customerID, limit)
}

// ensureCurrent loads the authoritative row, lazily creating the
// initial active row for a customer the machine has never seen.
func (m *AccountMachine) ensureCurrent(ctx context.Context, customerID string) (*domain.AccountState, error) {
	current, err := m.states.GetCurrent(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return current, nil
	}

	now := time.Now()
	current = &domain.AccountState{
		ID:                  uuid.New(),
		CustomerID:          customerID,
		State:               domain.AccountStateActive,
		Reason:              "account initialized",
		FeatureRestrictions: domain.RestrictionsFor(domain.AccountStateActive),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.states.Insert(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// applyTransition appends a new history row for the transition and
// stamps grace/suspension/reactivation dates as appropriate.
func (m *AccountMachine) applyTransition(ctx context.Context, current *domain.AccountState, to domain.AccountStateValue, reason string, manualOverride bool, overrideReason, overrideBy string) (*domain.AccountState, error) {
	now := time.Now()
	prev := current.State

	next := &domain.AccountState{
		ID:                  uuid.New(),
		CustomerID:          current.CustomerID,
		State:               to,
		Reason:              reason,
		FeatureRestrictions: domain.RestrictionsFor(to),
		ManualOverride:      manualOverride,
		OverrideReason:      overrideReason,
		PreviousState:       &prev,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if manualOverride {
		next.OverrideBy = overrideBy
	}

	switch to {
	case domain.AccountStateGracePeriod:
		end := now.Add(m.cfg.GracePeriod)
		next.GracePeriodEnd = &end
	case domain.AccountStateSuspended:
		next.SuspensionDate = &now
	case domain.AccountStateActive, domain.AccountStateReactivated:
		if prev != domain.AccountStateActive && prev != domain.AccountStateReactivated {
			next.ReactivationDate = &now
		}
	}

	if err := m.states.Insert(ctx, next); err != nil {
		return nil, err
	}

	m.invalidateFeatureCache(ctx, current.CustomerID)

	trigger := "automatic"
	if manualOverride {
		trigger = "manual_override"
	}
	metrics.AccountTransitions.WithLabelValues(string(prev), string(to), trigger).Inc()
	log.Info(ctx, "Account state transition",
		zap.String("customer_id", current.CustomerID),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	if m.publisher != nil {
		if err := m.publisher.PublishRecoveryEvent(ctx, &events.RecoveryEvent{
			Type:       events.TypeAccountStateChanged,
			CustomerID: current.CustomerID,
			FromState:  string(prev),
			ToState:    string(to),
			Reason:     reason,
		}); err != nil {
			log.Warn(ctx, "Failed to publish account state event", zap.Error(err))
		}
	}

	return next, nil
}

func (m *AccountMachine) invalidateFeatureCache(ctx context.Context, customerID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, featureCacheKey(customerID)); err != nil {
		log.Warn(ctx, "Failed to invalidate feature cache", zap.Error(err))
	}
}

func featureCacheKey(customerID string) string {
	return "features:" + customerID
}

// downgradeLadder orders the access tiers for stepwise downgrades.
var downgradeLadder = []domain.AccountStateValue{
	domain.AccountStateActive,
	domain.AccountStateGracePeriod,
	domain.AccountStateRestricted,
	domain.AccountStateSuspended,
}

func ladderIndex(s domain.AccountStateValue) int {
	if s == domain.AccountStateReactivated {
		return 0
	}
	for i, v := range downgradeLadder {
		if v == s {
			return i
		}
	}
	return 0
}

// nextStateTowards returns the next single transition on the way from
// one state to another. Upgrades toward active are direct; downgrades
// descend the ladder one tier at a time.
func nextStateTowards(from, target domain.AccountStateValue) domain.AccountStateValue {
	fi, ti := ladderIndex(from), ladderIndex(target)
	switch {
	case ti > fi:
		return downgradeLadder[fi+1]
	case ti < fi:
		return target
	default:
		return target
	}
}
