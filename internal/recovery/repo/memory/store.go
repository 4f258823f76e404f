// Package memory provides an in-memory Store used by tests and local
// development. It honors the same conditional-update semantics as the
// PostgreSQL store so optimistic status checks behave identically.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// Store is an in-memory implementation of repo.Store.
type Store struct {
	mu        sync.RWMutex
	failures  map[uuid.UUID]*domain.PaymentFailure
	campaigns map[uuid.UUID]*domain.DunningCampaign
	states    map[uuid.UUID]*domain.AccountState
	analytics map[string]*domain.RecoveryAnalyticsRecord
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		failures:  make(map[uuid.UUID]*domain.PaymentFailure),
		campaigns: make(map[uuid.UUID]*domain.DunningCampaign),
		states:    make(map[uuid.UUID]*domain.AccountState),
		analytics: make(map[string]*domain.RecoveryAnalyticsRecord),
	}
}

func (s *Store) Failure() repo.FailureRepository { return &failureRepository{store: s} }

func (s *Store) Campaign() repo.CampaignRepository { return &campaignRepository{store: s} }

func (s *Store) AccountState() repo.AccountStateRepository { return &accountStateRepository{store: s} }

func (s *Store) Analytics() repo.AnalyticsRepository { return &analyticsRepository{store: s} }

// Close implements repo.Store.
func (s *Store) Close() error { return nil }

func cloneFailure(f *domain.PaymentFailure) *domain.PaymentFailure {
	out := *f
	return &out
}

func cloneCampaign(c *domain.DunningCampaign) *domain.DunningCampaign {
	out := *c
	out.CommunicationChannels = append([]string(nil), c.CommunicationChannels...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneState(st *domain.AccountState) *domain.AccountState {
	out := *st
	out.FeatureRestrictions = append([]string(nil), st.FeatureRestrictions...)
	return &out
}

// failureRepository implements repo.FailureRepository.
type failureRepository struct {
	store *Store
}

func (r *failureRepository) Create(ctx context.Context, failure *domain.PaymentFailure) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.failures[failure.ID]; exists {
		return fmt.Errorf("failure %s already exists", failure.ID)
	}
	r.store.failures[failure.ID] = cloneFailure(failure)
	return nil
}

func (r *failureRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	f, ok := r.store.failures[id]
	if !ok {
		return nil, domain.NewNotFoundError("payment failure", id.String())
	}
	return cloneFailure(f), nil
}

func (r *failureRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentFailure, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, f := range r.store.failures {
		if f.IdempotencyKey == key {
			return cloneFailure(f), nil
		}
	}
	return nil, nil
}

func (r *failureRepository) GetOpenBySubscription(ctx context.Context, customerID string, subscriptionID *string) (*domain.PaymentFailure, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, f := range r.store.failures {
		if f.CustomerID != customerID || !f.Open() {
			continue
		}
		if subscriptionID == nil && f.SubscriptionID == nil {
			return cloneFailure(f), nil
		}
		if subscriptionID != nil && f.SubscriptionID != nil && *subscriptionID == *f.SubscriptionID {
			return cloneFailure(f), nil
		}
	}
	return nil, nil
}

func (r *failureRepository) List(ctx context.Context, filter domain.FailureFilter) ([]*domain.PaymentFailure, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.PaymentFailure
	for _, f := range r.store.failures {
		if filter.CustomerID != "" && f.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.From != nil && f.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !f.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, cloneFailure(f))
	}
	sortFailures(out)
	return paginateFailures(out, filter.Limit, filter.Offset), nil
}

func (r *failureRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentFailure, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.PaymentFailure
	for _, f := range r.store.failures {
		if !f.CanRetry() || f.NextRetryAt == nil || f.NextRetryAt.After(now) {
			continue
		}
		out = append(out, cloneFailure(f))
	}
	sortFailures(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *failureRepository) Update(ctx context.Context, failure *domain.PaymentFailure) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.failures[failure.ID]; !ok {
		return domain.NewNotFoundError("payment failure", failure.ID.String())
	}
	r.store.failures[failure.ID] = cloneFailure(failure)
	return nil
}

func (r *failureRepository) UpdateIfStatus(ctx context.Context, failure *domain.PaymentFailure, expected domain.FailureStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.failures[failure.ID]
	if !ok {
		return false, domain.NewNotFoundError("payment failure", failure.ID.String())
	}
	if current.Status != expected {
		return false, nil
	}
	r.store.failures[failure.ID] = cloneFailure(failure)
	return true, nil
}

func sortFailures(failures []*domain.PaymentFailure) {
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].CreatedAt.Equal(failures[j].CreatedAt) {
			return failures[i].ID.String() < failures[j].ID.String()
		}
		return failures[i].CreatedAt.Before(failures[j].CreatedAt)
	})
}

func paginateFailures(failures []*domain.PaymentFailure, limit, offset int) []*domain.PaymentFailure {
	if offset >= len(failures) {
		return nil
	}
	failures = failures[offset:]
	if limit > 0 && len(failures) > limit {
		failures = failures[:limit]
	}
	return failures
}

// campaignRepository implements repo.CampaignRepository.
type campaignRepository struct {
	store *Store
}

func (r *campaignRepository) Create(ctx context.Context, campaign *domain.DunningCampaign) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, c := range r.store.campaigns {
		if c.PaymentFailureID == campaign.PaymentFailureID && !c.Terminal() {
			return domain.NewInvalidStateError("campaign already exists for failure", campaign.PaymentFailureID.String())
		}
	}
	r.store.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DunningCampaign, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	c, ok := r.store.campaigns[id]
	if !ok {
		return nil, domain.NewNotFoundError("dunning campaign", id.String())
	}
	return cloneCampaign(c), nil
}

func (r *campaignRepository) GetByFailureID(ctx context.Context, failureID uuid.UUID) (*domain.DunningCampaign, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, c := range r.store.campaigns {
		if c.PaymentFailureID == failureID {
			return cloneCampaign(c), nil
		}
	}
	return nil, nil
}

func (r *campaignRepository) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.DunningCampaign, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.DunningCampaign
	for _, c := range r.store.campaigns {
		if filter.CustomerID != "" && c.CustomerID != filter.CustomerID {
			continue
		}
		if filter.CampaignType != "" && c.CampaignType != filter.CampaignType {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.From != nil && c.StartedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !c.StartedAt.Before(*filter.To) {
			continue
		}
		out = append(out, cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *campaignRepository) ListDueSteps(ctx context.Context, now time.Time, limit int) ([]*domain.DunningCampaign, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.DunningCampaign
	for _, c := range r.store.campaigns {
		if c.Status != domain.CampaignStatusActive || c.NextCommunicationAt == nil || c.NextCommunicationAt.After(now) {
			continue
		}
		out = append(out, cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *campaignRepository) Update(ctx context.Context, campaign *domain.DunningCampaign) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.campaigns[campaign.ID]; !ok {
		return domain.NewNotFoundError("dunning campaign", campaign.ID.String())
	}
	r.store.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

func (r *campaignRepository) UpdateIfStatus(ctx context.Context, campaign *domain.DunningCampaign, expected domain.CampaignStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.campaigns[campaign.ID]
	if !ok {
		return false, domain.NewNotFoundError("dunning campaign", campaign.ID.String())
	}
	if current.Status != expected {
		return false, nil
	}
	r.store.campaigns[campaign.ID] = cloneCampaign(campaign)
	return true, nil
}

// accountStateRepository implements repo.AccountStateRepository.
type accountStateRepository struct {
	store *Store
}

func (r *accountStateRepository) Insert(ctx context.Context, state *domain.AccountState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.states[state.ID]; exists {
		return fmt.Errorf("account state %s already exists", state.ID)
	}
	r.store.states[state.ID] = cloneState(state)
	return nil
}

func (r *accountStateRepository) GetCurrent(ctx context.Context, customerID string) (*domain.AccountState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var current *domain.AccountState
	for _, st := range r.store.states {
		if st.CustomerID != customerID {
			continue
		}
		if current == nil || st.UpdatedAt.After(current.UpdatedAt) {
			current = st
		}
	}
	if current == nil {
		return nil, nil
	}
	return cloneState(current), nil
}

func (r *accountStateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccountState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	st, ok := r.store.states[id]
	if !ok {
		return nil, domain.NewNotFoundError("account state", id.String())
	}
	return cloneState(st), nil
}

func (r *accountStateRepository) History(ctx context.Context, customerID string, limit int) ([]*domain.AccountState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.AccountState
	for _, st := range r.store.states {
		if st.CustomerID == customerID {
			out = append(out, cloneState(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// analyticsRepository implements repo.AnalyticsRepository.
type analyticsRepository struct {
	store *Store
}

func analyticsKey(record *domain.RecoveryAnalyticsRecord) string {
	return fmt.Sprintf("%s|%s|%s", record.Date.Format("2006-01-02"), record.CampaignType, record.CustomerSegment)
}

func (r *analyticsRepository) Upsert(ctx context.Context, record *domain.RecoveryAnalyticsRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := *record
	if existing, ok := r.store.analytics[analyticsKey(record)]; ok {
		out.CreatedAt = existing.CreatedAt
	}
	r.store.analytics[analyticsKey(record)] = &out
	return nil
}

func (r *analyticsRepository) Query(ctx context.Context, filter domain.AnalyticsFilter) ([]*domain.RecoveryAnalyticsRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.RecoveryAnalyticsRecord
	for _, rec := range r.store.analytics {
		if filter.CampaignType != "" && rec.CampaignType != filter.CampaignType {
			continue
		}
		if filter.CustomerSegment != "" && rec.CustomerSegment != filter.CustomerSegment {
			continue
		}
		if filter.From != nil && rec.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && rec.Date.After(*filter.To) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].CampaignType < out[j].CampaignType
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}
