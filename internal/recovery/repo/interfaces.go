package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// FailureRepository persists payment failures and serves the due-retry
// sweep. All scheduling timestamps live here so any worker can pick up
// due work.
type FailureRepository interface {
	// Create creates a new payment failure
	Create(ctx context.Context, failure *domain.PaymentFailure) error

	// GetByID retrieves a payment failure by ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error)

	// GetByIdempotencyKey retrieves the failure recorded for a processor
	// event idempotency key, if any
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentFailure, error)

	// GetOpenBySubscription retrieves the open failure for a
	// (customer, subscription) pair, if any
	GetOpenBySubscription(ctx context.Context, customerID string, subscriptionID *string) (*domain.PaymentFailure, error)

	// List retrieves failures matching the filter
	List(ctx context.Context, filter domain.FailureFilter) ([]*domain.PaymentFailure, error)

	// ListDueRetries retrieves retryable failures whose next_retry_at is due
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentFailure, error)

	// Update updates an existing failure
	Update(ctx context.Context, failure *domain.PaymentFailure) error

	// UpdateIfStatus persists the failure only if its stored status still
	// matches expected. Returns false when another worker got there first.
	UpdateIfStatus(ctx context.Context, failure *domain.PaymentFailure, expected domain.FailureStatus) (bool, error)
}

// CampaignRepository persists dunning campaigns and serves the due-step
// sweep.
type CampaignRepository interface {
	// Create creates a new dunning campaign
	Create(ctx context.Context, campaign *domain.DunningCampaign) error

	// GetByID retrieves a campaign by ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DunningCampaign, error)

	// GetByFailureID retrieves the campaign linked to a payment failure
	GetByFailureID(ctx context.Context, failureID uuid.UUID) (*domain.DunningCampaign, error)

	// List retrieves campaigns matching the filter
	List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.DunningCampaign, error)

	// ListDueSteps retrieves active campaigns whose next_communication_at is due
	ListDueSteps(ctx context.Context, now time.Time, limit int) ([]*domain.DunningCampaign, error)

	// Update updates an existing campaign
	Update(ctx context.Context, campaign *domain.DunningCampaign) error

	// UpdateIfStatus persists the campaign only if its stored status still
	// matches expected
	UpdateIfStatus(ctx context.Context, campaign *domain.DunningCampaign, expected domain.CampaignStatus) (bool, error)
}

// AccountStateRepository is append-only: every transition inserts a new
// row and the authoritative row per customer is the latest one.
type AccountStateRepository interface {
	// Insert appends a new account state row
	Insert(ctx context.Context, state *domain.AccountState) error

	// GetCurrent retrieves the authoritative (most recently updated) row
	// for a customer
	GetCurrent(ctx context.Context, customerID string) (*domain.AccountState, error)

	// GetByID retrieves a specific history row
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AccountState, error)

	// History retrieves the customer's state history, newest first
	History(ctx context.Context, customerID string, limit int) ([]*domain.AccountState, error)
}

// AnalyticsRepository persists daily recovery rollups.
type AnalyticsRepository interface {
	// Upsert idempotently writes a rollup row keyed by
	// (date, campaign_type, customer_segment)
	Upsert(ctx context.Context, record *domain.RecoveryAnalyticsRecord) error

	// Query retrieves rollup rows matching the filter
	Query(ctx context.Context, filter domain.AnalyticsFilter) ([]*domain.RecoveryAnalyticsRecord, error)
}

// Store bundles the per-aggregate repositories behind one persistence
// collaborator.
type Store interface {
	Failure() FailureRepository
	Campaign() CampaignRepository
	AccountState() AccountStateRepository
	Analytics() AnalyticsRepository
	Close() error
}
