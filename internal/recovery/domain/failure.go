package domain

import (
	"time"

	"github.com/google/uuid"
)

// FailureStatus represents the lifecycle status of a payment failure
type FailureStatus string

const (
	FailureStatusPending   FailureStatus = "pending"
	FailureStatusRetrying  FailureStatus = "retrying"
	FailureStatusResolved  FailureStatus = "resolved"
	FailureStatusEscalated FailureStatus = "escalated"
	FailureStatusAbandoned FailureStatus = "abandoned"
)

// Resolution types stamped on a failure when it reaches a terminal state
const (
	ResolutionPaymentSucceeded = "payment_succeeded"
	ResolutionAbandonedManual  = "abandoned_manual"
)

// PaymentFailure represents one open failed-payment case for a
// (customer, subscription) pair. It is created on the first processor
// failure event and is terminal at resolved or abandoned.
type PaymentFailure struct {
	ID               uuid.UUID      `json:"id"`
	CustomerID       string         `json:"customer_id"`
	SubscriptionID   *string        `json:"subscription_id,omitempty"`
	Amount           int64          `json:"amount"` // minor units
	Currency         string         `json:"currency"`
	FailureReason    string         `json:"failure_reason"`
	FailureCode      string         `json:"failure_code"`
	Status           FailureStatus  `json:"status"`
	RetryCount       int            `json:"retry_count"`
	MaxRetryAttempts int            `json:"max_retry_attempts"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	LastRetryAt      *time.Time     `json:"last_retry_at,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key"`
	PaymentMethodID  string         `json:"payment_method_id"`
	ResolutionType   string         `json:"resolution_type,omitempty"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Terminal reports whether the failure has reached a terminal status.
// Terminal failures keep next_retry_at null permanently.
func (f *PaymentFailure) Terminal() bool {
	return f.Status == FailureStatusResolved || f.Status == FailureStatusAbandoned
}

// Open reports whether the failure still counts against the customer's
// billing health.
func (f *PaymentFailure) Open() bool {
	return !f.Terminal()
}

// CanRetry reports whether a retry attempt is currently permitted.
func (f *PaymentFailure) CanRetry() bool {
	return f.Status == FailureStatusPending || f.Status == FailureStatusRetrying
}

// AttemptsExhausted reports whether the retry budget is used up.
func (f *PaymentFailure) AttemptsExhausted() bool {
	return f.RetryCount >= f.MaxRetryAttempts
}

// MarkResolved transitions the failure to resolved and clears scheduling
// state so no further retries fire.
func (f *PaymentFailure) MarkResolved(resolutionType string, now time.Time) {
	f.Status = FailureStatusResolved
	f.ResolutionType = resolutionType
	f.ResolvedAt = &now
	f.NextRetryAt = nil
	f.UpdatedAt = now
}

// MarkAbandoned transitions the failure to abandoned and clears scheduling
// state.
func (f *PaymentFailure) MarkAbandoned(resolutionType string, now time.Time) {
	f.Status = FailureStatusAbandoned
	f.ResolutionType = resolutionType
	f.ResolvedAt = &now
	f.NextRetryAt = nil
	f.UpdatedAt = now
}

// FailureFilter narrows ListFailures queries.
type FailureFilter struct {
	CustomerID string
	Status     FailureStatus
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
