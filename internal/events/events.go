package events

import "time"

// Recovery lifecycle event types.
const (
	TypeFailureRecorded     = "failure_recorded"
	TypeRetryScheduled      = "retry_scheduled"
	TypeRetrySucceeded      = "retry_succeeded"
	TypeRetryFailed         = "retry_failed"
	TypeFailureEscalated    = "failure_escalated"
	TypeFailureAbandoned    = "failure_abandoned"
	TypeCampaignCreated     = "campaign_created"
	TypeCampaignStepSent    = "campaign_step_sent"
	TypeCampaignCompleted   = "campaign_completed"
	TypeCampaignCanceled    = "campaign_canceled"
	TypeAccountStateChanged = "account_state_changed"
)

// RecoveryEvent is the envelope published to the event topic for every
// recovery lifecycle transition.
type RecoveryEvent struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	CustomerID  string         `json:"customer_id"`
	FailureID   string         `json:"failure_id,omitempty"`
	CampaignID  string         `json:"campaign_id,omitempty"`
	Amount      int64          `json:"amount,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	RetryCount  int            `json:"retry_count,omitempty"`
	NextRetryAt *int64         `json:"next_retry_at,omitempty"`
	FromState   string         `json:"from_state,omitempty"`
	ToState     string         `json:"to_state,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  int64          `json:"occurred_at"`
}

// NotificationRequest is published to the notification topic for the
// delivery transport (an external collaborator) to pick up.
type NotificationRequest struct {
	ID           string         `json:"id"`
	CustomerID   string         `json:"customer_id"`
	CampaignID   string         `json:"campaign_id"`
	Channel      string         `json:"channel"`
	Template     string         `json:"template"`
	SequenceStep int            `json:"sequence_step"`
	ABTestGroup  string         `json:"ab_test_group"`
	Data         map[string]any `json:"data,omitempty"`
	RequestedAt  int64          `json:"requested_at"`
}

// UnixPtr converts an optional timestamp to an optional unix epoch.
func UnixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}
