package domain

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the status of a dunning campaign
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCanceled  CampaignStatus = "canceled"
)

// StepStatus represents the delivery status of the current campaign step
type StepStatus string

const (
	StepStatusScheduled StepStatus = "scheduled"
	StepStatusSent      StepStatus = "sent"
	StepStatusSkipped   StepStatus = "skipped"
)

// DunningCampaign sequences escalating customer communications tied to
// exactly one open payment failure.
type DunningCampaign struct {
	ID                    uuid.UUID      `json:"id"`
	CustomerID            string         `json:"customer_id"`
	PaymentFailureID      uuid.UUID      `json:"payment_failure_id"`
	CampaignType          string         `json:"campaign_type"`
	SequenceStep          int            `json:"sequence_step"`
	TotalSteps            int            `json:"total_steps"`
	Status                CampaignStatus `json:"status"`
	CurrentStepStatus     StepStatus     `json:"current_step_status"`
	StartedAt             time.Time      `json:"started_at"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	NextCommunicationAt   *time.Time     `json:"next_communication_at,omitempty"`
	LastCommunicationAt   *time.Time     `json:"last_communication_at,omitempty"`
	CommunicationChannels []string       `json:"communication_channels"`
	ABTestGroup           string         `json:"ab_test_group"`
	PersonalizationData   map[string]any `json:"personalization_data,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// Terminal reports whether the campaign has finished, either way.
func (c *DunningCampaign) Terminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusCanceled
}

// Exhausted reports whether every step of the sequence has been dispatched.
func (c *DunningCampaign) Exhausted() bool {
	return c.SequenceStep > c.TotalSteps ||
		(c.SequenceStep == c.TotalSteps && c.CurrentStepStatus == StepStatusSent)
}

// MarkCompleted finishes the campaign after sequence exhaustion or early
// resolution of the linked failure.
func (c *DunningCampaign) MarkCompleted(now time.Time) {
	c.Status = CampaignStatusCompleted
	c.CompletedAt = &now
	c.NextCommunicationAt = nil
	c.UpdatedAt = now
}

// MarkCanceled terminates the campaign without completing the sequence.
func (c *DunningCampaign) MarkCanceled(now time.Time) {
	c.Status = CampaignStatusCanceled
	c.CompletedAt = &now
	c.NextCommunicationAt = nil
	c.UpdatedAt = now
}

// MergeMetadata merges new keys into the campaign metadata. Existing keys
// are preserved unless explicitly overwritten by the update.
func (c *DunningCampaign) MergeMetadata(update map[string]any) {
	if len(update) == 0 {
		return
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, len(update))
	}
	for k, v := range update {
		c.Metadata[k] = v
	}
}

// CampaignTemplate is an immutable per-type sequence definition. Campaign
// behavior is config-driven rather than subclassed per type.
type CampaignTemplate struct {
	Type            string
	TotalSteps      int
	StepOffsets     []time.Duration // delay of step i relative to campaign start
	DefaultChannels []string
}

// campaignTemplates is the immutable lookup table keyed by campaign type.
var campaignTemplates = map[string]CampaignTemplate{
	"standard": {
		Type:            "standard",
		TotalSteps:      5,
		StepOffsets:     []time.Duration{0, 24 * time.Hour, 72 * time.Hour, 7 * 24 * time.Hour, 14 * 24 * time.Hour},
		DefaultChannels: []string{"email"},
	},
	"aggressive": {
		Type:            "aggressive",
		TotalSteps:      5,
		StepOffsets:     []time.Duration{0, 12 * time.Hour, 24 * time.Hour, 48 * time.Hour, 96 * time.Hour},
		DefaultChannels: []string{"email", "sms"},
	},
	"gentle": {
		Type:            "gentle",
		TotalSteps:      3,
		StepOffsets:     []time.Duration{24 * time.Hour, 7 * 24 * time.Hour, 21 * 24 * time.Hour},
		DefaultChannels: []string{"email"},
	},
	"win_back": {
		Type:            "win_back",
		TotalSteps:      4,
		StepOffsets:     []time.Duration{0, 72 * time.Hour, 10 * 24 * time.Hour, 30 * 24 * time.Hour},
		DefaultChannels: []string{"email", "in_app"},
	},
}

// TemplateFor returns the sequence template for a campaign type.
func TemplateFor(campaignType string) (CampaignTemplate, bool) {
	tpl, ok := campaignTemplates[campaignType]
	return tpl, ok
}

// CampaignTypes returns the known campaign type tags.
func CampaignTypes() []string {
	types := make([]string, 0, len(campaignTemplates))
	for t := range campaignTemplates {
		types = append(types, t)
	}
	return types
}

// StepOffset returns the offset of a 1-based sequence step from campaign
// start. Steps beyond the declared offsets reuse the last offset.
func (t CampaignTemplate) StepOffset(step int) time.Duration {
	if step < 1 {
		step = 1
	}
	if step > len(t.StepOffsets) {
		return t.StepOffsets[len(t.StepOffsets)-1]
	}
	return t.StepOffsets[step-1]
}

// ABTestGroups available for deterministic assignment.
var abTestGroups = []string{"control", "variant_a", "variant_b"}

// AssignABTestGroup deterministically buckets a (customer, campaign type)
// pair so a customer always sees the same experiment arm for a given
// campaign type.
func AssignABTestGroup(customerID, campaignType string) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%s", customerID, campaignType)
	return abTestGroups[h.Sum32()%uint32(len(abTestGroups))]
}

// CampaignFilter narrows ListCampaigns queries.
type CampaignFilter struct {
	CustomerID   string
	CampaignType string
	Status       CampaignStatus
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}
