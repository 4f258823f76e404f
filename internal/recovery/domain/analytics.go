package domain

import "time"

// Customer segments used for analytics rollups.
const (
	SegmentStandard  = "standard"
	SegmentHighValue = "high_value"
)

// RecoveryAnalyticsRecord is one daily rollup row, idempotently upserted
// per (date, campaign type, customer segment).
type RecoveryAnalyticsRecord struct {
	Date             time.Time `json:"date"`
	CampaignType     string    `json:"campaign_type"`
	CustomerSegment  string    `json:"customer_segment"`
	TotalFailures    int       `json:"total_failures"`
	ResolvedFailures int       `json:"resolved_failures"`
	RecoveryRate     float64   `json:"recovery_rate"`
	RevenueRecovered int64     `json:"revenue_recovered"` // minor units
	MessagesSent     int       `json:"messages_sent"`
	MessagesOpened   int       `json:"messages_opened"`
	EngagementRate   float64   `json:"engagement_rate"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AnalyticsFilter narrows GetAnalytics queries.
type AnalyticsFilter struct {
	From            *time.Time
	To              *time.Time
	CampaignType    string
	CustomerSegment string
}
