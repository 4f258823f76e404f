package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// highValueThreshold splits customers into segments by outstanding
// amount, in minor units.
const highValueThreshold int64 = 50_000

// campaignTypeNone buckets failures that never opened a campaign.
const campaignTypeNone = "none"

// Analytics rolls up daily recovery metrics. Rollups are idempotent:
// regenerating a date overwrites the same (date, campaign type,
// segment) rows.
type Analytics struct {
	analytics repo.AnalyticsRepository
	failures  repo.FailureRepository
	campaigns repo.CampaignRepository
}

// NewAnalytics creates a new analytics aggregator.
func NewAnalytics(
	analytics repo.AnalyticsRepository,
	failures repo.FailureRepository,
	campaigns repo.CampaignRepository,
) *Analytics {
	return &Analytics{
		analytics: analytics,
		failures:  failures,
		campaigns: campaigns,
	}
}

// rollupKey groups failures for one rollup row.
type rollupKey struct {
	campaignType string
	segment      string
}

// GenerateDailyMetrics scans the date's failures and campaigns and
// upserts one rollup row per (campaign type, customer segment).
func (a *Analytics) GenerateDailyMetrics(ctx context.Context, date time.Time) ([]*domain.RecoveryAnalyticsRecord, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	from, to := day, day.Add(24*time.Hour)

	failures, err := a.failures.List(ctx, domain.FailureFilter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}
	campaigns, err := a.campaigns.List(ctx, domain.CampaignFilter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	campaignByFailure := make(map[string]*domain.DunningCampaign, len(campaigns))
	for _, c := range campaigns {
		campaignByFailure[c.PaymentFailureID.String()] = c
	}

	rollups := make(map[rollupKey]*domain.RecoveryAnalyticsRecord)
	now := time.Now()

	rowFor := func(key rollupKey) *domain.RecoveryAnalyticsRecord {
		if row, ok := rollups[key]; ok {
			return row
		}
		row := &domain.RecoveryAnalyticsRecord{
			Date:            day,
			CampaignType:    key.campaignType,
			CustomerSegment: key.segment,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		rollups[key] = row
		return row
	}

	for _, f := range failures {
		key := rollupKey{campaignType: campaignTypeNone, segment: segmentFor(f.Amount)}
		if c, ok := campaignByFailure[f.ID.String()]; ok {
			key.campaignType = c.CampaignType
		}
		row := rowFor(key)
		row.TotalFailures++
		if f.Status == domain.FailureStatusResolved {
			row.ResolvedFailures++
			row.RevenueRecovered += f.Amount
		}
	}

	for _, c := range campaigns {
		key := rollupKey{campaignType: c.CampaignType, segment: domain.SegmentStandard}
		if f, err := a.failures.GetByID(ctx, c.PaymentFailureID); err == nil {
			key.segment = segmentFor(f.Amount)
		}
		row := rowFor(key)
		row.MessagesSent += stepsSent(c)
		row.MessagesOpened += openedCount(c)
	}

	out := make([]*domain.RecoveryAnalyticsRecord, 0, len(rollups))
	for _, row := range rollups {
		if row.TotalFailures > 0 {
			row.RecoveryRate = float64(row.ResolvedFailures) / float64(row.TotalFailures)
		}
		if row.MessagesSent > 0 {
			row.EngagementRate = float64(row.MessagesOpened) / float64(row.MessagesSent)
		}
		if err := a.analytics.Upsert(ctx, row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	log.Info(ctx, "Daily recovery metrics generated",
		zap.Time("date", day),
		zap.Int("rollup_rows", len(out)),
		zap.Int("failures_scanned", len(failures)),
		zap.Int("campaigns_scanned", len(campaigns)))

	return out, nil
}

// GetAnalytics serves rollup queries. Admin-only; the rollups span all
// customers.
func (a *Analytics) GetAnalytics(ctx context.Context, filter domain.AnalyticsFilter) ([]*domain.RecoveryAnalyticsRecord, error) {
	if actor, ok := domain.ActorFromContext(ctx); ok && !actor.IsAdmin() {
		return nil, domain.NewAccessDeniedError("analytics queries require admin")
	}
	return a.analytics.Query(ctx, filter)
}

func segmentFor(amount int64) string {
	if amount >= highValueThreshold {
		return domain.SegmentHighValue
	}
	return domain.SegmentStandard
}

// stepsSent counts the communications a campaign has dispatched so far.
func stepsSent(c *domain.DunningCampaign) int {
	sent := c.SequenceStep - 1
	if c.CurrentStepStatus == domain.StepStatusSent {
		sent++
	}
	if sent < 0 {
		sent = 0
	}
	return sent * len(c.CommunicationChannels)
}

// openedCount reads the asynchronous engagement feedback the notifier
// writes into campaign metadata.
func openedCount(c *domain.DunningCampaign) int {
	v, ok := c.Metadata["messages_opened"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
