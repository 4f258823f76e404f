package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// analyticsRepository implements repo.AnalyticsRepository.
type analyticsRepository struct {
	store *Store
}

func (r *analyticsRepository) Upsert(ctx context.Context, record *domain.RecoveryAnalyticsRecord) error {
	_, err := r.store.db.Exec(ctx, `
		INSERT INTO recovery_analytics (
			date, campaign_type, customer_segment, total_failures, resolved_failures,
			recovery_rate, revenue_recovered, messages_sent, messages_opened, engagement_rate,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (date, campaign_type, customer_segment) DO UPDATE SET
			total_failures = EXCLUDED.total_failures,
			resolved_failures = EXCLUDED.resolved_failures,
			recovery_rate = EXCLUDED.recovery_rate,
			revenue_recovered = EXCLUDED.revenue_recovered,
			messages_sent = EXCLUDED.messages_sent,
			messages_opened = EXCLUDED.messages_opened,
			engagement_rate = EXCLUDED.engagement_rate,
			updated_at = EXCLUDED.updated_at`,
		record.Date, record.CampaignType, record.CustomerSegment, record.TotalFailures,
		record.ResolvedFailures, record.RecoveryRate, record.RevenueRecovered,
		record.MessagesSent, record.MessagesOpened, record.EngagementRate, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics record: %w", err)
	}
	return nil
}

func (r *analyticsRepository) Query(ctx context.Context, filter domain.AnalyticsFilter) ([]*domain.RecoveryAnalyticsRecord, error) {
	query := `
		SELECT date, campaign_type, customer_segment, total_failures, resolved_failures,
		       recovery_rate, revenue_recovered, messages_sent, messages_opened, engagement_rate,
		       created_at, updated_at
		FROM recovery_analytics`
	var conds []string
	var args []any

	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.CampaignType != "" {
		args = append(args, filter.CampaignType)
		conds = append(conds, fmt.Sprintf("campaign_type = $%d", len(args)))
	}
	if filter.CustomerSegment != "" {
		args = append(args, filter.CustomerSegment)
		conds = append(conds, fmt.Sprintf("customer_segment = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date, campaign_type, customer_segment"

	rows, err := r.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()

	var out []*domain.RecoveryAnalyticsRecord
	for rows.Next() {
		var rec domain.RecoveryAnalyticsRecord
		if err := rows.Scan(
			&rec.Date, &rec.CampaignType, &rec.CustomerSegment, &rec.TotalFailures,
			&rec.ResolvedFailures, &rec.RecoveryRate, &rec.RevenueRecovered,
			&rec.MessagesSent, &rec.MessagesOpened, &rec.EngagementRate,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analytics record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analytics records: %w", err)
	}
	return out, nil
}
