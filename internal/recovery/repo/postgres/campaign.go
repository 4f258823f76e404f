package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// campaignRepository implements repo.CampaignRepository.
type campaignRepository struct {
	store *Store
}

const campaignColumns = `id, customer_id, payment_failure_id, campaign_type, sequence_step, total_steps,
	status, current_step_status, started_at, completed_at, next_communication_at, last_communication_at,
	communication_channels, ab_test_group, personalization_data, metadata, created_at, updated_at`

func (r *campaignRepository) scan(row pgx.Row) (*domain.DunningCampaign, error) {
	var c domain.DunningCampaign
	var channels, personalization, metadata []byte
	err := row.Scan(
		&c.ID, &c.CustomerID, &c.PaymentFailureID, &c.CampaignType, &c.SequenceStep, &c.TotalSteps,
		&c.Status, &c.CurrentStepStatus, &c.StartedAt, &c.CompletedAt, &c.NextCommunicationAt,
		&c.LastCommunicationAt, &channels, &c.ABTestGroup, &personalization, &metadata,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(channels) > 0 {
		_ = json.Unmarshal(channels, &c.CommunicationChannels)
	}
	c.PersonalizationData = unmarshalMap(personalization)
	c.Metadata = unmarshalMap(metadata)
	return &c, nil
}

func (r *campaignRepository) Create(ctx context.Context, campaign *domain.DunningCampaign) error {
	channels, err := json.Marshal(campaign.CommunicationChannels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}
	personalization, err := marshalJSON(campaign.PersonalizationData)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(campaign.Metadata)
	if err != nil {
		return err
	}

	_, err = r.store.db.Exec(ctx, `
		INSERT INTO dunning_campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		campaign.ID, campaign.CustomerID, campaign.PaymentFailureID, campaign.CampaignType,
		campaign.SequenceStep, campaign.TotalSteps, campaign.Status, campaign.CurrentStepStatus,
		campaign.StartedAt, campaign.CompletedAt, campaign.NextCommunicationAt,
		campaign.LastCommunicationAt, channels, campaign.ABTestGroup, personalization, metadata,
		campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dunning campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DunningCampaign, error) {
	row := r.store.db.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM dunning_campaigns WHERE id = $1`, id)

	c, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("dunning campaign", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dunning campaign: %w", err)
	}
	return c, nil
}

func (r *campaignRepository) GetByFailureID(ctx context.Context, failureID uuid.UUID) (*domain.DunningCampaign, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM dunning_campaigns
		WHERE payment_failure_id = $1
		ORDER BY created_at DESC LIMIT 1`, failureID)

	c, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign by failure: %w", err)
	}
	return c, nil
}

func (r *campaignRepository) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.DunningCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM dunning_campaigns`
	var conds []string
	var args []any

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.CampaignType != "" {
		args = append(args, filter.CampaignType)
		conds = append(conds, fmt.Sprintf("campaign_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("started_at < $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dunning campaigns: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *campaignRepository) ListDueSteps(ctx context.Context, now time.Time, limit int) ([]*domain.DunningCampaign, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT `+campaignColumns+` FROM dunning_campaigns
		WHERE status = 'active'
		  AND next_communication_at IS NOT NULL AND next_communication_at <= $1
		ORDER BY next_communication_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaign steps: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *campaignRepository) Update(ctx context.Context, campaign *domain.DunningCampaign) error {
	tag, err := r.update(ctx, campaign, "")
	if err != nil {
		return err
	}
	if tag == 0 {
		return domain.NewNotFoundError("dunning campaign", campaign.ID.String())
	}
	return nil
}

func (r *campaignRepository) UpdateIfStatus(ctx context.Context, campaign *domain.DunningCampaign, expected domain.CampaignStatus) (bool, error) {
	tag, err := r.update(ctx, campaign, expected)
	if err != nil {
		return false, err
	}
	return tag > 0, nil
}

func (r *campaignRepository) update(ctx context.Context, campaign *domain.DunningCampaign, guard domain.CampaignStatus) (int64, error) {
	channels, err := json.Marshal(campaign.CommunicationChannels)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal channels: %w", err)
	}
	personalization, err := marshalJSON(campaign.PersonalizationData)
	if err != nil {
		return 0, err
	}
	metadata, err := marshalJSON(campaign.Metadata)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE dunning_campaigns
		SET sequence_step = $2, status = $3, current_step_status = $4, completed_at = $5,
		    next_communication_at = $6, last_communication_at = $7, communication_channels = $8,
		    personalization_data = $9, metadata = $10, updated_at = $11
		WHERE id = $1`
	args := []any{
		campaign.ID, campaign.SequenceStep, campaign.Status, campaign.CurrentStepStatus,
		campaign.CompletedAt, campaign.NextCommunicationAt, campaign.LastCommunicationAt,
		channels, personalization, metadata, campaign.UpdatedAt,
	}
	if guard != "" {
		query += ` AND status = $12`
		args = append(args, guard)
	}

	tag, err := r.store.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update dunning campaign: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *campaignRepository) collect(rows pgx.Rows) ([]*domain.DunningCampaign, error) {
	var out []*domain.DunningCampaign
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dunning campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dunning campaigns: %w", err)
	}
	return out, nil
}
