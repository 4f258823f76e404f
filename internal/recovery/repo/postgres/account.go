package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// accountStateRepository implements repo.AccountStateRepository. Rows are
// append-only; "current" means the row with the greatest updated_at.
type accountStateRepository struct {
	store *Store
}

const accountStateColumns = `id, customer_id, state, reason, grace_period_end, suspension_date,
	reactivation_date, feature_restrictions, manual_override, override_reason, override_by,
	previous_state, created_at, updated_at`

func (r *accountStateRepository) scan(row pgx.Row) (*domain.AccountState, error) {
	var st domain.AccountState
	var restrictions []byte
	var overrideReason, overrideBy *string
	err := row.Scan(
		&st.ID, &st.CustomerID, &st.State, &st.Reason, &st.GracePeriodEnd, &st.SuspensionDate,
		&st.ReactivationDate, &restrictions, &st.ManualOverride, &overrideReason, &overrideBy,
		&st.PreviousState, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(restrictions) > 0 {
		_ = json.Unmarshal(restrictions, &st.FeatureRestrictions)
	}
	if overrideReason != nil {
		st.OverrideReason = *overrideReason
	}
	if overrideBy != nil {
		st.OverrideBy = *overrideBy
	}
	return &st, nil
}

func (r *accountStateRepository) Insert(ctx context.Context, state *domain.AccountState) error {
	restrictions, err := json.Marshal(state.FeatureRestrictions)
	if err != nil {
		return fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	_, err = r.store.db.Exec(ctx, `
		INSERT INTO account_states (`+accountStateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14)`,
		state.ID, state.CustomerID, state.State, state.Reason, state.GracePeriodEnd,
		state.SuspensionDate, state.ReactivationDate, restrictions, state.ManualOverride,
		state.OverrideReason, state.OverrideBy, state.PreviousState, state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account state: %w", err)
	}
	return nil
}

func (r *accountStateRepository) GetCurrent(ctx context.Context, customerID string) (*domain.AccountState, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+accountStateColumns+` FROM account_states
		WHERE customer_id = $1
		ORDER BY updated_at DESC, created_at DESC LIMIT 1`, customerID)

	st, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current account state: %w", err)
	}
	return st, nil
}

func (r *accountStateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccountState, error) {
	row := r.store.db.QueryRow(ctx,
		`SELECT `+accountStateColumns+` FROM account_states WHERE id = $1`, id)

	st, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("account state", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account state: %w", err)
	}
	return st, nil
}

func (r *accountStateRepository) History(ctx context.Context, customerID string, limit int) ([]*domain.AccountState, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT `+accountStateColumns+` FROM account_states
		WHERE customer_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list account state history: %w", err)
	}
	defer rows.Close()

	var out []*domain.AccountState
	for rows.Next() {
		st, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read account states: %w", err)
	}
	return out, nil
}
