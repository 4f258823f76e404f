package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// failureRepository implements repo.FailureRepository.
type failureRepository struct {
	store *Store
}

const failureColumns = `id, customer_id, subscription_id, amount, currency, failure_reason, failure_code,
	status, retry_count, max_retry_attempts, next_retry_at, last_retry_at, idempotency_key,
	payment_method_id, resolution_type, resolved_at, metadata, created_at, updated_at`

func (r *failureRepository) scan(row pgx.Row) (*domain.PaymentFailure, error) {
	var f domain.PaymentFailure
	var metadata []byte
	var resolutionType *string
	err := row.Scan(
		&f.ID, &f.CustomerID, &f.SubscriptionID, &f.Amount, &f.Currency, &f.FailureReason, &f.FailureCode,
		&f.Status, &f.RetryCount, &f.MaxRetryAttempts, &f.NextRetryAt, &f.LastRetryAt, &f.IdempotencyKey,
		&f.PaymentMethodID, &resolutionType, &f.ResolvedAt, &metadata, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolutionType != nil {
		f.ResolutionType = *resolutionType
	}
	f.Metadata = unmarshalMap(metadata)
	return &f, nil
}

func (r *failureRepository) Create(ctx context.Context, failure *domain.PaymentFailure) error {
	metadata, err := marshalJSON(failure.Metadata)
	if err != nil {
		return err
	}

	_, err = r.store.db.Exec(ctx, `
		INSERT INTO payment_failures (`+failureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), $16, $17, $18, $19)`,
		failure.ID, failure.CustomerID, failure.SubscriptionID, failure.Amount, failure.Currency,
		failure.FailureReason, failure.FailureCode, failure.Status, failure.RetryCount,
		failure.MaxRetryAttempts, failure.NextRetryAt, failure.LastRetryAt, failure.IdempotencyKey,
		failure.PaymentMethodID, failure.ResolutionType, failure.ResolvedAt, metadata,
		failure.CreatedAt, failure.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment failure: %w", err)
	}
	return nil
}

func (r *failureRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error) {
	row := r.store.db.QueryRow(ctx,
		`SELECT `+failureColumns+` FROM payment_failures WHERE id = $1`, id)

	f, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("payment failure", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment failure: %w", err)
	}
	return f, nil
}

func (r *failureRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentFailure, error) {
	row := r.store.db.QueryRow(ctx,
		`SELECT `+failureColumns+` FROM payment_failures WHERE idempotency_key = $1`, key)

	f, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment failure by idempotency key: %w", err)
	}
	return f, nil
}

func (r *failureRepository) GetOpenBySubscription(ctx context.Context, customerID string, subscriptionID *string) (*domain.PaymentFailure, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT `+failureColumns+` FROM payment_failures
		WHERE customer_id = $1
		  AND subscription_id IS NOT DISTINCT FROM $2
		  AND status NOT IN ('resolved', 'abandoned')
		ORDER BY created_at LIMIT 1`, customerID, subscriptionID)

	f, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open failure for subscription: %w", err)
	}
	return f, nil
}

func (r *failureRepository) List(ctx context.Context, filter domain.FailureFilter) ([]*domain.PaymentFailure, error) {
	query := `SELECT ` + failureColumns + ` FROM payment_failures`
	var conds []string
	var args []any

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
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
		return nil, fmt.Errorf("failed to list payment failures: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *failureRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentFailure, error) {
	rows, err := r.store.db.Query(ctx, `
		SELECT `+failureColumns+` FROM payment_failures
		WHERE status IN ('pending', 'retrying')
		  AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *failureRepository) Update(ctx context.Context, failure *domain.PaymentFailure) error {
	tag, err := r.update(ctx, failure, "")
	if err != nil {
		return err
	}
	if tag == 0 {
		return domain.NewNotFoundError("payment failure", failure.ID.String())
	}
	return nil
}

func (r *failureRepository) UpdateIfStatus(ctx context.Context, failure *domain.PaymentFailure, expected domain.FailureStatus) (bool, error) {
	tag, err := r.update(ctx, failure, expected)
	if err != nil {
		return false, err
	}
	return tag > 0, nil
}

// update persists all mutable failure columns. A non-empty guard makes
// the UPDATE conditional on the stored status, which is what serializes
// concurrent workers racing on the same failure.
func (r *failureRepository) update(ctx context.Context, failure *domain.PaymentFailure, guard domain.FailureStatus) (int64, error) {
	metadata, err := marshalJSON(failure.Metadata)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE payment_failures
		SET status = $2, retry_count = $3, next_retry_at = $4, last_retry_at = $5,
		    payment_method_id = $6, resolution_type = NULLIF($7, ''), resolved_at = $8,
		    failure_reason = $9, failure_code = $10, metadata = $11, updated_at = $12
		WHERE id = $1`
	args := []any{
		failure.ID, failure.Status, failure.RetryCount, failure.NextRetryAt, failure.LastRetryAt,
		failure.PaymentMethodID, failure.ResolutionType, failure.ResolvedAt,
		failure.FailureReason, failure.FailureCode, metadata, failure.UpdatedAt,
	}
	if guard != "" {
		query += ` AND status = $13`
		args = append(args, guard)
	}

	tag, err := r.store.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update payment failure: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *failureRepository) collect(rows pgx.Rows) ([]*domain.PaymentFailure, error) {
	var out []*domain.PaymentFailure
	for rows.Next() {
		f, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment failure: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read payment failures: %w", err)
	}
	return out, nil
}
