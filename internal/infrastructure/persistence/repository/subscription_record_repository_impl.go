package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edlume/subscription-backend/internal/domain/entity"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
)

const recordColumns = `
	id, user_id, external_subscription_id, total_paid, subscription_date,
	is_active, current_period_start, current_period_end, is_cancelled,
	cancelled_at, expired, billing_reason, last_event_at, created_at, updated_at
`

// SubscriptionRecordRepositoryImpl implements SubscriptionRecordRepository using pgx
type SubscriptionRecordRepositoryImpl struct {
	db Querier
}

// NewSubscriptionRecordRepository creates a new subscription record repository
func NewSubscriptionRecordRepository(db Querier) *SubscriptionRecordRepositoryImpl {
	return &SubscriptionRecordRepositoryImpl{db: db}
}

func scanRecord(row pgx.Row) (*entity.SubscriptionRecord, error) {
	rec := &entity.SubscriptionRecord{}
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ExternalSubscriptionID, &rec.TotalPaid, &rec.SubscriptionDate,
		&rec.IsActive, &rec.CurrentPeriodStart, &rec.CurrentPeriodEnd, &rec.IsCancelled,
		&rec.CancelledAt, &rec.Expired, &rec.BillingReason, &rec.LastEventAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByExternalID retrieves a record by the provider subscription id
func (r *SubscriptionRecordRepositoryImpl) GetByExternalID(ctx context.Context, externalID string) (*entity.SubscriptionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM subscription_records WHERE external_subscription_id = $1`
	return scanRecord(r.db.QueryRow(ctx, query, externalID))
}

// Upsert inserts or updates a record keyed by the external subscription id
func (r *SubscriptionRecordRepositoryImpl) Upsert(ctx context.Context, rec *entity.SubscriptionRecord) error {
	query := `
		INSERT INTO subscription_records (
			id, user_id, external_subscription_id, total_paid, subscription_date,
			is_active, current_period_start, current_period_end, is_cancelled,
			cancelled_at, expired, billing_reason, last_event_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_subscription_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			is_cancelled = EXCLUDED.is_cancelled,
			cancelled_at = EXCLUDED.cancelled_at,
			expired = EXCLUDED.expired,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.ExternalSubscriptionID, rec.TotalPaid, rec.SubscriptionDate,
		rec.IsActive, rec.CurrentPeriodStart, rec.CurrentPeriodEnd, rec.IsCancelled,
		rec.CancelledAt, rec.Expired, rec.BillingReason, rec.LastEventAt, rec.CreatedAt, time.Now(),
	)
	return err
}

// GetCurrentActiveByUserID retrieves the most recent active record for a user
func (r *SubscriptionRecordRepositoryImpl) GetCurrentActiveByUserID(ctx context.Context, userID uuid.UUID) (*entity.SubscriptionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM subscription_records
		WHERE user_id = $1 AND is_active = true AND is_cancelled = false
		ORDER BY subscription_date DESC
		LIMIT 1
	`
	return scanRecord(r.db.QueryRow(ctx, query, userID))
}

// ListByUserID retrieves all records for a user, newest first
func (r *SubscriptionRecordRepositoryImpl) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.SubscriptionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM subscription_records
		WHERE user_id = $1
		ORDER BY subscription_date DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*entity.SubscriptionRecord
	for rows.Next() {
		rec := &entity.SubscriptionRecord{}
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.ExternalSubscriptionID, &rec.TotalPaid, &rec.SubscriptionDate,
			&rec.IsActive, &rec.CurrentPeriodStart, &rec.CurrentPeriodEnd, &rec.IsCancelled,
			&rec.CancelledAt, &rec.Expired, &rec.BillingReason, &rec.LastEventAt, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
