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

const userColumns = `
	id, full_name, user_name, email, role, is_blocked, is_subscribed,
	billing_customer_id, trial_status, trial_end_date, plan, coupon_used,
	coupon_provider, coupon_closed, pending_cancellation, created_at, updated_at
`

// UserRepositoryImpl implements UserRepository using pgx
type UserRepositoryImpl struct {
	db Querier
}

// NewUserRepository creates a new user repository
func NewUserRepository(db Querier) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

func scanUser(row pgx.Row) (*entity.User, error) {
	u := &entity.User{}
	err := row.Scan(
		&u.ID, &u.FullName, &u.UserName, &u.Email, &u.Role, &u.IsBlocked, &u.IsSubscribed,
		&u.BillingCustomerID, &u.TrialStatus, &u.TrialEndDate, &u.Plan, &u.CouponUsed,
		&u.CouponProvider, &u.CouponClosed, &u.PendingCancellation, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByID retrieves a user by ID
func (r *UserRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUpdate retrieves a user by ID with a row lock
func (r *UserRepositoryImpl) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *UserRepositoryImpl) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// GetByBillingCustomerID retrieves a user by the provider customer reference
func (r *UserRepositoryImpl) GetByBillingCustomerID(ctx context.Context, customerID string) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE billing_customer_id = $1`
	return scanUser(r.db.QueryRow(ctx, query, customerID))
}

// Create inserts a new user
func (r *UserRepositoryImpl) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (
			id, full_name, user_name, email, role, is_blocked, is_subscribed,
			billing_customer_id, trial_status, trial_end_date, plan, coupon_used,
			coupon_provider, coupon_closed, pending_cancellation, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.FullName, user.UserName, user.Email, user.Role, user.IsBlocked, user.IsSubscribed,
		user.BillingCustomerID, user.TrialStatus, user.TrialEndDate, user.Plan, user.CouponUsed,
		user.CouponProvider, user.CouponClosed, user.PendingCancellation, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// UpdateEntitlement persists the entitlement subset of the user row
func (r *UserRepositoryImpl) UpdateEntitlement(ctx context.Context, user *entity.User) error {
	query := `
		UPDATE users
		SET
			is_subscribed = $2, billing_customer_id = $3, trial_status = $4,
			trial_end_date = $5, plan = $6, coupon_used = $7, coupon_provider = $8,
			coupon_closed = $9, pending_cancellation = $10, updated_at = $11
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		user.ID, user.IsSubscribed, user.BillingCustomerID, user.TrialStatus,
		user.TrialEndDate, user.Plan, user.CouponUsed, user.CouponProvider,
		user.CouponClosed, user.PendingCancellation, time.Now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrUserNotFound
	}
	return nil
}

// SetBillingCustomerIfAbsent backfills the customer reference when none is set
func (r *UserRepositoryImpl) SetBillingCustomerIfAbsent(ctx context.Context, id uuid.UUID, customerID string) error {
	query := `
		UPDATE users
		SET billing_customer_id = $2, updated_at = $3
		WHERE id = $1 AND (billing_customer_id IS NULL OR billing_customer_id = '')
	`
	_, err := r.db.Exec(ctx, query, id, customerID, time.Now())
	return err
}

// ListExpiredTrials lists users still on a trial whose end date has passed
func (r *UserRepositoryImpl) ListExpiredTrials(ctx context.Context, asOf time.Time) ([]*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE trial_status IN ('active', 'ending_soon') AND trial_end_date < $1
		ORDER BY trial_end_date
	`
	return r.listUsers(ctx, query, asOf)
}

// ListTrialsEndingBefore lists active trials ending before the deadline
func (r *UserRepositoryImpl) ListTrialsEndingBefore(ctx context.Context, deadline time.Time) ([]*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE trial_status = 'active' AND trial_end_date < $1
		ORDER BY trial_end_date
	`
	return r.listUsers(ctx, query, deadline)
}

func (r *UserRepositoryImpl) listUsers(ctx context.Context, query string, args ...any) ([]*entity.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		u := &entity.User{}
		err := rows.Scan(
			&u.ID, &u.FullName, &u.UserName, &u.Email, &u.Role, &u.IsBlocked, &u.IsSubscribed,
			&u.BillingCustomerID, &u.TrialStatus, &u.TrialEndDate, &u.Plan, &u.CouponUsed,
			&u.CouponProvider, &u.CouponClosed, &u.PendingCancellation, &u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
