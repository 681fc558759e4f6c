package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edlume/subscription-backend/internal/domain/entity"
)

// UserRepository defines user entitlement data access
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)

	// GetByBillingCustomerID resolves events that carry only the provider's
	// customer reference.
	GetByBillingCustomerID(ctx context.Context, customerID string) (*entity.User, error)

	// GetByIDForUpdate locks the user row for the enclosing transaction so
	// concurrent entitlement mutations serialize instead of clobbering each
	// other.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.User, error)

	// Create exists for test fixtures and the external account-provisioning
	// flow; this service itself never registers users.
	Create(ctx context.Context, user *entity.User) error

	// UpdateEntitlement persists the entitlement subset: subscribed flag,
	// trial fields, billing customer reference, coupon bookkeeping, pending
	// cancellation.
	UpdateEntitlement(ctx context.Context, user *entity.User) error

	// SetBillingCustomerIfAbsent backfills the customer reference without
	// touching other fields; a no-op when one is already present.
	SetBillingCustomerIfAbsent(ctx context.Context, id uuid.UUID, customerID string) error

	// ListExpiredTrials returns users still holding trial access whose trial
	// end date has passed. Used by the trial sweep worker.
	ListExpiredTrials(ctx context.Context, asOf time.Time) ([]*entity.User, error)

	// ListTrialsEndingBefore returns active-trial users whose trial ends
	// before the deadline and have not been flagged yet.
	ListTrialsEndingBefore(ctx context.Context, deadline time.Time) ([]*entity.User, error)
}
