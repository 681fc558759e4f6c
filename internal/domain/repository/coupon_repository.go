package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/edlume/subscription-backend/internal/domain/entity"
)

// CouponRepository defines coupon data access. Codes are stored uppercase;
// lookups normalize before querying.
type CouponRepository interface {
	Create(ctx context.Context, coupon *entity.Coupon) error
	GetByCode(ctx context.Context, code string) (*entity.Coupon, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Coupon, error)
	List(ctx context.Context) ([]*entity.Coupon, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*entity.Coupon, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SaveRedemption persists a redemption already applied to the entity:
	// bumps the usage counter and appends the usage-list row.
	SaveRedemption(ctx context.Context, coupon *entity.Coupon, redemption entity.Redemption) error
}
