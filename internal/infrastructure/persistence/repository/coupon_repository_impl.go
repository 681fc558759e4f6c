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

const couponColumns = `
	id, code, type, discount_percent, is_active, max_uses, used_count,
	created_by, valid_from, valid_until, created_at, updated_at
`

// CouponRepositoryImpl implements CouponRepository using pgx
type CouponRepositoryImpl struct {
	db Querier
}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository(db Querier) *CouponRepositoryImpl {
	return &CouponRepositoryImpl{db: db}
}

// Create inserts a coupon with its initial redemptions
func (r *CouponRepositoryImpl) Create(ctx context.Context, coupon *entity.Coupon) error {
	query := `
		INSERT INTO coupons (
			id, code, type, discount_percent, is_active, max_uses, used_count,
			created_by, valid_from, valid_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		coupon.ID, coupon.Code, coupon.Type, coupon.DiscountPercent, coupon.IsActive,
		coupon.MaxUses, coupon.UsedCount, coupon.CreatedBy, coupon.ValidFrom,
		coupon.ValidUntil, coupon.CreatedAt, coupon.UpdatedAt,
	)
	return err
}

// GetByCode retrieves a coupon with its redemption list. The lock matters:
// concurrent redemptions of the same code serialize on this row.
func (r *CouponRepositoryImpl) GetByCode(ctx context.Context, code string) (*entity.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`
	return r.scanWithRedemptions(ctx, r.db.QueryRow(ctx, query, entity.NormalizeCode(code)))
}

// GetByID retrieves a coupon by id
func (r *CouponRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entity.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	return r.scanWithRedemptions(ctx, r.db.QueryRow(ctx, query, id))
}

func (r *CouponRepositoryImpl) scanWithRedemptions(ctx context.Context, row pgx.Row) (*entity.Coupon, error) {
	coupon, err := scanCoupon(row)
	if err != nil {
		return nil, err
	}
	coupon.Redemptions, err = r.redemptions(ctx, coupon.ID)
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

func scanCoupon(row pgx.Row) (*entity.Coupon, error) {
	c := &entity.Coupon{}
	err := row.Scan(
		&c.ID, &c.Code, &c.Type, &c.DiscountPercent, &c.IsActive, &c.MaxUses, &c.UsedCount,
		&c.CreatedBy, &c.ValidFrom, &c.ValidUntil, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CouponRepositoryImpl) redemptions(ctx context.Context, couponID uuid.UUID) ([]entity.Redemption, error) {
	query := `SELECT user_id, redeemed_at FROM coupon_redemptions WHERE coupon_id = $1 ORDER BY redeemed_at`
	rows, err := r.db.Query(ctx, query, couponID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redemptions []entity.Redemption
	for rows.Next() {
		var red entity.Redemption
		if err := rows.Scan(&red.UserID, &red.RedeemedAt); err != nil {
			return nil, err
		}
		redemptions = append(redemptions, red)
	}
	return redemptions, rows.Err()
}

// List retrieves all coupons without their redemption lists
func (r *CouponRepositoryImpl) List(ctx context.Context) ([]*entity.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`
	return r.listCoupons(ctx, query)
}

// ListByCreator retrieves the coupons minted by a user
func (r *CouponRepositoryImpl) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*entity.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE created_by = $1 ORDER BY created_at DESC`
	return r.listCoupons(ctx, query, creatorID)
}

func (r *CouponRepositoryImpl) listCoupons(ctx context.Context, query string, args ...any) ([]*entity.Coupon, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coupons []*entity.Coupon
	for rows.Next() {
		c := &entity.Coupon{}
		err := rows.Scan(
			&c.ID, &c.Code, &c.Type, &c.DiscountPercent, &c.IsActive, &c.MaxUses, &c.UsedCount,
			&c.CreatedBy, &c.ValidFrom, &c.ValidUntil, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// Delete removes a coupon and its redemption rows
func (r *CouponRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrCouponNotFound
	}
	return nil
}

// SaveRedemption persists a redemption already applied to the entity
func (r *CouponRepositoryImpl) SaveRedemption(ctx context.Context, coupon *entity.Coupon, redemption entity.Redemption) error {
	_, err := r.db.Exec(ctx,
		`UPDATE coupons SET used_count = $2, updated_at = $3 WHERE id = $1`,
		coupon.ID, coupon.UsedCount, time.Now(),
	)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO coupon_redemptions (coupon_id, user_id, redeemed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (coupon_id, user_id) DO NOTHING`,
		coupon.ID, redemption.UserID, redemption.RedeemedAt,
	)
	return err
}
