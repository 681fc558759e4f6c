package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/entity"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// CreateCouponInput carries the fields for minting a coupon.
type CreateCouponInput struct {
	CreatorID       uuid.UUID
	Code            string
	Type            entity.CouponType
	DiscountPercent int
	OneTimeUse      bool
	MaxUses         int
	ValidFrom       time.Time
	ValidUntil      time.Time
}

// CouponService owns coupon minting, redemption and the admin free-access
// grant. Redemption runs in a transaction because it mutates three rows: the
// coupon counter, the redeemer and the issuer.
type CouponService struct {
	users       repository.UserRepository
	coupons     repository.CouponRepository
	atomic      repository.Atomic
	invalidator StatusInvalidator
	logger      *zap.Logger
}

// NewCouponService creates the coupon and grant engine.
func NewCouponService(users repository.UserRepository, coupons repository.CouponRepository, atomic repository.Atomic, invalidator StatusInvalidator, logger *zap.Logger) *CouponService {
	return &CouponService{
		users:       users,
		coupons:     coupons,
		atomic:      atomic,
		invalidator: invalidator,
		logger:      logger,
	}
}

// Create mints a coupon owned by the creator. Defaults: free-access type at
// 100 percent, one year of validity, a single use when flagged one-time.
func (s *CouponService) Create(ctx context.Context, in CreateCouponInput) (*entity.Coupon, error) {
	code := entity.NormalizeCode(in.Code)
	if code == "" {
		return nil, domainErrors.NewValidationError("code", "coupon code is required")
	}

	creator, err := s.users.GetByID(ctx, in.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator.IsBlocked {
		return nil, domainErrors.ErrUserBlocked
	}

	ctype := in.Type
	if ctype == "" {
		ctype = entity.CouponFreeAccess
	}
	if ctype != entity.CouponFreeAccess && ctype != entity.CouponDiscount {
		return nil, domainErrors.NewValidationError("type", "unknown coupon type")
	}
	discount := in.DiscountPercent
	if ctype == entity.CouponFreeAccess {
		discount = 100
	}
	if discount <= 0 || discount > 100 {
		return nil, domainErrors.NewValidationError("discountPercent", "discount must be between 1 and 100")
	}

	maxUses := in.MaxUses
	if in.OneTimeUse {
		maxUses = 1
	}
	if maxUses <= 0 {
		return nil, domainErrors.NewValidationError("maxUses", "max uses must be positive")
	}

	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = time.Now()
	}
	validUntil := in.ValidUntil
	if validUntil.IsZero() {
		validUntil = validFrom.AddDate(1, 0, 0)
	}
	if !validUntil.After(validFrom) {
		return nil, domainErrors.NewValidationError("validUntil", "validity window is empty")
	}

	coupon := entity.NewCoupon(creator.ID, code, ctype, discount, maxUses, validFrom, validUntil)
	if err := s.coupons.Create(ctx, coupon); err != nil {
		return nil, err
	}

	s.logger.Info("coupon created",
		zap.String("code", coupon.Code),
		zap.String("creator_id", creator.ID.String()),
		zap.Int("max_uses", coupon.MaxUses),
	)
	return coupon, nil
}

// Redeem applies a coupon to the redeemer's account. The issuer must hold an
// active subscription, the roles must pair up, and each account may redeem a
// given coupon at most once. A successful redemption also flips the issuer's
// coupon bookkeeping: the coupon closes for the issuer unless the redeemer is
// on the multi-student plan.
func (s *CouponService) Redeem(ctx context.Context, redeemerID uuid.UUID, code string) (*entity.Coupon, error) {
	normalized := entity.NormalizeCode(code)
	if normalized == "" {
		return nil, domainErrors.NewValidationError("code", "coupon code is required")
	}

	var redeemed *entity.Coupon
	err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		coupon, err := r.Coupons.GetByCode(ctx, normalized)
		if err != nil {
			return err
		}

		redeemer, err := r.Users.GetByIDForUpdate(ctx, redeemerID)
		if err != nil {
			return err
		}
		if redeemer.IsBlocked {
			return domainErrors.ErrUserBlocked
		}

		issuer, err := r.Users.GetByIDForUpdate(ctx, coupon.CreatedBy)
		if err != nil {
			if errors.Is(err, domainErrors.ErrUserNotFound) {
				return domainErrors.ErrCouponNotFound
			}
			return err
		}
		if !issuer.IsSubscribed {
			return domainErrors.ErrCouponIssuerInactive
		}
		if err := checkRolePairing(issuer.Role, redeemer.Role); err != nil {
			return err
		}

		now := time.Now()
		if coupon.HasRedeemed(redeemer.ID) {
			return domainErrors.ErrCouponAlreadyUsed
		}
		if !coupon.IsRedeemableAt(now) {
			return domainErrors.ErrCouponNotRedeemable
		}
		if !coupon.Redeem(redeemer.ID, now) {
			return domainErrors.ErrCouponNotRedeemable
		}
		if err := r.Coupons.SaveRedemption(ctx, coupon, coupon.Redemptions[len(coupon.Redemptions)-1]); err != nil {
			return err
		}

		redeemer.GrantByCoupon(issuer.ID)
		if err := r.Users.UpdateEntitlement(ctx, redeemer); err != nil {
			return err
		}

		// Multi-student issuers keep the coupon open for further seats.
		issuer.CouponUsed = true
		issuer.CouponClosed = redeemer.Plan != entity.PlanMultiStudent
		issuer.UpdatedAt = now
		if err := r.Users.UpdateEntitlement(ctx, issuer); err != nil {
			return err
		}

		redeemed = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, redeemerID)
	}
	s.logger.Info("coupon redeemed",
		zap.String("code", normalized),
		zap.String("redeemer_id", redeemerID.String()),
	)
	return redeemed, nil
}

// GrantFreeAccess is the admin override: it mints a single-use full-discount
// coupon and redeems it against the target in one step, bypassing the role
// and issuer-subscription checks.
func (s *CouponService) GrantFreeAccess(ctx context.Context, adminID, targetID uuid.UUID, code string) (*entity.Coupon, error) {
	if code == "" {
		code = "GRANT-" + strings.ToUpper(uuid.NewString()[:8])
	}

	var grant *entity.Coupon
	err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		target, err := r.Users.GetByIDForUpdate(ctx, targetID)
		if err != nil {
			return err
		}

		coupon := entity.NewAdminGrant(adminID, code)
		now := time.Now()
		coupon.Redeem(target.ID, now)
		if err := r.Coupons.Create(ctx, coupon); err != nil {
			return err
		}
		if err := r.Coupons.SaveRedemption(ctx, coupon, coupon.Redemptions[0]); err != nil {
			return err
		}

		target.GrantByCoupon(adminID)
		if err := r.Users.UpdateEntitlement(ctx, target); err != nil {
			return err
		}

		grant = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, targetID)
	}
	s.logger.Info("free access granted",
		zap.String("admin_id", adminID.String()),
		zap.String("target_id", targetID.String()),
		zap.String("code", grant.Code),
	)
	return grant, nil
}

// List returns all coupons.
func (s *CouponService) List(ctx context.Context) ([]*entity.Coupon, error) {
	return s.coupons.List(ctx)
}

// ListByCreator returns the coupons a user has minted.
func (s *CouponService) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*entity.Coupon, error) {
	if _, err := s.users.GetByID(ctx, creatorID); err != nil {
		return nil, err
	}
	return s.coupons.ListByCreator(ctx, creatorID)
}

// Delete removes a coupon. Past redemptions keep their granted entitlement.
func (s *CouponService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.coupons.GetByID(ctx, id); err != nil {
		return err
	}
	return s.coupons.Delete(ctx, id)
}

// checkRolePairing enforces who may redeem whose coupon. Parent coupons are
// for students, student coupons for parents, teacher coupons for students.
// Admin-minted coupons are unconstrained.
func checkRolePairing(issuer, redeemer entity.Role) error {
	switch issuer {
	case entity.RoleParent:
		if redeemer != entity.RoleStudent {
			return domainErrors.ErrCouponRoleMismatch
		}
	case entity.RoleStudent:
		if redeemer != entity.RoleParent {
			return domainErrors.ErrCouponRoleMismatch
		}
	case entity.RoleTeacher:
		if redeemer != entity.RoleStudent {
			return domainErrors.ErrCouponRoleMismatch
		}
	}
	return nil
}
