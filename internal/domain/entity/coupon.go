package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type CouponType string

const (
	CouponFreeAccess CouponType = "free_access"
	CouponDiscount   CouponType = "discount"
)

// Redemption is one entry in a coupon's usage list.
type Redemption struct {
	UserID     uuid.UUID
	RedeemedAt time.Time
}

// Coupon is a promotional code granting entitlement without payment. Codes
// are case-insensitive and stored uppercase.
type Coupon struct {
	ID              uuid.UUID
	Code            string
	Type            CouponType
	DiscountPercent int
	IsActive        bool
	MaxUses         int
	UsedCount       int
	CreatedBy       uuid.UUID
	Redemptions     []Redemption
	ValidFrom       time.Time
	ValidUntil      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeCode uppercases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon creates an active coupon owned by creatorID.
func NewCoupon(creatorID uuid.UUID, code string, ctype CouponType, discountPercent, maxUses int, validFrom, validUntil time.Time) *Coupon {
	now := time.Now()
	return &Coupon{
		ID:              uuid.New(),
		Code:            NormalizeCode(code),
		Type:            ctype,
		DiscountPercent: discountPercent,
		IsActive:        true,
		MaxUses:         maxUses,
		CreatedBy:       creatorID,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewAdminGrant mints the coupon used by the admin override path: full
// discount, single use, one-year validity.
func NewAdminGrant(adminID uuid.UUID, code string) *Coupon {
	now := time.Now()
	return NewCoupon(adminID, code, CouponFreeAccess, 100, 1, now, now.AddDate(1, 0, 0))
}

// IsRedeemableAt checks the active flag, validity window and usage cap.
func (c *Coupon) IsRedeemableAt(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if t.Before(c.ValidFrom) || t.After(c.ValidUntil) {
		return false
	}
	return c.UsedCount < c.MaxUses
}

// HasRedeemed reports whether userID already appears in the usage list.
func (c *Coupon) HasRedeemed(userID uuid.UUID) bool {
	for _, r := range c.Redemptions {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Redeem appends userID to the usage list and bumps the counter. Callers
// validate redeemability first; Redeem only guards the per-user uniqueness
// and cap invariants.
func (c *Coupon) Redeem(userID uuid.UUID, at time.Time) bool {
	if c.HasRedeemed(userID) || c.UsedCount >= c.MaxUses {
		return false
	}
	c.Redemptions = append(c.Redemptions, Redemption{UserID: userID, RedeemedAt: at})
	c.UsedCount++
	c.UpdatedAt = time.Now()
	return true
}
