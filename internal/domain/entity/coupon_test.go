package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "WELCOME24", NormalizeCode("  welcome24 "))
	assert.Equal(t, "CLASS-A", NormalizeCode("class-a"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestIsRedeemableAt(t *testing.T) {
	now := time.Now()
	coupon := NewCoupon(uuid.New(), "CODE", CouponFreeAccess, 100, 2, now, now.AddDate(0, 1, 0))

	assert.True(t, coupon.IsRedeemableAt(now.Add(time.Hour)))
	assert.False(t, coupon.IsRedeemableAt(now.Add(-time.Hour)))
	assert.False(t, coupon.IsRedeemableAt(now.AddDate(0, 2, 0)))

	coupon.IsActive = false
	assert.False(t, coupon.IsRedeemableAt(now.Add(time.Hour)))
}

func TestRedeemEnforcesCapAndUniqueness(t *testing.T) {
	now := time.Now()
	coupon := NewCoupon(uuid.New(), "CODE", CouponFreeAccess, 100, 2, now, now.AddDate(0, 1, 0))
	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	assert.True(t, coupon.Redeem(first, now))
	assert.False(t, coupon.Redeem(first, now), "same user may not redeem twice")
	assert.True(t, coupon.Redeem(second, now))
	assert.False(t, coupon.Redeem(third, now), "cap reached")
	assert.Equal(t, 2, coupon.UsedCount)
	assert.True(t, coupon.HasRedeemed(first))
	assert.False(t, coupon.HasRedeemed(third))
}

func TestNewAdminGrant(t *testing.T) {
	grant := NewAdminGrant(uuid.New(), "GRANT-ABC")

	assert.Equal(t, CouponFreeAccess, grant.Type)
	assert.Equal(t, 100, grant.DiscountPercent)
	assert.Equal(t, 1, grant.MaxUses)
	assert.True(t, grant.IsRedeemableAt(time.Now()))
}
