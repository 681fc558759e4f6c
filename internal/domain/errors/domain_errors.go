package errors

import (
	"errors"
	"fmt"
)

var (
	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrUserBlocked  = errors.New("user is blocked")

	// Entitlement errors
	ErrNoBillingCustomer    = errors.New("no billing customer on file")
	ErrEntitlementConflict  = errors.New("entitlement was modified concurrently")
	ErrSubscriptionNotFound = errors.New("subscription record not found")

	// Coupon errors
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrCouponNotRedeemable  = errors.New("coupon is not redeemable")
	ErrCouponAlreadyUsed    = errors.New("coupon already redeemed by this user")
	ErrCouponRoleMismatch   = errors.New("invalid coupon code")
	ErrCouponIssuerInactive = errors.New("coupon issuer's subscription is not active")

	// Provider errors
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
)

// NotFoundError wraps an error with not found context
type NotFoundError struct {
	Entity string
	ID     string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found: %v", e.Entity, e.ID, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ProviderError wraps a billing-provider failure with the provider's message
// attached, so handlers can re-surface it.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
