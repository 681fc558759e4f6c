package entity

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleStudent Role = "Student"
	RoleParent  Role = "Parent"
)

// TrialStatus tracks where a user's trial sits in its lifecycle.
type TrialStatus string

const (
	TrialNone          TrialStatus = "none"
	TrialActive        TrialStatus = "active"
	TrialEndingSoon    TrialStatus = "ending_soon"
	TrialCompleted     TrialStatus = "completed"
	TrialPaymentFailed TrialStatus = "payment_failed"
	TrialPastDue       TrialStatus = "past_due"
)

// PlanMultiStudent is the plan tag that unlocks multi-seat student
// registration and re-opens the issuer's coupon on redemption.
const PlanMultiStudent = "allowToRegisterMultiStudents"

// User carries the account identity plus the entitlement fields this service
// owns. Academic profile data lives elsewhere.
type User struct {
	ID                  uuid.UUID
	FullName            string
	UserName            string
	Email               string
	Role                Role
	IsBlocked           bool
	IsSubscribed        bool
	BillingCustomerID   *string
	TrialStatus         TrialStatus
	TrialEndDate        *time.Time
	Plan                string
	CouponUsed          bool
	CouponProvider      *uuid.UUID
	CouponClosed        bool
	PendingCancellation bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewUser creates a user with default entitlement state.
func NewUser(fullName, userName, email string, role Role) *User {
	now := time.Now()
	return &User{
		ID:           uuid.New(),
		FullName:     fullName,
		UserName:     userName,
		Email:        email,
		Role:         role,
		IsSubscribed: false,
		TrialStatus:  TrialNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// RequiresPayment returns true for roles that must go through checkout.
// Students never pay.
func (u *User) RequiresPayment() bool {
	return u.Role != RoleStudent
}

// HasBillingCustomer returns true once a provider customer has been created.
func (u *User) HasBillingCustomer() bool {
	return u.BillingCustomerID != nil && *u.BillingCustomerID != ""
}

// SetBillingCustomer backfills the provider customer reference.
func (u *User) SetBillingCustomer(customerID string) {
	u.BillingCustomerID = &customerID
	u.UpdatedAt = time.Now()
}

// StartTrial grants access for a trial ending at trialEnd.
func (u *User) StartTrial(trialEnd time.Time) {
	u.IsSubscribed = true
	u.TrialStatus = TrialActive
	u.TrialEndDate = &trialEnd
	u.PendingCancellation = false
	u.UpdatedAt = time.Now()
}

// CompleteSubscription marks a fully paid, non-trial entitlement.
func (u *User) CompleteSubscription() {
	u.IsSubscribed = true
	u.TrialStatus = TrialCompleted
	u.TrialEndDate = nil
	u.PendingCancellation = false
	u.UpdatedAt = time.Now()
}

// AssignPlan records the plan tag carried by the paid price.
func (u *User) AssignPlan(plan string) {
	u.Plan = plan
	u.UpdatedAt = time.Now()
}

// MarkPastDue keeps access while the provider retries payment.
func (u *User) MarkPastDue() {
	u.IsSubscribed = true
	u.TrialStatus = TrialPastDue
	u.UpdatedAt = time.Now()
}

// MarkPaymentFailed flags the failed charge. Access is not revoked here; only
// a later cancellation or deletion event revokes it.
func (u *User) MarkPaymentFailed() {
	u.TrialStatus = TrialPaymentFailed
	u.UpdatedAt = time.Now()
}

// MarkTrialEnding is informational only.
func (u *User) MarkTrialEnding() {
	u.TrialStatus = TrialEndingSoon
	u.UpdatedAt = time.Now()
}

// ExpireTrial ends a lapsed trial that never converted to a paid
// subscription. The end date is kept for the history projections.
func (u *User) ExpireTrial() {
	u.IsSubscribed = false
	u.TrialStatus = TrialCompleted
	u.UpdatedAt = time.Now()
}

// Revoke removes the entitlement and resets trial state to defaults.
func (u *User) Revoke() {
	u.IsSubscribed = false
	u.TrialStatus = TrialNone
	u.TrialEndDate = nil
	u.PendingCancellation = false
	u.UpdatedAt = time.Now()
}

// GrantByCoupon applies a peer coupon grant from the given issuer.
func (u *User) GrantByCoupon(issuerID uuid.UUID) {
	u.IsSubscribed = true
	u.CouponUsed = true
	u.CouponProvider = &issuerID
	u.CouponClosed = true
	u.UpdatedAt = time.Now()
}

// TrialDaysRemaining returns whole days left on the trial, zero when no trial
// end is recorded or the trial has passed.
func (u *User) TrialDaysRemaining(now time.Time) int {
	if u.TrialEndDate == nil {
		return 0
	}
	remaining := u.TrialEndDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// EntitlementConsistent reports whether the trial status and subscribed flag
// agree: a live trial state implies access, and a revoked user may only sit
// in a terminal or failure status.
func (u *User) EntitlementConsistent() bool {
	if u.IsSubscribed {
		return true
	}
	switch u.TrialStatus {
	case TrialNone, TrialCompleted, TrialPaymentFailed:
		return true
	default:
		return false
	}
}
