package dto

// ========== CHECKOUT DTOs ==========

// CreateCheckoutSessionRequest starts a hosted checkout
type CreateCheckoutSessionRequest struct {
	PriceID      string  `json:"priceId" binding:"required"`
	PackageName  string  `json:"packageName" binding:"required"`
	PackagePrice float64 `json:"packagePrice" binding:"required,gt=0"`
	BillingCycle string  `json:"billingCycle" binding:"omitempty,oneof=monthly yearly"`
}

// CheckoutSessionResponse carries the redirect URL. SessionCreated is false
// for free roles that skip checkout.
type CheckoutSessionResponse struct {
	URL            string `json:"url"`
	SessionCreated bool   `json:"session_created"`
}

// PortalSessionResponse carries the billing portal URL
type PortalSessionResponse struct {
	URL string `json:"url"`
}

// ========== STATUS DTOs ==========

// SubscriptionStatusResponse is the entitlement projection clients poll
type SubscriptionStatusResponse struct {
	IsSubscribed       bool   `json:"isSubscribed"`
	TrialStatus        string `json:"trialStatus"`
	TrialEndDate       string `json:"trialEndDate,omitempty"`
	TrialDaysRemaining int    `json:"trialDaysRemaining"`
	Plan               string `json:"plan,omitempty"`
	Cached             bool   `json:"cached"`
}

// TrialInfoResponse describes the user's trial state
type TrialInfoResponse struct {
	TrialStatus   string `json:"trialStatus"`
	TrialEndDate  string `json:"trialEndDate,omitempty"`
	DaysRemaining int    `json:"daysRemaining"`
	IsSubscribed  bool   `json:"isSubscribed"`
}

// SubscriptionRecordResponse is one subscription period
type SubscriptionRecordResponse struct {
	ID                     string  `json:"id"`
	ExternalSubscriptionID string  `json:"externalSubscriptionId"`
	TotalPaid              float64 `json:"totalPaid"`
	SubscriptionDate       string  `json:"subscriptionDate"`
	IsActive               bool    `json:"isActive"`
	CurrentPeriodStart     string  `json:"currentPeriodStart"`
	CurrentPeriodEnd       string  `json:"currentPeriodEnd"`
	IsCancelled            bool    `json:"isCancelled"`
	CancelledAt            string  `json:"cancelledAt,omitempty"`
	BillingReason          string  `json:"billingReason"`
}

// SubscriptionDetailsResponse combines entitlement and record state
type SubscriptionDetailsResponse struct {
	IsSubscribed  bool                         `json:"isSubscribed"`
	TrialStatus   string                       `json:"trialStatus"`
	TrialEndDate  string                       `json:"trialEndDate,omitempty"`
	CurrentRecord *SubscriptionRecordResponse  `json:"currentRecord,omitempty"`
	History       []SubscriptionRecordResponse `json:"history"`
}

// ProviderSubscriptionResponse is a provider-side subscription summary
type ProviderSubscriptionResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	TrialEnd         int64  `json:"trialEnd,omitempty"`
	CurrentPeriodEnd int64  `json:"currentPeriodEnd,omitempty"`
}

// DebugSubscriptionResponse exposes both sides of the reconciliation for
// support tooling
type DebugSubscriptionResponse struct {
	UserID                string                         `json:"userId"`
	Email                 string                         `json:"email"`
	Role                  string                         `json:"role"`
	IsSubscribed          bool                           `json:"isSubscribed"`
	TrialStatus           string                         `json:"trialStatus"`
	BillingCustomerID     string                         `json:"billingCustomerId,omitempty"`
	PendingCancellation   bool                           `json:"pendingCancellation"`
	ProviderSubscriptions []ProviderSubscriptionResponse `json:"providerSubscriptions"`
	ProviderError         string                         `json:"providerError,omitempty"`
	LocalRecord           *SubscriptionRecordResponse    `json:"localRecord,omitempty"`
}

// CancelSubscriptionResponse reports an admin cancellation
type CancelSubscriptionResponse struct {
	CancelledCount int    `json:"cancelledCount"`
	HadCustomer    bool   `json:"hadCustomer"`
	Message        string `json:"message"`
}

// ========== COUPON DTOs ==========

// CreateCouponRequest mints a coupon for a user
type CreateCouponRequest struct {
	UserID          string `json:"userId" binding:"required,uuid"`
	Code            string `json:"code" binding:"required"`
	Type            string `json:"type" binding:"omitempty,oneof=free_access discount"`
	DiscountPercent int    `json:"discountPercent" binding:"omitempty,min=1,max=100"`
	OneTimeUse      bool   `json:"oneTimeUse"`
	MaxUses         int    `json:"maxUses" binding:"omitempty,min=1"`
}

// RedeemCouponRequest applies a coupon to the caller's account
type RedeemCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

// GrantAccessRequest is the admin free-access override
type GrantAccessRequest struct {
	UserID string `json:"userId" binding:"required,uuid"`
	Code   string `json:"code"`
}

// CouponResponse represents a coupon in API responses
type CouponResponse struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Type            string `json:"type"`
	DiscountPercent int    `json:"discountPercent"`
	IsActive        bool   `json:"isActive"`
	MaxUses         int    `json:"maxUses"`
	UsedCount       int    `json:"usedCount"`
	CreatedBy       string `json:"createdBy"`
	ValidFrom       string `json:"validFrom"`
	ValidUntil      string `json:"validUntil"`
}

// RedeemCouponResponse confirms a redemption
type RedeemCouponResponse struct {
	Code         string `json:"code"`
	IsSubscribed bool   `json:"isSubscribed"`
	Message      string `json:"message"`
}
