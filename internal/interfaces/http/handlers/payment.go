package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edlume/subscription-backend/internal/application/dto"
	"github.com/edlume/subscription-backend/internal/application/query"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/service"
	"github.com/edlume/subscription-backend/internal/interfaces/http/response"
)

// PaymentHandler handles checkout, portal and subscription status endpoints
type PaymentHandler struct {
	checkout     *service.CheckoutService
	portal       *service.PortalService
	statusQuery  *query.SubscriptionStatusQuery
	trialQuery   *query.TrialInfoQuery
	detailsQuery *query.SubscriptionDetailsQuery
	debugQuery   *query.DebugSubscriptionQuery
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(
	checkout *service.CheckoutService,
	portal *service.PortalService,
	statusQuery *query.SubscriptionStatusQuery,
	trialQuery *query.TrialInfoQuery,
	detailsQuery *query.SubscriptionDetailsQuery,
	debugQuery *query.DebugSubscriptionQuery,
) *PaymentHandler {
	return &PaymentHandler{
		checkout:     checkout,
		portal:       portal,
		statusQuery:  statusQuery,
		trialQuery:   trialQuery,
		detailsQuery: detailsQuery,
		debugQuery:   debugQuery,
	}
}

// CreateCheckoutSession starts a hosted checkout
// @Summary Create a checkout session
// @Tags payment
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.CreateCheckoutSessionRequest true "Checkout request"
// @Success 200 {object} response.SuccessResponse{data=dto.CheckoutSessionResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /payment/create-checkout-session [post]
func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	var req dto.CreateCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.checkout.CreateSession(c.Request.Context(), service.CheckoutInput{
		UserID:       userID,
		PriceID:      req.PriceID,
		PackageName:  req.PackageName,
		PackagePrice: req.PackagePrice,
		BillingCycle: req.BillingCycle,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	response.OK(c, dto.CheckoutSessionResponse{
		URL:            result.URL,
		SessionCreated: result.SessionCreated,
	})
}

// CreatePortalSession returns a billing portal session URL
// @Summary Create a billing portal session
// @Tags payment
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=dto.PortalSessionResponse}
// @Failure 404 {object} response.ErrorResponse
// @Router /payment/create-portal-session [post]
func (h *PaymentHandler) CreatePortalSession(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	url, err := h.portal.CreateSession(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	response.OK(c, dto.PortalSessionResponse{URL: url})
}

// GetSubscriptionStatus returns the entitlement projection
// @Summary Get subscription status
// @Tags payment
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=dto.SubscriptionStatusResponse}
// @Router /payment/subscription-status [get]
func (h *PaymentHandler) GetSubscriptionStatus(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.statusQuery.Execute(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, resp)
}

// GetTrialInfo returns the user's trial state
// @Summary Get trial information
// @Tags payment
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=dto.TrialInfoResponse}
// @Router /payment/trial-info [get]
func (h *PaymentHandler) GetTrialInfo(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.trialQuery.Execute(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, resp)
}

// GetSubscriptionDetails returns entitlement plus record history
// @Summary Get subscription details
// @Tags payment
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=dto.SubscriptionDetailsResponse}
// @Router /payment/subscription-details [get]
func (h *PaymentHandler) GetSubscriptionDetails(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.detailsQuery.Execute(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, resp)
}

// DebugSubscription exposes both sides of the reconciliation (admin only)
// @Summary Debug a user's subscription state
// @Tags payment
// @Produce json
// @Security Bearer
// @Param userId path string true "User ID"
// @Success 200 {object} response.SuccessResponse{data=dto.DebugSubscriptionResponse}
// @Router /payment/debug-subscription/{userId} [get]
func (h *PaymentHandler) DebugSubscription(c *gin.Context) {
	resp, err := h.debugQuery.Execute(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, resp)
}

// CancelSubscription cancels all of a user's provider subscriptions (admin only)
// @Summary Cancel a user's subscriptions
// @Tags payment
// @Produce json
// @Security Bearer
// @Param userId path string true "User ID"
// @Success 200 {object} response.SuccessResponse{data=dto.CancelSubscriptionResponse}
// @Router /payment/cancel-subscription/{userId} [post]
func (h *PaymentHandler) CancelSubscription(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "Invalid user ID")
		return
	}

	result, err := h.portal.CancelByAdmin(c.Request.Context(), targetID)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	resp := dto.CancelSubscriptionResponse{
		CancelledCount: result.CancelledCount,
		HadCustomer:    result.HadCustomer,
	}
	switch {
	case !result.HadCustomer:
		resp.Message = "User has no billing customer; nothing to cancel"
	case result.CancelledCount == 0:
		resp.Message = "No active subscriptions found"
	default:
		resp.Message = "Subscriptions cancelled"
	}
	response.OK(c, resp)
}

// authenticatedUserID extracts and parses the authenticated user id, writing
// the error response on failure.
func authenticatedUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr := c.GetString("user_id")
	if userIDStr == "" {
		response.Unauthorized(c, "User not authenticated")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		response.Unauthorized(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// writeDomainError maps domain errors onto the response envelope
func writeDomainError(c *gin.Context, err error) {
	var perr *domainErrors.ProviderError
	switch {
	case errors.Is(err, domainErrors.ErrUserNotFound):
		response.NotFound(c, "User not found")
	case errors.Is(err, domainErrors.ErrNoBillingCustomer):
		response.NotFound(c, "No billing customer on file")
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		response.NotFound(c, "Subscription not found")
	case errors.Is(err, domainErrors.ErrCouponNotFound):
		response.NotFound(c, "Coupon not found")
	case errors.Is(err, domainErrors.ErrUserBlocked):
		response.Forbidden(c, "User is blocked")
	case errors.Is(err, domainErrors.ErrCouponAlreadyUsed):
		response.Conflict(c, "Coupon already redeemed")
	case domainErrors.IsValidation(err):
		response.BadRequest(c, err.Error())
	case errors.As(err, &perr):
		response.Error(c, http.StatusBadGateway, "PROVIDER_ERROR", perr.Error())
	default:
		response.InternalError(c, "Internal server error")
	}
}
