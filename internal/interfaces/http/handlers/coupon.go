package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edlume/subscription-backend/internal/application/dto"
	"github.com/edlume/subscription-backend/internal/domain/entity"
	"github.com/edlume/subscription-backend/internal/domain/service"
	"github.com/edlume/subscription-backend/internal/interfaces/http/response"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// CouponHandler handles coupon minting, redemption and the admin grant
type CouponHandler struct {
	coupons *service.CouponService
}

// NewCouponHandler creates a new coupon handler
func NewCouponHandler(coupons *service.CouponService) *CouponHandler {
	return &CouponHandler{coupons: coupons}
}

// CreateCoupon mints a coupon for a user (admin only)
// @Summary Create a coupon
// @Tags coupon
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.CreateCouponRequest true "Coupon request"
// @Success 201 {object} response.SuccessResponse{data=dto.CouponResponse}
// @Failure 400 {object} response.ErrorResponse
// @Router /coupons [post]
func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req dto.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	creatorID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "Invalid user ID")
		return
	}

	coupon, err := h.coupons.Create(c.Request.Context(), service.CreateCouponInput{
		CreatorID:       creatorID,
		Code:            req.Code,
		Type:            entity.CouponType(req.Type),
		DiscountPercent: req.DiscountPercent,
		OneTimeUse:      req.OneTimeUse,
		MaxUses:         req.MaxUses,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	response.Created(c, toCouponResponse(coupon))
}

// RedeemCoupon applies a coupon to the caller's account
// @Summary Redeem a coupon
// @Tags coupon
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.RedeemCouponRequest true "Redeem request"
// @Success 200 {object} response.SuccessResponse{data=dto.RedeemCouponResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /coupons/redeem [post]
func (h *CouponHandler) RedeemCoupon(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	var req dto.RedeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	coupon, err := h.coupons.Redeem(c.Request.Context(), userID, req.Code)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	response.OK(c, dto.RedeemCouponResponse{
		Code:         coupon.Code,
		IsSubscribed: true,
		Message:      "Coupon redeemed",
	})
}

// GrantAccess gives a user free access without a coupon exchange (admin only)
// @Summary Grant free access
// @Tags coupon
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.GrantAccessRequest true "Grant request"
// @Success 200 {object} response.SuccessResponse{data=dto.CouponResponse}
// @Router /coupons/grant [post]
func (h *CouponHandler) GrantAccess(c *gin.Context) {
	adminID, ok := adminUserID(c)
	if !ok {
		return
	}

	var req dto.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	targetID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "Invalid user ID")
		return
	}

	grant, err := h.coupons.GrantFreeAccess(c.Request.Context(), adminID, targetID, req.Code)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	response.OK(c, toCouponResponse(grant))
}

// ListCoupons returns all coupons (admin only)
// @Summary List coupons
// @Tags coupon
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=[]dto.CouponResponse}
// @Router /coupons [get]
func (h *CouponHandler) ListCoupons(c *gin.Context) {
	coupons, err := h.coupons.List(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, toCouponResponses(coupons))
}

// ListMyCoupons returns the coupons the caller has minted
// @Summary List the caller's coupons
// @Tags coupon
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=[]dto.CouponResponse}
// @Router /coupons/mine [get]
func (h *CouponHandler) ListMyCoupons(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	coupons, err := h.coupons.ListByCreator(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, toCouponResponses(coupons))
}

// DeleteCoupon removes a coupon (admin only)
// @Summary Delete a coupon
// @Tags coupon
// @Produce json
// @Security Bearer
// @Param id path string true "Coupon ID"
// @Success 204
// @Router /coupons/{id} [delete]
func (h *CouponHandler) DeleteCoupon(c *gin.Context) {
	couponID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid coupon ID")
		return
	}

	if err := h.coupons.Delete(c.Request.Context(), couponID); err != nil {
		writeDomainError(c, err)
		return
	}
	response.NoContent(c)
}

// adminUserID extracts the admin id set by AdminMiddleware
func adminUserID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get("admin_id")
	if !exists {
		response.Unauthorized(c, "Admin not authenticated")
		return uuid.Nil, false
	}
	adminID, ok := v.(uuid.UUID)
	if !ok {
		response.Unauthorized(c, "Invalid admin ID")
		return uuid.Nil, false
	}
	return adminID, true
}

func toCouponResponse(coupon *entity.Coupon) dto.CouponResponse {
	return dto.CouponResponse{
		ID:              coupon.ID.String(),
		Code:            coupon.Code,
		Type:            string(coupon.Type),
		DiscountPercent: coupon.DiscountPercent,
		IsActive:        coupon.IsActive,
		MaxUses:         coupon.MaxUses,
		UsedCount:       coupon.UsedCount,
		CreatedBy:       coupon.CreatedBy.String(),
		ValidFrom:       coupon.ValidFrom.Format(timeFormat),
		ValidUntil:      coupon.ValidUntil.Format(timeFormat),
	}
}

func toCouponResponses(coupons []*entity.Coupon) []dto.CouponResponse {
	out := make([]dto.CouponResponse, 0, len(coupons))
	for _, coupon := range coupons {
		out = append(out, toCouponResponse(coupon))
	}
	return out
}
