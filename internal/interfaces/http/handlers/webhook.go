package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	"github.com/edlume/subscription-backend/internal/domain/service"
	"github.com/edlume/subscription-backend/internal/infrastructure/logging"
)

// Invoice events enumerate every line item, so payloads can run well past
// the typical few kilobytes. 1 MiB is far above anything the provider sends.
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler receives billing provider events
type WebhookHandler struct {
	provider   billing.Provider
	reconciler *service.ReconcilerService
	logger     *zap.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(provider billing.Provider, reconciler *service.ReconcilerService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		provider:   provider,
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleStripeWebhook verifies and processes a Stripe event.
// Signature failures are the only rejection; processing errors are captured
// and acked with 200 so the provider does not retry an event we have already
// recorded as failed on our side.
// @Summary Stripe webhook receiver
// @Tags webhook
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 400 {object} map[string]string
// @Router /webhook/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	event, err := h.provider.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	if err := h.reconciler.Process(c.Request.Context(), event); err != nil {
		logging.CaptureError(err,
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
