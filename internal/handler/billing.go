package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/handler/dto"
	"github.com/finbridge/marketgate/internal/handler/middleware"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/service/billing"
)

// webhookBodyLimit caps webhook payloads at 1 MiB.
const webhookBodyLimit = 1 << 20

type BillingHandler struct {
	billing       *billing.Service
	webhookSecret string
	logger        *zap.Logger
}

func NewBillingHandler(billingService *billing.Service, webhookSecret string, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		billing:       billingService,
		webhookSecret: webhookSecret,
		logger:        logger.Named("BillingHandler"),
	}
}

func (h *BillingHandler) GetPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": []billing.Plan{h.billing.StarterPlan()}})
}

// CreateCheckoutSession works both anonymously and with a session token; an
// authenticated checkout is bound to the account up front instead of being
// matched by email later.
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	var req dto.CreateCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.billing.ValidateRedirectURL(req.SuccessURL); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.billing.ValidateRedirectURL(req.CancelURL); err != nil {
		_ = c.Error(err)
		return
	}

	var accountID *int64
	if id := middleware.GetSessionAccountID(c); id != 0 {
		accountID = &id
	}

	sess, err := h.billing.CreateCheckoutSession(c.Request.Context(), req.Email, req.SuccessURL, req.CancelURL, accountID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.CheckoutSessionResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
		Status:    sess.Status,
	})
}

// Webhook verifies the provider signature and hands the event to the
// reconciler. Signature verification is the only authentication on this
// endpoint.
func (h *BillingHandler) Webhook(c *gin.Context) {
	if h.webhookSecret == "" {
		_ = c.Error(fmt.Errorf("%w: webhook secret not configured", ierr.ErrBillingNotConfigured))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(fmt.Errorf("%w: failed to read webhook body", ierr.ErrValidation))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %v", ierr.ErrWebhookSignature, err))
		return
	}

	result, err := h.billing.HandleEvent(c.Request.Context(), billing.Event{
		Type:   string(event.Type),
		Object: event.Data.Raw,
	})
	if err != nil {
		h.logger.Error("Webhook reconciliation failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAckResponse{
		Received:       true,
		Type:           string(event.Type),
		Handled:        result.Handled,
		ProvisionedKey: result.ProvisionedKey,
	})
}
