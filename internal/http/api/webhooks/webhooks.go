// Package webhooks exposes the payment gateway webhook and browser callback
// endpoints. Webhooks are the only authority over subscription state; the
// browser callback is presentational and never mutates anything.
package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/docuflow/backend/internal/billing"
	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/gateway"
)

// maxWebhookBody caps webhook payload reads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler handles gateway webhook deliveries and browser callbacks.
type WebhookHandler struct {
	ingestor *billing.Ingestor
	registry *gateway.Registry
	checkout config.CheckoutConfig
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(ingestor *billing.Ingestor, registry *gateway.Registry, checkout config.CheckoutConfig) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, registry: registry, checkout: checkout}
}

// RegisterWebhookRoutes registers the webhook and callback routes.
func RegisterWebhookRoutes(r *gin.Engine, h *WebhookHandler) {
	if r == nil || h == nil {
		return
	}
	r.POST("/v0/webhooks/:gateway", h.Receive)
	r.GET("/v0/payments/:gateway/callback", h.Callback)
}

// Receive ingests one webhook delivery. Applied and duplicate outcomes both
// acknowledge with 200 so gateways stop redelivering; rejections return 400.
func (h *WebhookHandler) Receive(c *gin.Context) {
	gatewayName := c.Param("gateway")
	adapter, ok := h.registry.Lookup(gatewayName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	body, errRead := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := ""
	if header := adapter.SignatureHeader(); header != "" {
		signature = c.GetHeader(header)
	}

	result, errIngest := h.ingestor.Ingest(c.Request.Context(), gatewayName, body, signature)
	if errIngest != nil {
		if errors.Is(errIngest, billing.ErrUnknownGateway) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
			return
		}
		log.WithError(errIngest).WithField("gateway", gatewayName).Error("webhook ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}

	switch result.Outcome {
	case billing.OutcomeApplied, billing.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"status": string(result.Outcome)})
	case billing.OutcomeRejected:
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Reason})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown outcome"})
	}
}

// Callback handles the browser's return from a hosted checkout page. It only
// redirects; entitlements change when the corresponding webhook arrives.
func (h *WebhookHandler) Callback(c *gin.Context) {
	if _, ok := h.registry.Lookup(c.Param("gateway")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	if callbackSucceeded(c) {
		c.Redirect(http.StatusFound, h.checkout.SuccessURL)
		return
	}
	c.Redirect(http.StatusFound, h.checkout.FailureURL)
}

// callbackSucceeded inspects the query parameters hosted pages append on
// return. Gateways disagree on the parameter name, so all known ones are
// checked.
func callbackSucceeded(c *gin.Context) bool {
	if v := c.Query("success"); v != "" {
		return v == "true" || v == "1"
	}
	switch c.Query("status") {
	case "success", "SUCCESS", "paid", "PAID":
		return true
	}
	return false
}
