package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docuflow/backend/internal/billing"
	"github.com/docuflow/backend/internal/models"
)

// getAccountID returns the authenticated account ID from the request context.
func getAccountID(c *gin.Context) uint64 {
	v, ok := c.Get("accountID")
	if !ok {
		return 0
	}
	id, ok := v.(uint64)
	if !ok {
		return 0
	}
	return id
}

// SubscriptionFrontHandler handles subscription endpoints for accounts.
type SubscriptionFrontHandler struct {
	subs *billing.Service
}

// NewSubscriptionFrontHandler constructs a SubscriptionFrontHandler.
func NewSubscriptionFrontHandler(subs *billing.Service) *SubscriptionFrontHandler {
	return &SubscriptionFrontHandler{subs: subs}
}

// List returns all subscriptions for the authenticated account.
func (h *SubscriptionFrontHandler) List(c *gin.Context) {
	accountID := getAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	subs, errList := h.subs.List(c.Request.Context(), accountID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list subscriptions failed"})
		return
	}

	out := make([]gin.H, 0, len(subs))
	for i := range subs {
		out = append(out, h.formatSubscription(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// Get returns the subscription for one gateway.
func (h *SubscriptionFrontHandler) Get(c *gin.Context) {
	accountID := getAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, errCurrent := h.subs.Current(c.Request.Context(), accountID, c.Param("gateway"))
	if errCurrent != nil {
		if errors.Is(errCurrent, billing.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query subscription failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// CancelNow terminates the subscription immediately.
func (h *SubscriptionFrontHandler) CancelNow(c *gin.Context) {
	accountID := getAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, errCancel := h.subs.CancelNow(c.Request.Context(), accountID, c.Param("gateway"))
	if errCancel != nil {
		h.writeActionError(c, errCancel)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// CancelAtPeriodEnd flags the subscription to end with the current period.
func (h *SubscriptionFrontHandler) CancelAtPeriodEnd(c *gin.Context) {
	accountID := getAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, errFlag := h.subs.CancelAtPeriodEnd(c.Request.Context(), accountID, c.Param("gateway"))
	if errFlag != nil {
		h.writeActionError(c, errFlag)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// Resume clears a pending cancel-at-period-end flag.
func (h *SubscriptionFrontHandler) Resume(c *gin.Context) {
	accountID := getAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, errResume := h.subs.Resume(c.Request.Context(), accountID, c.Param("gateway"))
	if errResume != nil {
		h.writeActionError(c, errResume)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// writeActionError maps service errors to HTTP responses.
func (h *SubscriptionFrontHandler) writeActionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrNoSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
	case errors.Is(err, billing.ErrNotCancelable):
		c.JSON(http.StatusConflict, gin.H{"error": "subscription already ended"})
	case errors.Is(err, billing.ErrNotResumable):
		c.JSON(http.StatusConflict, gin.H{"error": "subscription cannot be resumed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription action failed"})
	}
}

// formatSubscription converts a subscription model to a response payload.
func (h *SubscriptionFrontHandler) formatSubscription(sub *models.Subscription) gin.H {
	return gin.H{
		"id":                    sub.ID,
		"gateway":               sub.Gateway,
		"plan_tier":             sub.PlanTier,
		"billing_cycle":         sub.BillingCycle,
		"status":                sub.Status,
		"current_period_start":  sub.CurrentPeriodStart,
		"current_period_end":    sub.CurrentPeriodEnd,
		"cancel_at_period_end":  sub.CancelAtPeriodEnd,
		"last_payment_amount":   sub.LastPaymentAmount,
		"last_payment_currency": sub.LastPaymentCurrency,
		"last_payment_at":       sub.LastPaymentAt,
		"canceled_at":           sub.CanceledAt,
		"created_at":            sub.CreatedAt,
		"updated_at":            sub.UpdatedAt,
	}
}
