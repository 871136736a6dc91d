package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docuflow/backend/internal/quota"
)

// QuotaFrontHandler serves storage usage for accounts.
type QuotaFrontHandler struct {
	ledger *quota.Ledger
}

// NewQuotaFrontHandler constructs a QuotaFrontHandler.
func NewQuotaFrontHandler(ledger *quota.Ledger) *QuotaFrontHandler {
	return &QuotaFrontHandler{ledger: ledger}
}

// Usage returns the authenticated account's storage consumption and limit.
func (h *QuotaFrontHandler) Usage(c *gin.Context) {
	accountID := getAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	usage, errUsage := h.ledger.Usage(c.Request.Context(), accountID)
	if errUsage != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query quota failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id":      usage.AccountID,
		"plan_tier":       usage.PlanTier,
		"used_bytes":      usage.UsedBytes,
		"limit_bytes":     usage.LimitBytes,
		"remaining_bytes": usage.RemainingBytes,
		"used_percent":    usage.UsedPercent,
	})
}
