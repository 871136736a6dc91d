// Package internalapi exposes service-to-service endpoints used by the
// storage collaborator. They are guarded by a shared service token, not
// account JWTs.
package internalapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/quota"
)

// ServiceTokenHeader carries the shared secret on internal requests.
const ServiceTokenHeader = "X-Service-Token"

// RegisterInternalRoutes registers internal routes and handlers. Routes are
// not registered when no service token is configured.
func RegisterInternalRoutes(r *gin.Engine, db *gorm.DB, ledger *quota.Ledger, serviceToken string) {
	if r == nil || db == nil || serviceToken == "" {
		return
	}

	internalGroup := r.Group("/v0/internal")
	internalGroup.Use(serviceTokenMiddleware(serviceToken))

	quotaHandler := NewQuotaInternalHandler(ledger)
	internalGroup.POST("/quota/adjust", quotaHandler.Adjust)
	internalGroup.GET("/quota/:account_id", quotaHandler.Usage)
}

// serviceTokenMiddleware rejects requests without the expected shared token.
func serviceTokenMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(ServiceTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid service token"})
			return
		}
		c.Next()
	}
}

// QuotaInternalHandler handles quota endpoints for internal services.
type QuotaInternalHandler struct {
	ledger *quota.Ledger
}

// NewQuotaInternalHandler constructs a QuotaInternalHandler.
func NewQuotaInternalHandler(ledger *quota.Ledger) *QuotaInternalHandler {
	return &QuotaInternalHandler{ledger: ledger}
}

// adjustQuotaRequest defines the request body for usage adjustments.
type adjustQuotaRequest struct {
	AccountID  uint64 `json:"account_id"`
	DeltaBytes int64  `json:"delta_bytes"`
}

// Adjust applies a signed byte delta to an account's usage counter.
func (h *QuotaInternalHandler) Adjust(c *gin.Context) {
	var body adjustQuotaRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.AccountID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}

	usedBytes, errAdjust := h.ledger.Adjust(c.Request.Context(), body.AccountID, body.DeltaBytes)
	if errAdjust != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "adjust quota failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": body.AccountID,
		"used_bytes": usedBytes,
	})
}

// Usage returns an account's consumption and effective limit.
func (h *QuotaInternalHandler) Usage(c *gin.Context) {
	var params struct {
		AccountID uint64 `uri:"account_id" binding:"required"`
	}
	if errBind := c.ShouldBindUri(&params); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	usage, errUsage := h.ledger.Usage(c.Request.Context(), params.AccountID)
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
	})
}
