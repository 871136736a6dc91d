// Package front registers the account-facing billing routes.
package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/billing"
	"github.com/docuflow/backend/internal/config"
	handlers "github.com/docuflow/backend/internal/http/api/front/handlers"
	"github.com/docuflow/backend/internal/models"
	"github.com/docuflow/backend/internal/plans"
	"github.com/docuflow/backend/internal/quota"
	"github.com/docuflow/backend/internal/security"
)

// RegisterFrontRoutes registers account routes, middleware, and handlers.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, subs *billing.Service, ledger *quota.Ledger, table *plans.Table) {
	if r == nil || db == nil {
		return
	}

	planHandler := handlers.NewPlanFrontHandler(table)
	r.GET("/v0/plans", planHandler.List)

	accountGroup := r.Group("/v0/account")
	accountGroup.Use(accountAuthMiddleware(db, jwtCfg))

	subscriptionHandler := handlers.NewSubscriptionFrontHandler(subs)
	accountGroup.GET("/subscriptions", subscriptionHandler.List)
	accountGroup.GET("/subscriptions/:gateway", subscriptionHandler.Get)
	accountGroup.POST("/subscriptions/:gateway/cancel", subscriptionHandler.CancelNow)
	accountGroup.POST("/subscriptions/:gateway/cancel-at-period-end", subscriptionHandler.CancelAtPeriodEnd)
	accountGroup.POST("/subscriptions/:gateway/resume", subscriptionHandler.Resume)

	quotaHandler := handlers.NewQuotaFrontHandler(ledger)
	accountGroup.GET("/quota", quotaHandler.Usage)
}

// accountAuthMiddleware validates account JWTs and loads account context.
func accountAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAccountToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var account models.Account
		if errFind := db.WithContext(c.Request.Context()).First(&account, claims.AccountID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
			return
		}
		if !account.IsEnabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set("accountID", account.ID)
		c.Set("accountEmail", account.Email)
		c.Next()
	}
}
