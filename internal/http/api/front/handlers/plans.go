package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docuflow/backend/internal/plans"
)

// PlanFrontHandler serves the public plan catalog.
type PlanFrontHandler struct {
	table *plans.Table
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(table *plans.Table) *PlanFrontHandler {
	return &PlanFrontHandler{table: table}
}

// List returns every plan tier with its effective limits.
func (h *PlanFrontHandler) List(c *gin.Context) {
	tiers := h.table.Tiers()
	out := make([]gin.H, 0, len(tiers))
	for _, tier := range tiers {
		limits := h.table.Get(tier)
		out = append(out, gin.H{
			"tier":                 tier,
			"storage_limit_bytes":  limits.StorageLimitBytes,
			"max_file_size_bytes":  limits.MaxFileSizeBytes,
			"monthly_conversions":  limits.MonthlyConversions,
			"api_requests_per_day": limits.APIRequestsPerDay,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}
