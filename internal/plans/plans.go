package plans

import (
	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/models"
)

// Unlimited is the sentinel limit value for tiers without a cap.
const Unlimited int64 = -1

// Limits describes the entitlements of one plan tier. Values are read-only
// after Load.
type Limits struct {
	StorageLimitBytes  int64 // Total storage cap in bytes, Unlimited for no cap.
	MaxFileSizeBytes   int64 // Largest accepted single upload.
	MonthlyConversions int64 // Document conversions per billing period.
	APIRequestsPerDay  int64 // API request quota per day.
}

// Table maps plan tiers to their limits. Built once at process start and
// never mutated afterwards.
type Table struct {
	limits map[models.PlanTier]Limits
}

const (
	gib = int64(1) << 30
	mib = int64(1) << 20
)

// defaults returns the built-in plan table.
func defaults() map[models.PlanTier]Limits {
	return map[models.PlanTier]Limits{
		models.PlanTierFree: {
			StorageLimitBytes:  1 * gib,
			MaxFileSizeBytes:   25 * mib,
			MonthlyConversions: 30,
			APIRequestsPerDay:  100,
		},
		models.PlanTierPro: {
			StorageLimitBytes:  50 * gib,
			MaxFileSizeBytes:   200 * mib,
			MonthlyConversions: 1000,
			APIRequestsPerDay:  5000,
		},
		models.PlanTierTeam: {
			StorageLimitBytes:  500 * gib,
			MaxFileSizeBytes:   500 * mib,
			MonthlyConversions: 10000,
			APIRequestsPerDay:  50000,
		},
		models.PlanTierEnterprise: {
			StorageLimitBytes:  Unlimited,
			MaxFileSizeBytes:   2 * gib,
			MonthlyConversions: Unlimited,
			APIRequestsPerDay:  Unlimited,
		},
	}
}

// Load builds the plan table from defaults merged with config overrides.
// Unknown tier names in the overrides are ignored.
func Load(overrides map[string]config.PlanOverride) *Table {
	limits := defaults()
	for name, ov := range overrides {
		tier := models.PlanTier(name)
		base, ok := limits[tier]
		if !ok {
			continue
		}
		if ov.StorageLimitBytes != nil {
			base.StorageLimitBytes = *ov.StorageLimitBytes
		}
		if ov.MaxFileSizeBytes != nil {
			base.MaxFileSizeBytes = *ov.MaxFileSizeBytes
		}
		if ov.MonthlyConversions != nil {
			base.MonthlyConversions = *ov.MonthlyConversions
		}
		if ov.APIRequestsPerDay != nil {
			base.APIRequestsPerDay = *ov.APIRequestsPerDay
		}
		limits[tier] = base
	}
	return &Table{limits: limits}
}

// Get returns the limits for a tier, falling back to the free tier for
// unknown values.
func (t *Table) Get(tier models.PlanTier) Limits {
	if l, ok := t.limits[tier]; ok {
		return l
	}
	return t.limits[models.PlanTierFree]
}

// Tiers returns the known tiers in entitlement order.
func (t *Table) Tiers() []models.PlanTier {
	return []models.PlanTier{
		models.PlanTierFree,
		models.PlanTierPro,
		models.PlanTierTeam,
		models.PlanTierEnterprise,
	}
}
