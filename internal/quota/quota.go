// Package quota tracks per-account storage consumption and resolves effective
// limits from the account's current plan. Usage is a durable counter adjusted
// by the storage service as files are written and deleted; limits are never
// stored, they are derived at read time so plan changes take effect
// immediately.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/docuflow/backend/internal/billing"
	"github.com/docuflow/backend/internal/cache"
	"github.com/docuflow/backend/internal/models"
	"github.com/docuflow/backend/internal/plans"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Usage reports an account's storage consumption against its plan limit.
type Usage struct {
	AccountID      uint64          `json:"accountId"`
	PlanTier       models.PlanTier `json:"planTier"`
	UsedBytes      int64           `json:"usedBytes"`
	LimitBytes     int64           `json:"limitBytes"`     // plans.Unlimited when the tier has no cap
	RemainingBytes int64           `json:"remainingBytes"` // plans.Unlimited when the tier has no cap
	UsedPercent    float64         `json:"usedPercent"`    // 0 for unlimited tiers
}

// Ledger owns the storage quota counters.
type Ledger struct {
	db    *gorm.DB
	plans *plans.Table
	subs  *billing.Service
	cache *cache.Cache
}

// NewLedger constructs a Ledger. The cache may be nil.
func NewLedger(db *gorm.DB, table *plans.Table, subs *billing.Service, c *cache.Cache) *Ledger {
	return &Ledger{db: db, plans: table, subs: subs, cache: c}
}

// Adjust applies a signed byte delta to the account's usage counter and
// returns the new value. The counter is clamped at zero, so duplicate delete
// notifications cannot drive it negative. The row is created on first use.
func (l *Ledger) Adjust(ctx context.Context, accountID uint64, deltaBytes int64) (int64, error) {
	var next int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).Create(&models.StorageQuota{AccountID: accountID})
		if res.Error != nil {
			return fmt.Errorf("quota: ensure row: %w", res.Error)
		}

		var row models.StorageQuota
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&row).Error; errFind != nil {
			return fmt.Errorf("quota: load row: %w", errFind)
		}

		next = row.UsedBytes + deltaBytes
		if next < 0 {
			next = 0
		}
		if errUpdate := tx.Model(&models.StorageQuota{}).
			Where("id = ?", row.ID).
			Update("used_bytes", next).Error; errUpdate != nil {
			return fmt.Errorf("quota: update row: %w", errUpdate)
		}
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}

	if errInvalidate := l.cache.Delete(ctx, cache.KeyQuotaUsage+fmt.Sprint(accountID)); errInvalidate != nil {
		log.WithError(errInvalidate).WithField("account_id", accountID).Warn("failed to invalidate quota cache")
	}
	return next, nil
}

// Usage resolves the account's consumption and its effective limit from the
// current plan.
func (l *Ledger) Usage(ctx context.Context, accountID uint64) (*Usage, error) {
	cacheKey := cache.KeyQuotaUsage + fmt.Sprint(accountID)

	var cached Usage
	if errGet := l.cache.Get(ctx, cacheKey, &cached); errGet == nil {
		return &cached, nil
	} else if !errors.Is(errGet, cache.ErrMiss) {
		log.WithError(errGet).WithField("account_id", accountID).Warn("quota cache read failed")
	}

	tier, errPlan := l.subs.CurrentPlan(ctx, accountID)
	if errPlan != nil {
		return nil, errPlan
	}
	limits := l.plans.Get(tier)

	var row models.StorageQuota
	usedBytes := int64(0)
	errFind := l.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if errFind == nil {
		usedBytes = row.UsedBytes
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("quota: load row: %w", errFind)
	}

	usage := &Usage{
		AccountID:      accountID,
		PlanTier:       tier,
		UsedBytes:      usedBytes,
		LimitBytes:     limits.StorageLimitBytes,
		RemainingBytes: plans.Unlimited,
	}
	if limits.StorageLimitBytes != plans.Unlimited {
		usage.RemainingBytes = limits.StorageLimitBytes - usedBytes
		if usage.RemainingBytes < 0 {
			usage.RemainingBytes = 0
		}
		if limits.StorageLimitBytes > 0 {
			usage.UsedPercent = float64(usedBytes) / float64(limits.StorageLimitBytes) * 100
		}
	}

	if errSet := l.cache.Set(ctx, cacheKey, usage, cache.TTLQuotaUsage); errSet != nil {
		log.WithError(errSet).WithField("account_id", accountID).Warn("quota cache write failed")
	}
	return usage, nil
}

// Allows reports whether the account can store additionalBytes more without
// exceeding its plan limit.
func (l *Ledger) Allows(ctx context.Context, accountID uint64, additionalBytes int64) (bool, error) {
	usage, errUsage := l.Usage(ctx, accountID)
	if errUsage != nil {
		return false, errUsage
	}
	if usage.LimitBytes == plans.Unlimited {
		return true, nil
	}
	return usage.UsedBytes+additionalBytes <= usage.LimitBytes, nil
}

// InvalidateAccount drops cached plan-derived lookups for an account. It is
// called by the webhook pipeline after a subscription state change.
func (l *Ledger) InvalidateAccount(ctx context.Context, accountID uint64) error {
	return l.cache.Delete(ctx,
		cache.KeyQuotaUsage+fmt.Sprint(accountID),
		cache.KeyPlanTier+fmt.Sprint(accountID),
	)
}
