package models

import "time"

// PlanTier identifies a paid plan level.
type PlanTier string

// PlanTier constants define the available plan levels.
const (
	// PlanTierFree is the default tier for accounts without an active subscription.
	PlanTierFree PlanTier = "free"
	// PlanTierPro is the individual paid tier.
	PlanTierPro PlanTier = "pro"
	// PlanTierTeam is the multi-seat paid tier.
	PlanTierTeam PlanTier = "team"
	// PlanTierEnterprise is the unlimited-storage paid tier.
	PlanTierEnterprise PlanTier = "enterprise"
)

// BillingCycle represents the subscription billing period unit.
type BillingCycle string

// BillingCycle constants define billing periods.
const (
	// BillingCycleMonthly charges every 30 days.
	BillingCycleMonthly BillingCycle = "monthly"
	// BillingCycleYearly charges every 365 days.
	BillingCycleYearly BillingCycle = "yearly"
)

// PeriodLength returns the fixed entitlement window for the cycle.
// Periods are calendar-naive fixed durations: 30 days monthly, 365 days yearly.
func (c BillingCycle) PeriodLength() time.Duration {
	if c == BillingCycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

// SubscriptionStatus constants define subscription lifecycle states.
const (
	// SubscriptionStatusPending marks a subscription awaiting its first charge.
	SubscriptionStatusPending SubscriptionStatus = "pending"
	// SubscriptionStatusActive marks a subscription with a paid current period.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusPastDue marks a subscription whose last charge failed.
	SubscriptionStatusPastDue SubscriptionStatus = "past_due"
	// SubscriptionStatusCanceled marks an explicitly canceled subscription.
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	// SubscriptionStatusExpired marks a subscription whose period lapsed without renewal.
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// Terminal reports whether the status is an end state. Terminal rows are only
// touched again by a fresh successful charge, which fully resets them.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

// Subscription is the canonical paid entitlement for one (account, gateway)
// pair. Renewals overwrite the row in place; a new row is never created for
// the same pair.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64  `gorm:"not null;uniqueIndex:ux_subscriptions_account_gateway,priority:1"` // Owning account ID.
	Account   Account `gorm:"foreignKey:AccountID"`                                             // Related account record.

	Gateway string `gorm:"type:varchar(32);not null;uniqueIndex:ux_subscriptions_account_gateway,priority:2"` // Originating gateway name.

	PlanTier     PlanTier     `gorm:"type:varchar(32);not null"` // Paid plan tier.
	BillingCycle BillingCycle `gorm:"type:varchar(16);not null"` // Billing period unit.

	Status SubscriptionStatus `gorm:"type:varchar(16);not null;index"` // Current lifecycle state.

	CurrentPeriodStart time.Time `gorm:"not null"`               // Start of the paid period.
	CurrentPeriodEnd   time.Time `gorm:"not null;index"`         // End of the paid period.
	CancelAtPeriodEnd  bool      `gorm:"not null;default:false"` // Whether to cancel instead of expire at period end.

	ExternalTransactionID string     `gorm:"type:varchar(191);not null"` // Gateway transaction ID of the last applied charge.
	ExternalCustomerID    string     `gorm:"type:varchar(191)"`          // Gateway customer ID, when the gateway assigns one.
	LastPaymentAmount     int64      `gorm:"not null;default:0"`         // Last charge amount in minor currency units.
	LastPaymentCurrency   string     `gorm:"type:varchar(8)"`            // Last charge currency code.
	LastPaymentAt         *time.Time // Last charge timestamp.

	CanceledAt *time.Time // Set when the subscription is explicitly canceled.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
