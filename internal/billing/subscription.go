package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/gateway"
	"github.com/docuflow/backend/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoSubscription indicates no subscription exists for the account and gateway.
var ErrNoSubscription = errors.New("billing: no subscription")

// ErrNotCancelable indicates the subscription is already in a terminal state.
var ErrNotCancelable = errors.New("billing: subscription cannot be canceled")

// ErrNotResumable indicates the subscription cannot be resumed, either because
// it is terminal or because its period has already elapsed.
var ErrNotResumable = errors.New("billing: subscription cannot be resumed")

// nonTerminalStatuses are the states a webhook or account action may still mutate.
var nonTerminalStatuses = []models.SubscriptionStatus{
	models.SubscriptionStatusPending,
	models.SubscriptionStatusActive,
	models.SubscriptionStatusPastDue,
}

// entitledStatuses are the states that grant plan entitlements.
var entitledStatuses = []models.SubscriptionStatus{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusPastDue,
}

// Service owns the canonical subscription state machine. All writes use
// guarded conditional updates so concurrent webhooks for the same subscription
// cannot silently overwrite each other's transition.
type Service struct {
	db       *gorm.DB
	registry *gateway.Registry

	now func() time.Time
}

// NewService constructs a Service.
func NewService(db *gorm.DB, registry *gateway.Registry) *Service {
	return &Service{
		db:       db,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply applies a canonical payment event to the owning subscription inside
// its own transaction. Re-applying an event with an already-recorded
// transaction ID is a no-op.
func (s *Service) Apply(ctx context.Context, ev *gateway.PaymentEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(ctx, tx, ev)
	})
}

// apply runs the state transition on an existing transaction so callers can
// atomically combine it with the idempotency ledger write.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, ev *gateway.PaymentEvent) error {
	if ev == nil || ev.AccountID == 0 {
		return fmt.Errorf("billing: invalid payment event")
	}

	switch ev.Kind {
	case gateway.KindChargeSucceeded:
		return s.applyChargeSucceeded(ctx, tx, ev)
	case gateway.KindChargeFailed:
		return s.applyChargeFailed(ctx, tx, ev)
	case gateway.KindSubscriptionCanceled:
		return s.applySubscriptionCanceled(ctx, tx, ev)
	default:
		return fmt.Errorf("billing: unknown event kind %q", ev.Kind)
	}
}

// applyChargeSucceeded creates the subscription on first charge, fully resets
// terminal rows, and renews in place otherwise. The period is always now plus
// the cycle length; renewals do not stack on the previous period end.
func (s *Service) applyChargeSucceeded(ctx context.Context, tx *gorm.DB, ev *gateway.PaymentEvent) error {
	now := s.now()
	paidAt := ev.OccurredAt
	if paidAt.IsZero() {
		paidAt = now
	}

	var sub models.Subscription
	errFind := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND gateway = ?", ev.AccountID, ev.Gateway).
		First(&sub).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("billing: load subscription: %w", errFind)
		}
		sub = models.Subscription{
			AccountID:             ev.AccountID,
			Gateway:               ev.Gateway,
			PlanTier:              ev.PlanTier,
			BillingCycle:          ev.BillingCycle,
			Status:                models.SubscriptionStatusActive,
			CurrentPeriodStart:    now,
			CurrentPeriodEnd:      now.Add(ev.BillingCycle.PeriodLength()),
			ExternalTransactionID: ev.ExternalTransactionID,
			ExternalCustomerID:    ev.ExternalCustomerID,
			LastPaymentAmount:     ev.Amount,
			LastPaymentCurrency:   ev.Currency,
			LastPaymentAt:         &paidAt,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if errCreate := tx.WithContext(ctx).Create(&sub).Error; errCreate != nil {
			return fmt.Errorf("billing: create subscription: %w", errCreate)
		}
		return nil
	}

	// Idempotent re-apply of the same charge.
	if sub.ExternalTransactionID == ev.ExternalTransactionID {
		return nil
	}

	updates := map[string]any{
		"plan_tier":               ev.PlanTier,
		"billing_cycle":           ev.BillingCycle,
		"status":                  models.SubscriptionStatusActive,
		"current_period_start":    now,
		"current_period_end":      now.Add(ev.BillingCycle.PeriodLength()),
		"cancel_at_period_end":    false,
		"external_transaction_id": ev.ExternalTransactionID,
		"last_payment_amount":     ev.Amount,
		"last_payment_currency":   ev.Currency,
		"last_payment_at":         paidAt,
		"canceled_at":             nil,
		"updated_at":              now,
	}
	if ev.ExternalCustomerID != "" {
		updates["external_customer_id"] = ev.ExternalCustomerID
	}

	// The transaction-id guard keeps a concurrent apply from being clobbered.
	res := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND external_transaction_id = ?", sub.ID, sub.ExternalTransactionID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("billing: renew subscription: %w", res.Error)
	}
	return nil
}

// applyChargeFailed moves a live subscription to past_due. The period is left
// untouched; entitlements last until period end and the sweeper settles the
// outcome. Terminal rows are never mutated.
func (s *Service) applyChargeFailed(ctx context.Context, tx *gorm.DB, ev *gateway.PaymentEvent) error {
	res := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("account_id = ? AND gateway = ? AND status IN ?", ev.AccountID, ev.Gateway, nonTerminalStatuses).
		Updates(map[string]any{
			"status":     models.SubscriptionStatusPastDue,
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("billing: mark past due: %w", res.Error)
	}
	return nil
}

// applySubscriptionCanceled terminates a live subscription immediately.
func (s *Service) applySubscriptionCanceled(ctx context.Context, tx *gorm.DB, ev *gateway.PaymentEvent) error {
	now := s.now()
	res := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("account_id = ? AND gateway = ? AND status IN ?", ev.AccountID, ev.Gateway, nonTerminalStatuses).
		Updates(map[string]any{
			"status":      models.SubscriptionStatusCanceled,
			"canceled_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("billing: cancel subscription: %w", res.Error)
	}
	return nil
}

// CancelNow terminates the subscription locally and then makes a best-effort,
// time-bounded attempt to stop billing at the provider. A remote failure never
// rolls back the local transition; it is logged for out-of-band reconciliation.
func (s *Service) CancelNow(ctx context.Context, accountID uint64, gatewayName string) (*models.Subscription, error) {
	sub, errLoad := s.Current(ctx, accountID, gatewayName)
	if errLoad != nil {
		return nil, errLoad
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", sub.ID, nonTerminalStatuses).
		Updates(map[string]any{
			"status":      models.SubscriptionStatusCanceled,
			"canceled_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("billing: cancel subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotCancelable
	}

	if adapter, ok := s.registry.Lookup(gatewayName); ok && sub.ExternalTransactionID != "" {
		if errRemote := adapter.CancelRemote(ctx, sub.ExternalTransactionID); errRemote != nil {
			log.WithError(errRemote).WithFields(log.Fields{
				"gateway":    gatewayName,
				"account_id": accountID,
			}).Warn("remote cancellation failed, pending out-of-band reconciliation")
		}
	}

	return s.Current(ctx, accountID, gatewayName)
}

// CancelAtPeriodEnd flags the subscription for cancellation when its period
// elapses, without changing its status.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, accountID uint64, gatewayName string) (*models.Subscription, error) {
	sub, errLoad := s.Current(ctx, accountID, gatewayName)
	if errLoad != nil {
		return nil, errLoad
	}

	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", sub.ID, entitledStatuses).
		Updates(map[string]any{
			"cancel_at_period_end": true,
			"updated_at":           s.now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("billing: flag cancel at period end: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotCancelable
	}
	return s.Current(ctx, accountID, gatewayName)
}

// Resume clears the cancel-at-period-end flag while the subscription is still
// live and its period has not elapsed; it fails otherwise.
func (s *Service) Resume(ctx context.Context, accountID uint64, gatewayName string) (*models.Subscription, error) {
	sub, errLoad := s.Current(ctx, accountID, gatewayName)
	if errLoad != nil {
		return nil, errLoad
	}

	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status IN ? AND current_period_end > ?", sub.ID, entitledStatuses, s.now()).
		Updates(map[string]any{
			"cancel_at_period_end": false,
			"updated_at":           s.now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("billing: resume subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotResumable
	}
	return s.Current(ctx, accountID, gatewayName)
}

// Current returns the subscription for an (account, gateway) pair.
func (s *Service) Current(ctx context.Context, accountID uint64, gatewayName string) (*models.Subscription, error) {
	var sub models.Subscription
	errFind := s.db.WithContext(ctx).
		Where("account_id = ? AND gateway = ?", accountID, gatewayName).
		First(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, fmt.Errorf("billing: load subscription: %w", errFind)
	}
	return &sub, nil
}

// List returns all subscriptions for an account across gateways.
func (s *Service) List(ctx context.Context, accountID uint64) ([]models.Subscription, error) {
	var subs []models.Subscription
	if errFind := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("gateway ASC").
		Find(&subs).Error; errFind != nil {
		return nil, fmt.Errorf("billing: list subscriptions: %w", errFind)
	}
	return subs, nil
}

// CurrentPlan resolves the account's entitled plan tier: the tier of an
// active or past_due subscription whose period has not elapsed, or the free
// tier otherwise.
func (s *Service) CurrentPlan(ctx context.Context, accountID uint64) (models.PlanTier, error) {
	var sub models.Subscription
	errFind := s.db.WithContext(ctx).
		Where("account_id = ? AND status IN ? AND current_period_end > ?", accountID, entitledStatuses, s.now()).
		Order("current_period_end DESC").
		First(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.PlanTierFree, nil
		}
		return "", fmt.Errorf("billing: resolve current plan: %w", errFind)
	}
	return sub.PlanTier, nil
}
