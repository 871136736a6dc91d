package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	dbutil "github.com/docuflow/backend/internal/db"
	"github.com/docuflow/backend/internal/gateway"
	"github.com/docuflow/backend/internal/models"

	"gorm.io/gorm"
)

// stubAdapter implements gateway.Adapter for pipeline tests. Verify accepts
// the literal signature "ok" and Parse decodes the body as a PaymentEvent.
type stubAdapter struct {
	name        string
	parseEvent  *gateway.PaymentEvent
	parseErr    error
	canceledIDs []string
	cancelErr   error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) SignatureRequired() bool { return true }

func (a *stubAdapter) SignatureHeader() string { return "X-Test-Signature" }

func (a *stubAdapter) Verify(_ []byte, sig string) bool { return sig == "ok" }

func (a *stubAdapter) Parse(context.Context, []byte) (*gateway.PaymentEvent, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.parseEvent, nil
}

func (a *stubAdapter) CancelRemote(_ context.Context, externalTransactionID string) error {
	a.canceledIDs = append(a.canceledIDs, externalTransactionID)
	return a.cancelErr
}

func openBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := dbutil.Open("file::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createTestAccount(t *testing.T, conn *gorm.DB, email string) uint64 {
	t.Helper()
	account := models.Account{Email: email, IsEnabled: true}
	if errCreate := conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}
	return account.ID
}

func chargeEvent(accountID uint64, txnID string) *gateway.PaymentEvent {
	return &gateway.PaymentEvent{
		Gateway:               gateway.NameKashier,
		Kind:                  gateway.KindChargeSucceeded,
		ExternalTransactionID: txnID,
		AccountID:             accountID,
		PlanTier:              models.PlanTierPro,
		BillingCycle:          models.BillingCycleMonthly,
		Amount:                29900,
		Currency:              "EGP",
		OccurredAt:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestApplyChargeSucceeded_CreatesActiveSubscription(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "first@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("apply: %v", errApply)
	}

	sub, errCurrent := svc.Current(context.Background(), accountID, gateway.NameKashier)
	if errCurrent != nil {
		t.Fatalf("current: %v", errCurrent)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if sub.PlanTier != models.PlanTierPro || sub.BillingCycle != models.BillingCycleMonthly {
		t.Fatalf("unexpected plan: %s/%s", sub.PlanTier, sub.BillingCycle)
	}
	wantEnd := now.Add(30 * 24 * time.Hour)
	if !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %v, got %v", wantEnd, sub.CurrentPeriodEnd)
	}
	if sub.LastPaymentAmount != 29900 || sub.LastPaymentCurrency != "EGP" {
		t.Fatalf("unexpected payment trace: %d %s", sub.LastPaymentAmount, sub.LastPaymentCurrency)
	}
	if sub.ExternalTransactionID != "TXN-1" {
		t.Fatalf("expected TXN-1, got %s", sub.ExternalTransactionID)
	}
}

func TestApplyChargeSucceeded_SameTransactionIsNoOp(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "replay@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("first apply: %v", errApply)
	}
	first, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)

	// Replaying the same charge later must not extend the period.
	svc.now = func() time.Time { return now.Add(48 * time.Hour) }
	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("replay apply: %v", errApply)
	}

	second, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)
	if !second.CurrentPeriodEnd.Equal(first.CurrentPeriodEnd) {
		t.Fatalf("replay extended period: %v -> %v", first.CurrentPeriodEnd, second.CurrentPeriodEnd)
	}
}

func TestApplyChargeSucceeded_RenewalOverwritesInPlace(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "renew@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	firstNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return firstNow }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("first apply: %v", errApply)
	}

	// Flag pending cancellation; a renewal must clear it.
	if _, errFlag := svc.CancelAtPeriodEnd(context.Background(), accountID, gateway.NameKashier); errFlag != nil {
		t.Fatalf("flag cancel: %v", errFlag)
	}

	renewNow := firstNow.Add(29 * 24 * time.Hour)
	svc.now = func() time.Time { return renewNow }

	renewal := chargeEvent(accountID, "TXN-2")
	renewal.PlanTier = models.PlanTierTeam
	renewal.BillingCycle = models.BillingCycleYearly
	renewal.Amount = 299000
	if errApply := svc.Apply(context.Background(), renewal); errApply != nil {
		t.Fatalf("renewal apply: %v", errApply)
	}

	var count int64
	conn.Model(&models.Subscription{}).Where("account_id = ?", accountID).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single row per account and gateway, got %d", count)
	}

	sub, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)
	if sub.PlanTier != models.PlanTierTeam || sub.BillingCycle != models.BillingCycleYearly {
		t.Fatalf("plan change did not ride the renewal: %s/%s", sub.PlanTier, sub.BillingCycle)
	}
	wantEnd := renewNow.Add(365 * 24 * time.Hour)
	if !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %v, got %v", wantEnd, sub.CurrentPeriodEnd)
	}
	if sub.CancelAtPeriodEnd {
		t.Fatal("renewal should clear cancel_at_period_end")
	}
	if sub.ExternalTransactionID != "TXN-2" {
		t.Fatalf("expected TXN-2, got %s", sub.ExternalTransactionID)
	}
}

func TestApplyChargeSucceeded_ResetsTerminalRow(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "comeback@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	firstNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return firstNow }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("first apply: %v", errApply)
	}

	canceledAt := firstNow.Add(time.Hour)
	conn.Model(&models.Subscription{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{"status": models.SubscriptionStatusCanceled, "canceled_at": canceledAt})

	resumeNow := firstNow.Add(60 * 24 * time.Hour)
	svc.now = func() time.Time { return resumeNow }
	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-9")); errApply != nil {
		t.Fatalf("reset apply: %v", errApply)
	}

	sub, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active after fresh charge, got %s", sub.Status)
	}
	if sub.CanceledAt != nil {
		t.Fatal("fresh charge should clear canceled_at")
	}
	if !sub.CurrentPeriodEnd.Equal(resumeNow.Add(30 * 24 * time.Hour)) {
		t.Fatalf("period should restart from the new charge, got %v", sub.CurrentPeriodEnd)
	}
}

func TestApplyChargeFailed(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "pastdue@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("charge apply: %v", errApply)
	}
	before, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)

	failure := chargeEvent(accountID, "TXN-2")
	failure.Kind = gateway.KindChargeFailed
	if errApply := svc.Apply(context.Background(), failure); errApply != nil {
		t.Fatalf("failure apply: %v", errApply)
	}

	sub, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)
	if sub.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", sub.Status)
	}
	if !sub.CurrentPeriodEnd.Equal(before.CurrentPeriodEnd) {
		t.Fatal("charge failure must not change the period")
	}

	// A failed charge against a terminal row is a no-op.
	conn.Model(&models.Subscription{}).
		Where("account_id = ?", accountID).
		Update("status", models.SubscriptionStatusExpired)
	if errApply := svc.Apply(context.Background(), failure); errApply != nil {
		t.Fatalf("failure apply on terminal: %v", errApply)
	}
	sub, _ = svc.Current(context.Background(), accountID, gateway.NameKashier)
	if sub.Status != models.SubscriptionStatusExpired {
		t.Fatalf("terminal row mutated, got %s", sub.Status)
	}
}

func TestApplySubscriptionCanceled(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "cancelhook@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("charge apply: %v", errApply)
	}

	cancellation := chargeEvent(accountID, "TXN-CXL")
	cancellation.Kind = gateway.KindSubscriptionCanceled
	if errApply := svc.Apply(context.Background(), cancellation); errApply != nil {
		t.Fatalf("cancel apply: %v", errApply)
	}

	sub, _ := svc.Current(context.Background(), accountID, gateway.NameKashier)
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
	if sub.CanceledAt == nil {
		t.Fatal("expected canceled_at to be set")
	}
}

func TestCancelNow(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "cancelnow@docuflow.io")

	adapter := &stubAdapter{name: gateway.NameKashier}
	svc := NewService(conn, gateway.NewRegistry(adapter))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if _, err := svc.CancelNow(context.Background(), accountID, gateway.NameKashier); !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("charge apply: %v", errApply)
	}

	sub, errCancel := svc.CancelNow(context.Background(), accountID, gateway.NameKashier)
	if errCancel != nil {
		t.Fatalf("cancel now: %v", errCancel)
	}
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
	if len(adapter.canceledIDs) != 1 || adapter.canceledIDs[0] != "TXN-1" {
		t.Fatalf("expected remote cancel for TXN-1, got %v", adapter.canceledIDs)
	}

	if _, err := svc.CancelNow(context.Background(), accountID, gateway.NameKashier); !errors.Is(err, ErrNotCancelable) {
		t.Fatalf("expected ErrNotCancelable on terminal row, got %v", err)
	}
}

func TestCancelNow_RemoteFailureDoesNotBlock(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "remotefail@docuflow.io")

	adapter := &stubAdapter{name: gateway.NameKashier, cancelErr: errors.New("gateway unreachable")}
	svc := NewService(conn, gateway.NewRegistry(adapter))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("charge apply: %v", errApply)
	}

	sub, errCancel := svc.CancelNow(context.Background(), accountID, gateway.NameKashier)
	if errCancel != nil {
		t.Fatalf("cancel now should succeed locally: %v", errCancel)
	}
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
}

func TestCancelAtPeriodEndAndResume(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "flag@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("charge apply: %v", errApply)
	}

	sub, errFlag := svc.CancelAtPeriodEnd(context.Background(), accountID, gateway.NameKashier)
	if errFlag != nil {
		t.Fatalf("flag: %v", errFlag)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatal("expected cancel_at_period_end set")
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("flagging must not change status, got %s", sub.Status)
	}

	sub, errResume := svc.Resume(context.Background(), accountID, gateway.NameKashier)
	if errResume != nil {
		t.Fatalf("resume: %v", errResume)
	}
	if sub.CancelAtPeriodEnd {
		t.Fatal("expected cancel_at_period_end cleared")
	}

	// Resume after the period elapsed must fail.
	svc.now = func() time.Time { return now.Add(31 * 24 * time.Hour) }
	if _, err := svc.Resume(context.Background(), accountID, gateway.NameKashier); !errors.Is(err, ErrNotResumable) {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestCurrentPlan(t *testing.T) {
	conn := openBillingTestDB(t)
	accountID := createTestAccount(t, conn, "plan@docuflow.io")

	svc := NewService(conn, gateway.NewRegistry())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	tier, errPlan := svc.CurrentPlan(context.Background(), accountID)
	if errPlan != nil {
		t.Fatalf("current plan: %v", errPlan)
	}
	if tier != models.PlanTierFree {
		t.Fatalf("expected free without subscription, got %s", tier)
	}

	if errApply := svc.Apply(context.Background(), chargeEvent(accountID, "TXN-1")); errApply != nil {
		t.Fatalf("charge apply: %v", errApply)
	}

	tier, _ = svc.CurrentPlan(context.Background(), accountID)
	if tier != models.PlanTierPro {
		t.Fatalf("expected pro, got %s", tier)
	}

	// past_due keeps entitlements until the period lapses.
	failure := chargeEvent(accountID, "TXN-2")
	failure.Kind = gateway.KindChargeFailed
	if errApply := svc.Apply(context.Background(), failure); errApply != nil {
		t.Fatalf("failure apply: %v", errApply)
	}
	tier, _ = svc.CurrentPlan(context.Background(), accountID)
	if tier != models.PlanTierPro {
		t.Fatalf("expected pro while past_due in period, got %s", tier)
	}

	// Entitlements end with the period even before the sweeper runs.
	svc.now = func() time.Time { return now.Add(31 * 24 * time.Hour) }
	tier, _ = svc.CurrentPlan(context.Background(), accountID)
	if tier != models.PlanTierFree {
		t.Fatalf("expected free after period lapse, got %s", tier)
	}
}
