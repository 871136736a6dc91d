package front

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/billing"
	"github.com/docuflow/backend/internal/config"
	dbutil "github.com/docuflow/backend/internal/db"
	"github.com/docuflow/backend/internal/gateway"
	"github.com/docuflow/backend/internal/models"
	"github.com/docuflow/backend/internal/plans"
	"github.com/docuflow/backend/internal/quota"
	"github.com/docuflow/backend/internal/security"
)

var testJWTConfig = config.JWTConfig{Secret: "front-test-secret", Expiry: time.Hour}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *billing.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := dbutil.Open("file::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	table := plans.Load(nil)
	subs := billing.NewService(conn, gateway.NewRegistry())
	ledger := quota.NewLedger(conn, table, subs, nil)

	r := gin.New()
	RegisterFrontRoutes(r, conn, testJWTConfig, subs, ledger, table)
	return r, conn, subs
}

func createAccountWithToken(t *testing.T, conn *gorm.DB, email string) (uint64, string) {
	t.Helper()
	account := models.Account{Email: email, IsEnabled: true}
	if errCreate := conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}
	token, errSign := security.SignAccountToken(testJWTConfig, account.ID, email)
	if errSign != nil {
		t.Fatalf("sign token: %v", errSign)
	}
	return account.ID, token
}

func seedSubscription(t *testing.T, subs *billing.Service, accountID uint64) {
	t.Helper()
	if errApply := subs.Apply(context.Background(), &gateway.PaymentEvent{
		Gateway:               gateway.NameStripe,
		Kind:                  gateway.KindChargeSucceeded,
		ExternalTransactionID: "in_1",
		AccountID:             accountID,
		PlanTier:              models.PlanTierPro,
		BillingCycle:          models.BillingCycleMonthly,
		Amount:                1500,
		Currency:              "USD",
		OccurredAt:            time.Now().UTC(),
	}); errApply != nil {
		t.Fatalf("apply: %v", errApply)
	}
}

func doRequest(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListSubscriptions(t *testing.T) {
	r, conn, subs := newTestRouter(t)
	accountID, token := createAccountWithToken(t, conn, "list@docuflow.io")
	seedSubscription(t, subs, accountID)

	w := doRequest(r, http.MethodGet, "/v0/account/subscriptions", token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Subscriptions []struct {
			Gateway  string `json:"gateway"`
			PlanTier string `json:"plan_tier"`
			Status   string `json:"status"`
		} `json:"subscriptions"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(resp.Subscriptions) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(resp.Subscriptions))
	}
	if resp.Subscriptions[0].PlanTier != "pro" || resp.Subscriptions[0].Status != "active" {
		t.Fatalf("unexpected subscription: %+v", resp.Subscriptions[0])
	}
}

func TestSubscriptionActions(t *testing.T) {
	r, conn, subs := newTestRouter(t)
	accountID, token := createAccountWithToken(t, conn, "actions@docuflow.io")
	seedSubscription(t, subs, accountID)

	w := doRequest(r, http.MethodPost, "/v0/account/subscriptions/stripe/cancel-at-period-end", token)
	if w.Code != http.StatusOK {
		t.Fatalf("flag: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodPost, "/v0/account/subscriptions/stripe/resume", token)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodPost, "/v0/account/subscriptions/stripe/cancel", token)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Actions against a terminal subscription conflict.
	w = doRequest(r, http.MethodPost, "/v0/account/subscriptions/stripe/cancel", token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on terminal row, got %d", w.Code)
	}

	// Unknown gateway path yields 404.
	w = doRequest(r, http.MethodPost, "/v0/account/subscriptions/paymob/cancel", token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing subscription, got %d", w.Code)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	r, conn, _ := newTestRouter(t)
	_, token := createAccountWithToken(t, conn, "quota@docuflow.io")

	w := doRequest(r, http.MethodGet, "/v0/account/quota", token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		PlanTier   string `json:"plan_tier"`
		UsedBytes  int64  `json:"used_bytes"`
		LimitBytes int64  `json:"limit_bytes"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.PlanTier != "free" {
		t.Fatalf("expected free tier, got %s", resp.PlanTier)
	}
	if resp.UsedBytes != 0 {
		t.Fatalf("expected zero usage, got %d", resp.UsedBytes)
	}
}

func TestPlansEndpointIsPublic(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/v0/plans", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Plans []struct {
			Tier string `json:"tier"`
		} `json:"plans"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(resp.Plans) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(resp.Plans))
	}
}

func TestAuthRequired(t *testing.T) {
	r, conn, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/v0/account/subscriptions", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = doRequest(r, http.MethodGet, "/v0/account/subscriptions", "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}

	// Disabled accounts are rejected even with a valid token.
	accountID, token := createAccountWithToken(t, conn, "disabled@docuflow.io")
	conn.Model(&models.Account{}).Where("id = ?", accountID).Update("is_enabled", false)
	w = doRequest(r, http.MethodGet, "/v0/account/subscriptions", token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled account, got %d", w.Code)
	}
}
