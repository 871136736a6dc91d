package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docuflow/backend/internal/config"
)

// PaymobAdapter handles Paymob transaction webhooks, signed with HMAC-SHA512
// over the raw body.
type PaymobAdapter struct {
	cfg      config.GatewayConfig
	resolver AccountResolver
	client   *http.Client
}

// NewPaymobAdapter constructs a PaymobAdapter.
func NewPaymobAdapter(cfg config.GatewayConfig, resolver AccountResolver) *PaymobAdapter {
	return &PaymobAdapter{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// Name returns the gateway name.
func (a *PaymobAdapter) Name() string { return NamePaymob }

// SignatureRequired reports that Paymob webhooks must be signed.
func (a *PaymobAdapter) SignatureRequired() bool { return true }

// SignatureHeader names the Paymob HMAC header.
func (a *PaymobAdapter) SignatureHeader() string { return "X-Paymob-Hmac" }

// Verify checks the HMAC-SHA512 signature over the raw body.
func (a *PaymobAdapter) Verify(rawBody []byte, signatureHeader string) bool {
	return VerifyHMACSHA512(rawBody, signatureHeader, a.cfg.Secret)
}

// paymobPayload maps the fields consumed from a Paymob transaction callback.
type paymobPayload struct {
	Type string `json:"type"`
	Obj  struct {
		ID          int64  `json:"id"`
		Success     bool   `json:"success"`
		IsRefunded  bool   `json:"is_refunded"`
		IsVoided    bool   `json:"is_voided"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
		CreatedAt   string `json:"created_at"`
		Order       struct {
			MerchantOrderID string `json:"merchant_order_id"`
		} `json:"order"`
		PaymentKeyClaims struct {
			BillingData struct {
				Email string `json:"email"`
			} `json:"billing_data"`
			Extra struct {
				PlanCode   string `json:"plan_code"`
				CustomerID string `json:"customer_id"`
			} `json:"extra"`
		} `json:"payment_key_claims"`
	} `json:"obj"`
}

// Parse translates a Paymob transaction callback into a canonical event.
// Refunded or voided transactions cancel the subscription; otherwise the
// success flag decides between charge kinds.
func (a *PaymobAdapter) Parse(ctx context.Context, rawBody []byte) (*PaymentEvent, error) {
	var payload paymobPayload
	if errUnmarshal := json.Unmarshal(rawBody, &payload); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, errUnmarshal)
	}
	if !strings.EqualFold(payload.Type, "TRANSACTION") {
		return nil, fmt.Errorf("%w: unhandled callback type %q", ErrMalformedPayload, payload.Type)
	}
	if payload.Obj.ID == 0 {
		return nil, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	kind := KindChargeFailed
	switch {
	case payload.Obj.IsRefunded || payload.Obj.IsVoided:
		kind = KindSubscriptionCanceled
	case payload.Obj.Success:
		kind = KindChargeSucceeded
	}

	customerID := strings.TrimSpace(payload.Obj.PaymentKeyClaims.Extra.CustomerID)
	email := payload.Obj.PaymentKeyClaims.BillingData.Email
	accountID, errResolve := resolveAccount(ctx, a.resolver, NamePaymob, email, customerID)
	if errResolve != nil {
		return nil, errResolve
	}

	occurredAt := time.Now().UTC()
	if ts, errParse := time.Parse(time.RFC3339, payload.Obj.CreatedAt); errParse == nil {
		occurredAt = ts.UTC()
	}

	out := &PaymentEvent{
		Gateway:               NamePaymob,
		Kind:                  kind,
		ExternalTransactionID: strconv.FormatInt(payload.Obj.ID, 10),
		ExternalCustomerID:    customerID,
		AccountID:             accountID,
		Amount:                payload.Obj.AmountCents,
		Currency:              strings.ToUpper(payload.Obj.Currency),
		OccurredAt:            occurredAt,
	}

	if kind != KindSubscriptionCanceled {
		planCode := payload.Obj.PaymentKeyClaims.Extra.PlanCode
		if planCode == "" {
			planCode = payload.Obj.Order.MerchantOrderID
		}
		tier, cycle, errPlan := ParsePlanCode(planCode)
		if errPlan != nil {
			return nil, errPlan
		}
		out.PlanTier = tier
		out.BillingCycle = cycle
	}

	return out, nil
}

// CancelRemote voids or refunds the Paymob transaction so recurring billing
// stops at the provider.
func (a *PaymobAdapter) CancelRemote(ctx context.Context, externalTransactionID string) error {
	endpoint := strings.TrimRight(a.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://accept.paymob.com/api"
	}
	body, errMarshal := json.Marshal(map[string]string{"transaction_id": externalTransactionID})
	if errMarshal != nil {
		return fmt.Errorf("gateway: marshal cancel body: %w", errMarshal)
	}
	return doCancelRequest(ctx, a.client, http.MethodPost, endpoint+"/acceptance/void_refund/void", map[string]string{
		"Authorization": "Token " + a.cfg.APIKey,
		"Content-Type":  "application/json",
	}, bytes.NewReader(body))
}
