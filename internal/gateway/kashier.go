package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docuflow/backend/internal/config"
)

// KashierAdapter handles Kashier payment webhooks, signed with HMAC-SHA256
// over the raw body.
type KashierAdapter struct {
	cfg      config.GatewayConfig
	resolver AccountResolver
	client   *http.Client
}

// NewKashierAdapter constructs a KashierAdapter.
func NewKashierAdapter(cfg config.GatewayConfig, resolver AccountResolver) *KashierAdapter {
	return &KashierAdapter{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// Name returns the gateway name.
func (a *KashierAdapter) Name() string { return NameKashier }

// SignatureRequired reports that Kashier webhooks must be signed.
func (a *KashierAdapter) SignatureRequired() bool { return true }

// SignatureHeader names the Kashier signature header.
func (a *KashierAdapter) SignatureHeader() string { return "X-Kashier-Signature" }

// Verify checks the HMAC-SHA256 signature over the raw body.
func (a *KashierAdapter) Verify(rawBody []byte, signatureHeader string) bool {
	return VerifyHMACSHA256(rawBody, signatureHeader, a.cfg.Secret)
}

// kashierPayload maps the fields consumed from a Kashier webhook.
type kashierPayload struct {
	Event string `json:"event"`
	Data  struct {
		TransactionID     string `json:"transactionId"`
		MerchantOrderID   string `json:"merchantOrderId"`
		Status            string `json:"status"`
		Amount            string `json:"amount"`
		Currency          string `json:"currency"`
		CustomerEmail     string `json:"customerEmail"`
		CustomerReference string `json:"customerReference"`
		CreationDate      string `json:"creationDate"`
	} `json:"data"`
}

// Parse translates a Kashier webhook into a canonical event. The provider
// status vocabulary maps SUCCESS to a successful charge, FAILED and DECLINED
// to a failed charge, and CANCELLED or PAUSED to a cancellation.
func (a *KashierAdapter) Parse(ctx context.Context, rawBody []byte) (*PaymentEvent, error) {
	var payload kashierPayload
	if errUnmarshal := json.Unmarshal(rawBody, &payload); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, errUnmarshal)
	}
	if strings.TrimSpace(payload.Data.TransactionID) == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	var kind Kind
	switch strings.ToUpper(strings.TrimSpace(payload.Data.Status)) {
	case "SUCCESS":
		kind = KindChargeSucceeded
	case "FAILED", "DECLINED":
		kind = KindChargeFailed
	case "CANCELLED", "PAUSED":
		kind = KindSubscriptionCanceled
	default:
		return nil, fmt.Errorf("%w: unhandled status %q", ErrMalformedPayload, payload.Data.Status)
	}

	customerID := strings.TrimSpace(payload.Data.CustomerReference)
	accountID, errResolve := resolveAccount(ctx, a.resolver, NameKashier, payload.Data.CustomerEmail, customerID)
	if errResolve != nil {
		return nil, errResolve
	}

	amount := int64(0)
	if strings.TrimSpace(payload.Data.Amount) != "" {
		parsed, errAmount := parseAmountMinor(payload.Data.Amount)
		if errAmount != nil {
			return nil, errAmount
		}
		amount = parsed
	}

	occurredAt := time.Now().UTC()
	if ts, errParse := time.Parse(time.RFC3339, payload.Data.CreationDate); errParse == nil {
		occurredAt = ts.UTC()
	}

	out := &PaymentEvent{
		Gateway:               NameKashier,
		Kind:                  kind,
		ExternalTransactionID: strings.TrimSpace(payload.Data.TransactionID),
		ExternalCustomerID:    customerID,
		AccountID:             accountID,
		Amount:                amount,
		Currency:              strings.ToUpper(payload.Data.Currency),
		OccurredAt:            occurredAt,
	}

	if kind != KindSubscriptionCanceled {
		tier, cycle, errPlan := ParsePlanCode(payload.Data.MerchantOrderID)
		if errPlan != nil {
			return nil, errPlan
		}
		out.PlanTier = tier
		out.BillingCycle = cycle
	}

	return out, nil
}

// CancelRemote stops the Kashier recurring payment for the transaction.
func (a *KashierAdapter) CancelRemote(ctx context.Context, externalTransactionID string) error {
	endpoint := strings.TrimRight(a.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.kashier.io"
	}
	body, errMarshal := json.Marshal(map[string]string{
		"transactionId": externalTransactionID,
		"merchantId":    a.cfg.MerchantID,
	})
	if errMarshal != nil {
		return fmt.Errorf("gateway: marshal cancel body: %w", errMarshal)
	}
	return doCancelRequest(ctx, a.client, http.MethodPost, endpoint+"/subscriptions/cancel", map[string]string{
		"Authorization": a.cfg.APIKey,
		"Content-Type":  "application/json",
	}, bytes.NewReader(body))
}
