package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/docuflow/backend/internal/config"
)

// FawryAdapter handles Fawry's simplified server callback, which carries no
// signature. The adapter declares verification optional; callers must not
// treat that as a global bypass for other gateways.
type FawryAdapter struct {
	cfg      config.GatewayConfig
	resolver AccountResolver
	client   *http.Client
}

// NewFawryAdapter constructs a FawryAdapter.
func NewFawryAdapter(cfg config.GatewayConfig, resolver AccountResolver) *FawryAdapter {
	return &FawryAdapter{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// Name returns the gateway name.
func (a *FawryAdapter) Name() string { return NameFawry }

// SignatureRequired reports that Fawry's simplified callback is unsigned.
func (a *FawryAdapter) SignatureRequired() bool { return false }

// SignatureHeader returns the empty string; the callback carries no signature.
func (a *FawryAdapter) SignatureHeader() string { return "" }

// Verify always succeeds; there is no signature to check.
func (a *FawryAdapter) Verify(rawBody []byte, signatureHeader string) bool { return true }

// fawryPayload maps the fields consumed from a Fawry server callback.
type fawryPayload struct {
	RequestID         string  `json:"requestId"`
	FawryRefNumber    string  `json:"fawryRefNumber"`
	MerchantRefNumber string  `json:"merchantRefNumber"`
	OrderStatus       string  `json:"orderStatus"`
	PaymentAmount     float64 `json:"paymentAmount"`
	CustomerMail      string  `json:"customerMail"`
	CustomerProfileID string  `json:"customerProfileId"`
	PaymentTime       int64   `json:"paymentTime"`
}

// Parse translates a Fawry callback into a canonical event. PAID maps to a
// successful charge, FAILED and EXPIRED to a failed charge, and CANCELED or
// REFUNDED to a cancellation.
func (a *FawryAdapter) Parse(ctx context.Context, rawBody []byte) (*PaymentEvent, error) {
	var payload fawryPayload
	if errUnmarshal := json.Unmarshal(rawBody, &payload); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, errUnmarshal)
	}
	if strings.TrimSpace(payload.FawryRefNumber) == "" {
		return nil, fmt.Errorf("%w: missing fawry reference number", ErrMalformedPayload)
	}

	var kind Kind
	switch strings.ToUpper(strings.TrimSpace(payload.OrderStatus)) {
	case "PAID":
		kind = KindChargeSucceeded
	case "FAILED", "EXPIRED":
		kind = KindChargeFailed
	case "CANCELED", "REFUNDED":
		kind = KindSubscriptionCanceled
	default:
		return nil, fmt.Errorf("%w: unhandled order status %q", ErrMalformedPayload, payload.OrderStatus)
	}

	customerID := strings.TrimSpace(payload.CustomerProfileID)
	accountID, errResolve := resolveAccount(ctx, a.resolver, NameFawry, payload.CustomerMail, customerID)
	if errResolve != nil {
		return nil, errResolve
	}

	occurredAt := time.Now().UTC()
	if payload.PaymentTime > 0 {
		occurredAt = time.UnixMilli(payload.PaymentTime).UTC()
	}

	out := &PaymentEvent{
		Gateway:               NameFawry,
		Kind:                  kind,
		ExternalTransactionID: strings.TrimSpace(payload.FawryRefNumber),
		ExternalCustomerID:    customerID,
		AccountID:             accountID,
		Amount:                int64(math.Round(payload.PaymentAmount * 100)),
		Currency:              "EGP",
		OccurredAt:            occurredAt,
	}

	if kind != KindSubscriptionCanceled {
		tier, cycle, errPlan := ParsePlanCode(payload.MerchantRefNumber)
		if errPlan != nil {
			return nil, errPlan
		}
		out.PlanTier = tier
		out.BillingCycle = cycle
	}

	return out, nil
}

// CancelRemote requests a refund-based cancellation at Fawry.
func (a *FawryAdapter) CancelRemote(ctx context.Context, externalTransactionID string) error {
	endpoint := strings.TrimRight(a.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://www.atfawry.com/ECommerceWeb/Fawry"
	}
	body, errMarshal := json.Marshal(map[string]string{
		"merchantCode":    a.cfg.MerchantID,
		"referenceNumber": externalTransactionID,
		"signature":       SignHMACSHA256([]byte(a.cfg.MerchantID+externalTransactionID), a.cfg.Secret),
	})
	if errMarshal != nil {
		return fmt.Errorf("gateway: marshal cancel body: %w", errMarshal)
	}
	return doCancelRequest(ctx, a.client, http.MethodPost, endpoint+"/payments/cancel", map[string]string{
		"Content-Type": "application/json",
	}, bytes.NewReader(body))
}
