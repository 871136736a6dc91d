package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docuflow/backend/internal/config"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeAdapter handles the global card processor. Signature verification is
// delegated to stripe-go's webhook package over the raw body.
type StripeAdapter struct {
	cfg      config.GatewayConfig
	resolver AccountResolver
	client   *http.Client
}

// NewStripeAdapter constructs a StripeAdapter.
func NewStripeAdapter(cfg config.GatewayConfig, resolver AccountResolver) *StripeAdapter {
	return &StripeAdapter{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// Name returns the gateway name.
func (a *StripeAdapter) Name() string { return NameStripe }

// SignatureRequired reports that Stripe webhooks must be signed.
func (a *StripeAdapter) SignatureRequired() bool { return true }

// SignatureHeader names the Stripe signature header.
func (a *StripeAdapter) SignatureHeader() string { return "Stripe-Signature" }

// Verify checks the Stripe-Signature header over the raw body.
func (a *StripeAdapter) Verify(rawBody []byte, signatureHeader string) bool {
	if strings.TrimSpace(signatureHeader) == "" || a.cfg.Secret == "" {
		return false
	}
	_, errConstruct := webhook.ConstructEventWithOptions(rawBody, signatureHeader, a.cfg.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	return errConstruct == nil
}

// Parse translates a Stripe event into a canonical PaymentEvent. Only the
// subscription lifecycle event types are recognized.
func (a *StripeAdapter) Parse(ctx context.Context, rawBody []byte) (*PaymentEvent, error) {
	var event stripe.Event
	if errUnmarshal := json.Unmarshal(rawBody, &event); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, errUnmarshal)
	}
	if event.Data == nil || event.Data.Object == nil {
		return nil, fmt.Errorf("%w: missing event object", ErrMalformedPayload)
	}
	object := event.Data.Object

	var kind Kind
	switch event.Type {
	case "invoice.payment_succeeded":
		kind = KindChargeSucceeded
	case "invoice.payment_failed":
		kind = KindChargeFailed
	case "customer.subscription.deleted":
		kind = KindSubscriptionCanceled
	default:
		return nil, fmt.Errorf("%w: unhandled event type %q", ErrMalformedPayload, event.Type)
	}

	customerID := objString(object, "customer")
	email := objString(object, "customer_email")
	accountID, errResolve := resolveAccount(ctx, a.resolver, NameStripe, email, customerID)
	if errResolve != nil {
		return nil, errResolve
	}

	out := &PaymentEvent{
		Gateway:            NameStripe,
		Kind:               kind,
		ExternalCustomerID: customerID,
		AccountID:          accountID,
		Currency:           strings.ToUpper(objString(object, "currency")),
		OccurredAt:         time.Unix(event.Created, 0).UTC(),
	}

	switch kind {
	case KindSubscriptionCanceled:
		// Cancellation events have no charge; the event ID is the
		// idempotency key.
		out.ExternalTransactionID = event.ID
	default:
		out.ExternalTransactionID = objString(object, "id")
		amountField := "amount_paid"
		if kind == KindChargeFailed {
			amountField = "amount_due"
		}
		if v, ok := object[amountField].(float64); ok {
			out.Amount = int64(v)
		}
		tier, cycle, errPlan := ParsePlanCode(objMetadata(object, "plan_code"))
		if errPlan != nil {
			return nil, errPlan
		}
		out.PlanTier = tier
		out.BillingCycle = cycle
	}

	if out.ExternalTransactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}
	return out, nil
}

// CancelRemote cancels the Stripe subscription that produced the transaction.
func (a *StripeAdapter) CancelRemote(ctx context.Context, externalTransactionID string) error {
	endpoint := strings.TrimRight(a.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.stripe.com/v1"
	}
	cancelURL := fmt.Sprintf("%s/subscriptions/%s", endpoint, url.PathEscape(externalTransactionID))
	return doCancelRequest(ctx, a.client, http.MethodDelete, cancelURL, map[string]string{
		"Authorization": "Bearer " + a.cfg.APIKey,
	}, nil)
}

// objString reads a string field from a decoded event object.
func objString(object map[string]any, key string) string {
	v, _ := object[key].(string)
	return strings.TrimSpace(v)
}

// objMetadata reads a string from the object's metadata map.
func objMetadata(object map[string]any, key string) string {
	meta, _ := object["metadata"].(map[string]any)
	if meta == nil {
		return ""
	}
	v, _ := meta[key].(string)
	return strings.TrimSpace(v)
}
