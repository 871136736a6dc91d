package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeInvoicePaidBody = `{
	"id": "evt_1",
	"type": "invoice.payment_succeeded",
	"created": 1767261600,
	"data": {
		"object": {
			"id": "in_123",
			"customer": "cus_9",
			"customer_email": "owner@docuflow.io",
			"amount_paid": 2900,
			"currency": "usd",
			"metadata": {"plan_code": "pro_monthly"}
		}
	}
}`

// signStripe builds a Stripe-Signature header the way Stripe does.
func signStripe(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func TestStripeVerify(t *testing.T) {
	adapter := NewStripeAdapter(testGatewayConfig("whsec_test"), newStubResolver())
	body := []byte(stripeInvoicePaidBody)

	header := signStripe(body, "whsec_test", time.Now())
	if !adapter.Verify(body, header) {
		t.Fatalf("expected valid signature to verify")
	}
	if adapter.Verify(body, signStripe(body, "whsec_other", time.Now())) {
		t.Fatalf("expected wrong-secret signature to fail")
	}
	if adapter.Verify([]byte(`{"id":"evt_tampered"}`), header) {
		t.Fatalf("expected tampered body to fail")
	}
	if adapter.Verify(body, "") {
		t.Fatalf("expected missing signature to fail")
	}
}

func TestStripeParse_InvoicePaid(t *testing.T) {
	resolver := newStubResolver()
	resolver.emails["owner@docuflow.io"] = 3
	adapter := NewStripeAdapter(testGatewayConfig("whsec_test"), resolver)

	ev, err := adapter.Parse(context.Background(), []byte(stripeInvoicePaidBody))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != KindChargeSucceeded {
		t.Fatalf("expected charge_succeeded, got %s", ev.Kind)
	}
	if ev.ExternalTransactionID != "in_123" {
		t.Fatalf("expected txn in_123, got %q", ev.ExternalTransactionID)
	}
	if ev.ExternalCustomerID != "cus_9" {
		t.Fatalf("expected customer cus_9, got %q", ev.ExternalCustomerID)
	}
	if ev.Amount != 2900 || ev.Currency != "USD" {
		t.Fatalf("expected 2900 USD, got %d %s", ev.Amount, ev.Currency)
	}
	if !ev.OccurredAt.Equal(time.Unix(1767261600, 0).UTC()) {
		t.Fatalf("unexpected occurred at %s", ev.OccurredAt)
	}
}

func TestStripeParse_InvoiceFailed(t *testing.T) {
	resolver := newStubResolver()
	resolver.customers["stripe/cus_9"] = 3
	adapter := NewStripeAdapter(testGatewayConfig("whsec_test"), resolver)

	body := `{"id":"evt_2","type":"invoice.payment_failed","created":1767261600,
		"data":{"object":{"id":"in_124","customer":"cus_9","amount_due":2900,"currency":"usd",
		"metadata":{"plan_code":"pro_monthly"}}}}`
	ev, err := adapter.Parse(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != KindChargeFailed {
		t.Fatalf("expected charge_failed, got %s", ev.Kind)
	}
	if ev.Amount != 2900 {
		t.Fatalf("expected amount_due 2900, got %d", ev.Amount)
	}
	if ev.AccountID != 3 {
		t.Fatalf("expected resolution by customer id, got account %d", ev.AccountID)
	}
}

func TestStripeParse_SubscriptionDeleted(t *testing.T) {
	resolver := newStubResolver()
	resolver.customers["stripe/cus_9"] = 3
	adapter := NewStripeAdapter(testGatewayConfig("whsec_test"), resolver)

	body := `{"id":"evt_3","type":"customer.subscription.deleted","created":1767261600,
		"data":{"object":{"id":"sub_55","customer":"cus_9"}}}`
	ev, err := adapter.Parse(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != KindSubscriptionCanceled {
		t.Fatalf("expected subscription_canceled, got %s", ev.Kind)
	}
	// Cancellations are keyed by event ID since no charge exists.
	if ev.ExternalTransactionID != "evt_3" {
		t.Fatalf("expected txn evt_3, got %q", ev.ExternalTransactionID)
	}
}

func TestStripeParse_UnhandledType(t *testing.T) {
	adapter := NewStripeAdapter(testGatewayConfig("whsec_test"), newStubResolver())

	body := `{"id":"evt_4","type":"charge.refund.updated","data":{"object":{"id":"re_1"}}}`
	if _, err := adapter.Parse(context.Background(), []byte(body)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
