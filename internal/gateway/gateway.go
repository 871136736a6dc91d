package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/docuflow/backend/internal/models"

	log "github.com/sirupsen/logrus"
)

// Gateway names form a closed set; routes carry one of these and the registry
// resolves it to an adapter.
const (
	// NameStripe is the global card processor.
	NameStripe = "stripe"
	// NamePaymob is the first regional gateway.
	NamePaymob = "paymob"
	// NameKashier is the second regional gateway.
	NameKashier = "kashier"
	// NameFawry is the third regional gateway (unsigned server callback).
	NameFawry = "fawry"
)

// Kind is the canonical payment event kind shared by all gateways.
type Kind string

// Kind constants define the canonical event vocabulary.
const (
	// KindChargeSucceeded marks a successful initial or recurring charge.
	KindChargeSucceeded Kind = "charge_succeeded"
	// KindChargeFailed marks a declined or failed charge.
	KindChargeFailed Kind = "charge_failed"
	// KindSubscriptionCanceled marks an explicit provider-side cancellation.
	KindSubscriptionCanceled Kind = "subscription_canceled"
)

// ErrMalformedPayload indicates the webhook body could not be understood.
var ErrMalformedPayload = errors.New("gateway: malformed payload")

// ErrUnknownAccount indicates the payload did not resolve to a local account.
// Treated the same as a malformed payload by callers: reject, never retry.
var ErrUnknownAccount = errors.New("gateway: unknown account")

// PaymentEvent is the canonical, gateway-independent form of a webhook.
type PaymentEvent struct {
	Gateway               string              // Originating gateway name.
	Kind                  Kind                // Canonical event kind.
	ExternalTransactionID string              // Gateway transaction ID, idempotency key component.
	ExternalCustomerID    string              // Gateway customer ID when present.
	AccountID             uint64              // Resolved local account.
	PlanTier              models.PlanTier     // Purchased tier, set for charge events.
	BillingCycle          models.BillingCycle // Billing cycle, set for charge events.
	Amount                int64               // Charge amount in minor currency units.
	Currency              string              // ISO currency code, upper case.
	OccurredAt            time.Time           // Provider-reported event time.
}

// AccountResolver maps gateway identities to local account IDs.
type AccountResolver interface {
	ByEmail(ctx context.Context, email string) (uint64, error)
	ByCustomerID(ctx context.Context, gateway, customerID string) (uint64, error)
	Remember(ctx context.Context, gateway, customerID string, accountID uint64) error
}

// Adapter translates one provider's webhook payloads and signatures into
// canonical PaymentEvents. Verify and Parse are CPU-bound; CancelRemote is the
// only operation performing outbound network I/O.
type Adapter interface {
	Name() string
	// SignatureRequired reports whether inbound payloads carry a verifiable
	// signature. Callers skip Verify only when this returns false.
	SignatureRequired() bool
	// SignatureHeader names the HTTP header carrying the signature.
	SignatureHeader() string
	// Verify checks the signature over the raw, unparsed body. It never
	// returns an error; a failure is simply false.
	Verify(rawBody []byte, signatureHeader string) bool
	// Parse translates the raw body into a canonical event. Unrecognized
	// shapes yield ErrMalformedPayload; unresolvable accounts yield
	// ErrUnknownAccount.
	Parse(ctx context.Context, rawBody []byte) (*PaymentEvent, error)
	// CancelRemote stops billing at the provider for the given transaction.
	// The call is bounded by the adapter's configured timeout.
	CancelRemote(ctx context.Context, externalTransactionID string) error
}

// Registry resolves gateway names to adapters. Built once at startup from the
// closed adapter set.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs a Registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Names returns the registered gateway names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsePlanCode splits a merchant plan code such as "pro_monthly" into tier
// and billing cycle.
func ParsePlanCode(code string) (models.PlanTier, models.BillingCycle, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(code)), "_", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: bad plan code %q", ErrMalformedPayload, code)
	}

	var tier models.PlanTier
	switch parts[0] {
	case string(models.PlanTierPro):
		tier = models.PlanTierPro
	case string(models.PlanTierTeam):
		tier = models.PlanTierTeam
	case string(models.PlanTierEnterprise):
		tier = models.PlanTierEnterprise
	default:
		return "", "", fmt.Errorf("%w: unknown plan tier %q", ErrMalformedPayload, parts[0])
	}

	var cycle models.BillingCycle
	switch parts[1] {
	case string(models.BillingCycleMonthly):
		cycle = models.BillingCycleMonthly
	case string(models.BillingCycleYearly):
		cycle = models.BillingCycleYearly
	default:
		return "", "", fmt.Errorf("%w: unknown billing cycle %q", ErrMalformedPayload, parts[1])
	}

	return tier, cycle, nil
}

// parseAmountMinor converts a decimal amount string such as "299.00" into
// minor currency units.
func parseAmountMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrMalformedPayload)
	}

	whole := s
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var total int64
	for _, part := range []string{whole, frac} {
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return 0, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, s)
			}
			total = total*10 + int64(ch-'0')
		}
	}
	return total, nil
}

// resolveAccount resolves the local account for an event, preferring the
// gateway customer ID over the email, and remembers new customer mappings.
// Any resolution failure is reported as ErrUnknownAccount so the caller
// rejects the event without retrying.
func resolveAccount(ctx context.Context, resolver AccountResolver, gatewayName, email, customerID string) (uint64, error) {
	if resolver == nil {
		return 0, ErrUnknownAccount
	}

	if strings.TrimSpace(customerID) != "" {
		if id, err := resolver.ByCustomerID(ctx, gatewayName, customerID); err == nil && id != 0 {
			return id, nil
		}
	}

	id, err := resolver.ByEmail(ctx, email)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: gateway=%s email=%q customer=%q", ErrUnknownAccount, gatewayName, email, customerID)
	}

	if strings.TrimSpace(customerID) != "" {
		if errRemember := resolver.Remember(ctx, gatewayName, customerID, id); errRemember != nil {
			log.WithError(errRemember).WithField("gateway", gatewayName).Warn("failed to remember gateway customer mapping")
		}
	}
	return id, nil
}

// doCancelRequest performs one bounded outbound call to a provider API and
// fails on any non-2xx response.
func doCancelRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body io.Reader) error {
	req, errReq := http.NewRequestWithContext(ctx, method, url, body)
	if errReq != nil {
		return fmt.Errorf("gateway: build cancel request: %w", errReq)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, errDo := client.Do(req)
	if errDo != nil {
		return fmt.Errorf("gateway: cancel request: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: cancel request: unexpected status %d", resp.StatusCode)
	}
	return nil
}
