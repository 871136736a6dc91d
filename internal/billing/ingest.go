package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/gateway"
	"github.com/docuflow/backend/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome classifies the result of ingesting one webhook delivery.
type Outcome string

// Outcome constants cover the three terminal ingest results.
const (
	// OutcomeApplied means the event passed all checks and mutated state.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the transaction was already recorded; no state changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected means the delivery failed verification or parsing.
	OutcomeRejected Outcome = "rejected"
)

// ErrUnknownGateway indicates the webhook path named a gateway with no adapter.
var ErrUnknownGateway = errors.New("billing: unknown gateway")

// Result carries the ingest outcome plus context for the HTTP response and logs.
type Result struct {
	Outcome Outcome               // Terminal classification of the delivery.
	Reason  string                // Rejection reason, set for rejected outcomes.
	Event   *gateway.PaymentEvent // Canonical event, set for applied and duplicate outcomes.
}

// PlanCacheInvalidator drops cached plan-derived data for an account after a
// state transition.
type PlanCacheInvalidator interface {
	InvalidateAccount(ctx context.Context, accountID uint64) error
}

// Ingestor runs the webhook pipeline: verify the signature, parse into a
// canonical event, record the idempotency key, and apply the state transition.
// The key write and the apply share one transaction, so a crash leaves either
// both or neither.
type Ingestor struct {
	db          *gorm.DB
	registry    *gateway.Registry
	subs        *Service
	invalidator PlanCacheInvalidator

	now func() time.Time
}

// NewIngestor constructs an Ingestor. The invalidator may be nil.
func NewIngestor(db *gorm.DB, registry *gateway.Registry, subs *Service, invalidator PlanCacheInvalidator) *Ingestor {
	return &Ingestor{
		db:          db,
		registry:    registry,
		subs:        subs,
		invalidator: invalidator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ingest processes one raw webhook delivery for the named gateway.
// It returns ErrUnknownGateway for unregistered gateway names and a non-nil
// error only for internal failures; verification and parse failures are
// reported as a rejected Result.
func (i *Ingestor) Ingest(ctx context.Context, gatewayName string, rawBody []byte, signatureHeader string) (Result, error) {
	adapter, ok := i.registry.Lookup(gatewayName)
	if !ok {
		return Result{}, ErrUnknownGateway
	}

	if adapter.SignatureRequired() && !adapter.Verify(rawBody, signatureHeader) {
		log.WithFields(log.Fields{
			"gateway":   adapter.Name(),
			"body_size": len(rawBody),
		}).Warn("webhook signature verification failed")
		return Result{Outcome: OutcomeRejected, Reason: "invalid signature"}, nil
	}

	ev, errParse := adapter.Parse(ctx, rawBody)
	if errParse != nil {
		if errors.Is(errParse, gateway.ErrMalformedPayload) || errors.Is(errParse, gateway.ErrUnknownAccount) {
			log.WithError(errParse).WithField("gateway", adapter.Name()).Warn("webhook payload rejected")
			return Result{Outcome: OutcomeRejected, Reason: errParse.Error()}, nil
		}
		return Result{}, fmt.Errorf("billing: parse webhook: %w", errParse)
	}

	record := models.WebhookEvent{
		Gateway:               ev.Gateway,
		ExternalTransactionID: ev.ExternalTransactionID,
		Kind:                  string(ev.Kind),
		Payload:               datatypes.JSON(rawBody),
		AppliedAt:             i.now(),
	}

	outcome := OutcomeDuplicate
	errTx := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway"}, {Name: "external_transaction_id"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("billing: record idempotency key: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if errApply := i.subs.apply(ctx, tx, ev); errApply != nil {
			return errApply
		}
		outcome = OutcomeApplied
		return nil
	})
	if errTx != nil {
		return Result{}, errTx
	}

	if outcome == OutcomeApplied && i.invalidator != nil {
		if errInvalidate := i.invalidator.InvalidateAccount(ctx, ev.AccountID); errInvalidate != nil {
			log.WithError(errInvalidate).WithField("account_id", ev.AccountID).Warn("failed to invalidate plan cache")
		}
	}

	return Result{Outcome: outcome, Event: ev}, nil
}
