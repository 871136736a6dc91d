package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is the idempotency ledger for inbound gateway webhooks. One row
// exists per (gateway, external transaction ID); the unique index makes the
// insert itself the duplicate check, so a redelivered webhook can never apply
// twice. Rows are write-once.
type WebhookEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Gateway               string `gorm:"type:varchar(32);not null;uniqueIndex:ux_webhook_events_gateway_txn,priority:1"`  // Originating gateway name.
	ExternalTransactionID string `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_gateway_txn,priority:2"` // Gateway transaction ID.

	Kind    string         `gorm:"type:varchar(32);not null"` // Canonical event kind.
	Payload datatypes.JSON `gorm:"type:jsonb"`                // Raw webhook payload for audit.

	AppliedAt time.Time `gorm:"not null"` // When the event was recorded.
}
