package models

import "time"

// Account represents a Docuflow account that owns documents and subscriptions.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:varchar(255);not null;uniqueIndex"` // Login email, unique.
	Name  string `gorm:"type:varchar(255)"`                      // Display name.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the account is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// GatewayCustomer maps a gateway-assigned customer ID to a local account.
// Rows are written the first time a webhook arrives carrying both an email
// and a customer ID, so later events can be resolved by customer ID alone.
type GatewayCustomer struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Gateway    string `gorm:"type:varchar(32);not null;uniqueIndex:ux_gateway_customers_gateway_customer,priority:1"`  // Gateway name.
	CustomerID string `gorm:"type:varchar(191);not null;uniqueIndex:ux_gateway_customers_gateway_customer,priority:2"` // Gateway-assigned customer ID.

	AccountID uint64  `gorm:"not null;index"`       // Resolved account ID.
	Account   Account `gorm:"foreignKey:AccountID"` // Related account record.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
