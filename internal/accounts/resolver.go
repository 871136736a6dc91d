package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dbutil "github.com/docuflow/backend/internal/db"
	"github.com/docuflow/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound indicates no account matches the given email or customer ID.
var ErrNotFound = errors.New("accounts: not found")

// Resolver maps gateway-provided identities (customer email or gateway
// customer ID) to canonical account IDs.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// ByEmail resolves an account by email, case-insensitively.
func (r *Resolver) ByEmail(ctx context.Context, email string) (uint64, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, ErrNotFound
	}

	var account models.Account
	errFind := r.db.WithContext(ctx).
		Where(dbutil.CaseInsensitiveLikeExpr(r.db, "email"), dbutil.NormalizeLikePattern(r.db, email)).
		Where("is_enabled = ?", true).
		First(&account).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("accounts: lookup by email: %w", errFind)
	}
	return account.ID, nil
}

// ByCustomerID resolves an account through a previously remembered gateway
// customer mapping.
func (r *Resolver) ByCustomerID(ctx context.Context, gateway, customerID string) (uint64, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, ErrNotFound
	}

	var mapping models.GatewayCustomer
	errFind := r.db.WithContext(ctx).
		Where("gateway = ? AND customer_id = ?", gateway, customerID).
		First(&mapping).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("accounts: lookup by customer id: %w", errFind)
	}
	return mapping.AccountID, nil
}

// Remember records a (gateway, customer ID) -> account mapping so later
// webhooks that omit the email still resolve. Re-remembering an existing
// mapping is a no-op.
func (r *Resolver) Remember(ctx context.Context, gateway, customerID string, accountID uint64) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || accountID == 0 {
		return nil
	}

	mapping := models.GatewayCustomer{
		Gateway:    gateway,
		CustomerID: customerID,
		AccountID:  accountID,
	}
	if errCreate := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway"}, {Name: "customer_id"}},
		DoNothing: true,
	}).Create(&mapping).Error; errCreate != nil {
		return fmt.Errorf("accounts: remember customer id: %w", errCreate)
	}
	return nil
}
