package models

import "time"

// StorageQuota tracks consumed storage bytes per account. UsedBytes is
// adjusted by the file-storage collaborator on upload and delete and is
// clamped at zero after every decrement. Limits are not stored here; they are
// resolved from the account's current plan at read time.
type StorageQuota struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;uniqueIndex"` // Owning account ID.

	UsedBytes int64 `gorm:"not null;default:0"` // Consumed storage in bytes, never negative.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
