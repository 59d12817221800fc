package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Expense is a single expense record. Every record belongs to exactly one
// owner and is only ever visible to that owner; the owner is set at creation
// and never changes.
//
// JSON field names follow the public API contract (camelCase) rather than the
// snake_case used elsewhere, so cached pages and fresh reads serialise
// identically for existing clients.
type Expense struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID       string    `gorm:"type:uuid;not null;index" json:"owner"`
	Amount        float64   `gorm:"not null" json:"amount"`
	Description   string    `gorm:"not null" json:"description"`
	Date          time.Time `gorm:"not null;index" json:"date"`
	Category      string    `gorm:"not null;index" json:"category"`
	PaymentMethod string    `gorm:"not null" json:"paymentMethod"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (e *Expense) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
