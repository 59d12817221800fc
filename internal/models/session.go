package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session holds a refresh token issued at login. Metadata carries the client
// context captured at creation (IP address, user agent) as a JSON document.
type Session struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string         `gorm:"type:uuid;not null;index" json:"user_id"`
	User         *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RefreshToken string         `gorm:"uniqueIndex;not null" json:"-"`
	Metadata     datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	ExpiresAt    time.Time      `gorm:"index" json:"expires_at"`
	LastUsedAt   time.Time      `json:"last_used_at"`
	CreatedAt    time.Time      `json:"created_at"`
	RevokedAt    *time.Time     `json:"revoked_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
