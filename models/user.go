package models

import (
	"time"
)

// User holds the payment columns of the user record. Identity and sessions are
// owned by the auth service; ID is the subject it issues.
type User struct {
	ID                 string `gorm:"primaryKey;size:64"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Email              string `gorm:"size:255;index"`
	PaymentMethod      string `gorm:"size:32"`
	TransactionID      string `gorm:"size:64;index"`
	PaymentAmount      int64  `gorm:"default:0"`
	PaymentStatus      string `gorm:"size:32;index"` // pending_verification, verified, rejected
	PaymentSubmittedAt *time.Time
	PaymentEvents      []PaymentEvent `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
