package models

import "time"

// PaymentEvent is an append-only history of payment submissions for a user.
type PaymentEvent struct {
	ID            uint `gorm:"primaryKey"`
	CreatedAt     time.Time
	UserID        string    `gorm:"size:64;index;not null"`
	Method        string    `gorm:"size:32;not null"`
	TransactionID string    `gorm:"size:64;not null"`
	Amount        int64     `gorm:"not null"`
	Status        string    `gorm:"size:32;not null"`
	SubmittedAt   time.Time `gorm:"not null"`
}
