package models

import (
	"time"
)

// ScreenshotScan records the OCR outcome for one stored payment screenshot.
type ScreenshotScan struct {
	ID            uint `gorm:"primaryKey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FileName      string `gorm:"size:255;not null;uniqueIndex"`
	UserID        string `gorm:"size:64;index"`
	ContentType   string `gorm:"size:128"`
	TransactionID string `gorm:"size:64;index"`
	Rule          string `gorm:"size:16"`
	Status        string `gorm:"size:32;index"`
	RawText       string `gorm:"size:1024"`
	// Failed scans are kept so an admin can enter the ID by hand.
	Failed       bool   `gorm:"default:false;index"`
	FailedReason string `gorm:"size:255"`
}
