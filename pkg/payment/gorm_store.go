package payment

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payproof/models"
)

// GormStore writes submissions onto models.User and appends a models.PaymentEvent.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the tables GormStore needs.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.User{}); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	if err := s.db.AutoMigrate(&models.PaymentEvent{}); err != nil {
		return fmt.Errorf("migrate payment_events: %w", err)
	}
	return nil
}

// SavePayment upserts the payment columns of the user row. Users that do not yet
// have a row get one keyed by the auth subject.
func (s *GormStore) SavePayment(ctx context.Context, sub Submission) error {
	at := sub.SubmittedAt
	user := models.User{
		ID:                 sub.UserID,
		Email:              sub.Email,
		PaymentMethod:      string(sub.Method),
		TransactionID:      sub.TransactionID,
		PaymentAmount:      sub.Amount,
		PaymentStatus:      string(sub.Status),
		PaymentSubmittedAt: &at,
	}
	cols := []string{"payment_method", "transaction_id", "payment_amount", "payment_status", "payment_submitted_at", "updated_at"}
	if sub.Email != "" {
		cols = append(cols, "email")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).Create(&user).Error; err != nil {
			return fmt.Errorf("upsert user payment: %w", err)
		}
		ev := models.PaymentEvent{
			UserID:        sub.UserID,
			Method:        string(sub.Method),
			TransactionID: sub.TransactionID,
			Amount:        sub.Amount,
			Status:        string(sub.Status),
			SubmittedAt:   sub.SubmittedAt,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("record payment event: %w", err)
		}
		return nil
	})
}

// LoadPayment returns ErrNotFound when the user has no row or never submitted.
func (s *GormStore) LoadPayment(ctx context.Context, userID string) (Submission, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.PaymentStatus == "" {
		return Submission{}, ErrNotFound
	}
	sub := Submission{
		UserID:        user.ID,
		Email:         user.Email,
		Method:        Method(user.PaymentMethod),
		TransactionID: user.TransactionID,
		Amount:        user.PaymentAmount,
		Status:        Status(user.PaymentStatus),
	}
	if user.PaymentSubmittedAt != nil {
		sub.SubmittedAt = user.PaymentSubmittedAt.UTC()
	}
	return sub, nil
}

// History lists every submission the user made, newest first.
func (s *GormStore) History(ctx context.Context, userID string) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("submitted_at desc, id desc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load payment history: %w", err)
	}
	return events, nil
}
