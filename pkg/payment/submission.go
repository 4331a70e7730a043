package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMethodRequired        = errors.New("payment method is required")
	ErrInvalidMethod         = errors.New("unknown payment method")
	ErrScreenshotRequired    = errors.New("payment screenshot is required")
	ErrTransactionIDRequired = errors.New("transaction ID is required")
	ErrInvalidAmount         = errors.New("payment amount must not be negative")
	ErrUserRequired          = errors.New("user id is required")
	ErrSubmitInProgress      = errors.New("submission already in progress")
	ErrNotFound              = errors.New("no payment on record")
)

type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodJazzCash     Method = "jazzcash"
	MethodEasypaisa    Method = "easypaisa"
	MethodCard         Method = "card"
)

// Methods lists the accepted payment methods in display order.
func Methods() []Method {
	return []Method{MethodBankTransfer, MethodJazzCash, MethodEasypaisa, MethodCard}
}

// ParseMethod accepts a method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrMethodRequired
	}
	for _, m := range Methods() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

type Status string

const (
	// StatusPendingVerification is the only status this package writes; verified
	// and rejected are set by an administrator.
	StatusPendingVerification Status = "pending_verification"
	StatusVerified            Status = "verified"
	StatusRejected            Status = "rejected"
)

// Identity is the submitting user as reported by the auth layer.
type Identity struct {
	UserID string
	Email  string
}

// Submission is what gets written onto the user record.
type Submission struct {
	UserID        string    `json:"userId"`
	Email         string    `json:"email,omitempty"`
	Method        Method    `json:"paymentMethod"`
	TransactionID string    `json:"transactionId"`
	Amount        int64     `json:"paymentAmount"`
	Status        Status    `json:"paymentStatus"`
	SubmittedAt   time.Time `json:"paymentSubmittedAt"`
}

// RecordStore persists a submission onto the user record.
type RecordStore interface {
	SavePayment(ctx context.Context, s Submission) error
}

// Store is a RecordStore that can also read back the current payment.
type Store interface {
	RecordStore
	LoadPayment(ctx context.Context, userID string) (Submission, error)
}
