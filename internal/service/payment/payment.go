// Package payment creates, polls and refunds payments at the external
// payment gateway.
//
// Every mutating request carries a fresh idempotence key, so retrying a
// call at the transport level can never charge or refund twice.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Status is the gateway side state of a payment.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
	StatusFailed            Status = "failed"
)

// Terminal reports whether polling can stop.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// Request describes a payment to create.
type Request struct {
	// Amount is in whole currency units.
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
	// Contact is the receipt e-mail or phone.
	Contact   string
	ReturnURL string
}

// Payment is a created payment.
type Payment struct {
	ID              string
	Status          Status
	ConfirmationURL string
}

// Gateway is the payment gateway contract used by the order service.
type Gateway interface {
	CreatePayment(ctx context.Context, req Request) (Payment, error)
	FindPayment(ctx context.Context, id string) (Status, error)
	CreateRefund(ctx context.Context, paymentID string, amount int64) error
}

// NewIdempotenceKey returns a key unique to one logical request.
func NewIdempotenceKey() string {
	return uuid.NewString()
}

// formatAmount renders whole units the way the gateway expects.
func formatAmount(units int64) string {
	return fmt.Sprintf("%d.00", units)
}
