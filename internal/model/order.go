// Package model defines the domain types shared across the order pipeline:
// orders and their lifecycle, work types, drafts and per-section results.
package model

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusCreated        OrderStatus = "created"
	StatusPaymentCreated OrderStatus = "payment_created"
	StatusPaymentFailed  OrderStatus = "payment_failed"
	StatusPaid           OrderStatus = "paid"
	StatusCompleted      OrderStatus = "completed"
	StatusFailed         OrderStatus = "failed"
	StatusRefunded       OrderStatus = "refunded"
	StatusCancelled      OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:        {StatusPaymentCreated, StatusPaymentFailed, StatusCancelled},
	StatusPaymentCreated: {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:           {StatusCompleted, StatusFailed},
	StatusFailed:         {StatusRefunded},
}

// ValidTransition reports whether an order may move from one status to another.
// It does not know whether a failed order was ever paid; callers that refund
// check Order.WasPaid as well.
func ValidTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

// Order is a single paid request for a generated document.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	ChatID      string      `json:"chat_id"`
	WorkType    string      `json:"work_type"`
	Subject     string      `json:"subject"`
	Theme       string      `json:"theme"`
	PageCount   int         `json:"page_count"`
	Price       int64       `json:"price"`
	Status      OrderStatus `json:"status"`
	PaymentID   *string     `json:"payment_id,omitempty"`
	PaidAt      *time.Time  `json:"paid_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// WasPaid reports whether the order ever reached the paid status.
// Refunds are only allowed for such orders.
func (o Order) WasPaid() bool { return o.PaidAt != nil }

// UserAction is one entry of the user action log.
type UserAction struct {
	UserID string    `json:"user_id"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// Source is a reference returned by the source lookup.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
