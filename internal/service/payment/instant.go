package payment

import (
	"context"
	"sync"
)

// Instant is a Gateway that settles every payment immediately. It serves
// users in test mode and never talks to the network.
type Instant struct {
	mu      sync.Mutex
	refunds map[string]int64
	// URL is returned as the confirmation link.
	URL string
}

var _ Gateway = (*Instant)(nil)

// NewInstant creates an instant gateway.
func NewInstant(url string) *Instant {
	return &Instant{URL: url, refunds: make(map[string]int64)}
}

// CreatePayment implements Gateway.
func (g *Instant) CreatePayment(ctx context.Context, req Request) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	return Payment{ID: "test-" + NewIdempotenceKey(), Status: StatusSucceeded, ConfirmationURL: g.URL}, nil
}

// FindPayment implements Gateway.
func (g *Instant) FindPayment(ctx context.Context, id string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return StatusSucceeded, nil
}

// CreateRefund implements Gateway.
func (g *Instant) CreateRefund(ctx context.Context, paymentID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.refunds[paymentID] += amount
	g.mu.Unlock()
	return nil
}

// Refunded returns the total refunded for paymentID.
func (g *Instant) Refunded(paymentID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds[paymentID]
}
