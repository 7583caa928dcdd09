// Package order turns confirmed drafts into paid orders: it creates the
// order and its payment, then reconciles the payment in the background
// and fulfils or refunds the order.
package order

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/document"
	"github.com/iliamunaev/paper-order-pipeline/internal/generation"
	"github.com/iliamunaev/paper-order-pipeline/internal/metrics"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/notify"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/payment"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/tracker"
	"github.com/iliamunaev/paper-order-pipeline/internal/validate"
)

// Store persists orders and the user action log.
type Store interface {
	CreateOrder(ctx context.Context, o model.Order) (string, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus, paymentID string) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	LogAction(ctx context.Context, userID, action string) error
	Actions(ctx context.Context, userID string) ([]model.UserAction, error)
}

// Generator produces documents.
type Generator interface {
	DerivePlan(ctx context.Context, c generation.Context) []string
	Generate(ctx context.Context, req generation.Request) (*document.Document, error)
}

// Renderer turns a document into the delivered file.
type Renderer interface {
	Render(doc *document.Document) ([]byte, error)
}

// Limiter admits order attempts per user.
type Limiter interface {
	Allow(userID string) bool
	Remaining(userID string) int
}

// Defaults for Config zero values.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultReconcileTimeout = 2 * time.Hour
	DefaultCurrency         = "RUB"

	// sideEffectTimeout bounds store writes and notifications made after
	// the loop context may already be done.
	sideEffectTimeout = 15 * time.Second
)

// ActionCreated is recorded in the user action log for every new order.
const ActionCreated = "order_created"

// Config holds the service settings.
type Config struct {
	PollInterval     time.Duration
	ReconcileTimeout time.Duration
	// TestUsers are served by the test gateway.
	TestUsers []string
	// ReceiptContact is used when a checkout carries no contact.
	ReceiptContact string
	Currency       string
}

// Deps are the collaborators of a Service. TestGateway and Metrics are
// optional.
type Deps struct {
	Store       Store
	Gateway     payment.Gateway
	TestGateway payment.Gateway
	Generator   Generator
	Renderer    Renderer
	Notifier    notify.Notifier
	Limiter     Limiter
	Metrics     *metrics.Metrics
}

// Service creates orders and runs one reconciliation loop per payment.
type Service struct {
	store    Store
	live     payment.Gateway
	test     payment.Gateway
	gen      Generator
	render   Renderer
	notifier notify.Notifier
	limiter  Limiter
	metrics  *metrics.Metrics

	cfg       Config
	testUsers map[string]bool

	tr   *tracker.Tracker
	wg   sync.WaitGroup
	base context.Context
	stop context.CancelFunc
}

var errStopped = errors.New("order service is shutting down")

// New creates a Service.
func New(d Deps, cfg Config) *Service {
	switch {
	case d.Store == nil:
		panic("order.New: nil store")
	case d.Gateway == nil:
		panic("order.New: nil gateway")
	case d.Generator == nil:
		panic("order.New: nil generator")
	case d.Renderer == nil:
		panic("order.New: nil renderer")
	case d.Notifier == nil:
		panic("order.New: nil notifier")
	case d.Limiter == nil:
		panic("order.New: nil limiter")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = DefaultReconcileTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}

	users := make(map[string]bool, len(cfg.TestUsers))
	for _, u := range cfg.TestUsers {
		users[u] = true
	}

	base, stop := context.WithCancel(context.Background())
	return &Service{
		store:     d.Store,
		live:      d.Gateway,
		test:      d.TestGateway,
		gen:       d.Generator,
		render:    d.Renderer,
		notifier:  d.Notifier,
		limiter:   d.Limiter,
		metrics:   d.Metrics,
		cfg:       cfg,
		testUsers: users,
		tr:        &tracker.Tracker{},
		base:      base,
		stop:      stop,
	}
}

// Tracker counts running reconciliation loops.
func (s *Service) Tracker() *tracker.Tracker { return s.tr }

// Shutdown cancels every running reconciliation loop. Orders keep their
// last persisted status.
func (s *Service) Shutdown() { s.stop() }

// Wait blocks until all reconciliation loops have returned.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) gatewayFor(userID string) payment.Gateway {
	if s.test != nil && s.testUsers[userID] {
		return s.test
	}
	return s.live
}

// Start creates the order for c and its payment, and starts reconciling
// the payment in the background. When the payment cannot be created the
// returned link still carries the order id.
func (s *Service) Start(ctx context.Context, c model.Checkout) (model.PaymentLink, error) {
	if s.base.Err() != nil {
		return model.PaymentLink{}, errStopped
	}
	if !s.limiter.Allow(c.UserID) {
		s.metrics.RateLimited()
		log.Info().Str("user_id", c.UserID).Msg("order rejected by rate limiter")
		return model.PaymentLink{}, fmt.Errorf("user %s: %w", c.UserID, apperr.ErrRateLimited)
	}

	d := c.Draft
	o := model.Order{
		UserID:    c.UserID,
		ChatID:    c.ChatID,
		WorkType:  d.WorkType,
		Subject:   d.Subject,
		Theme:     d.Theme,
		PageCount: d.PageCount,
		Price:     d.Price,
	}
	id, err := s.store.CreateOrder(ctx, o)
	if err != nil {
		return model.PaymentLink{}, fmt.Errorf("create order: %w", err)
	}
	o.ID, o.Status = id, model.StatusCreated
	s.metrics.OrderTransition(string(model.StatusCreated))
	if err := s.store.LogAction(ctx, c.UserID, ActionCreated); err != nil {
		log.Warn().Err(err).Str("order_id", id).Msg("failed to record user action")
	}
	link := model.PaymentLink{OrderID: id}

	contact := c.Contact
	if contact == "" {
		contact = s.cfg.ReceiptContact
	}
	if contact != "" {
		if contact, err = validate.Contact(contact); err != nil {
			s.setStatus(ctx, id, model.StatusPaymentFailed, "")
			return link, fmt.Errorf("order %s: receipt contact: %w", id, err)
		}
	}

	gw := s.gatewayFor(c.UserID)
	p, err := gw.CreatePayment(ctx, payment.Request{
		Amount:      d.Price,
		Currency:    s.cfg.Currency,
		Description: fmt.Sprintf("%s: %s", d.WorkType, html.UnescapeString(d.Theme)),
		Metadata:    map[string]string{"order_id": id, "user_id": c.UserID},
		Contact:     html.UnescapeString(contact),
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", id).Msg("payment creation failed")
		s.setStatus(ctx, id, model.StatusPaymentFailed, "")
		if errors.Is(err, apperr.ErrPaymentCreation) {
			return link, fmt.Errorf("order %s: %w", id, err)
		}
		return link, fmt.Errorf("order %s: %w: %w", id, apperr.ErrPaymentCreation, err)
	}

	if err := s.store.UpdateStatus(ctx, id, model.StatusPaymentCreated, p.ID); err != nil {
		return link, fmt.Errorf("order %s: %w", id, err)
	}
	s.metrics.OrderTransition(string(model.StatusPaymentCreated))
	o.Status = model.StatusPaymentCreated
	log.Info().Str("order_id", id).Str("payment_id", p.ID).Str("user_id", c.UserID).Int64("amount", d.Price).
		Int("attempts_left", s.limiter.Remaining(c.UserID)).Msg("order created")

	s.launch(job{order: o, draft: d, paymentID: p.ID, gateway: gw})

	link.URL = p.ConfirmationURL
	return link, nil
}

// Get returns the stored order.
func (s *Service) Get(ctx context.Context, id string) (model.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// Actions returns the action log of userID, oldest first.
func (s *Service) Actions(ctx context.Context, userID string) ([]model.UserAction, error) {
	return s.store.Actions(ctx, userID)
}

// detached returns a context for side effects that must outlive ctx.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

// setStatus persists a transition. Failures are logged and reported, never
// fatal to the caller's flow.
func (s *Service) setStatus(ctx context.Context, id string, status model.OrderStatus, paymentID string) error {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := s.store.UpdateStatus(ctx, id, status, paymentID); err != nil {
		log.Error().Err(err).Str("order_id", id).Str("status", string(status)).Msg("failed to update order status")
		return err
	}
	s.metrics.OrderTransition(string(status))
	return nil
}

// send delivers a text message, logging failures.
func (s *Service) send(ctx context.Context, chatID, text string) string {
	ctx, cancel := detached(ctx)
	defer cancel()

	id, err := s.notifier.SendText(ctx, chatID, text, notify.SendOptions{})
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to notify user")
	}
	return id
}
