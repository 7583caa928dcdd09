package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL  = "https://api.yookassa.ru/v3"
	defaultCurrency = "RUB"
	defaultTimeout  = 15 * time.Second
)

// YooKassaConfig configures the YooKassa client.
type YooKassaConfig struct {
	ShopID    string
	SecretKey string
	BaseURL   string
	ReturnURL string
	// RequestsPerSecond throttles outbound calls shared by all loops.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// YooKassa is a Gateway backed by the YooKassa REST API.
type YooKassa struct {
	cfg     YooKassaConfig
	client  *http.Client
	limiter *rate.Limiter
}

var _ Gateway = (*YooKassa)(nil)

// NewYooKassa creates a client.
func NewYooKassa(cfg YooKassaConfig) (*YooKassa, error) {
	if cfg.ShopID == "" || cfg.SecretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &YooKassa{cfg: cfg, client: client, limiter: rate.NewLimiter(limit, burst)}, nil
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type createPaymentBody struct {
	Amount       amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation confirmation      `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Receipt      *receipt          `json:"receipt,omitempty"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type receipt struct {
	Customer customer      `json:"customer"`
	Items    []receiptItem `json:"items"`
}

type customer struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type receiptItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Amount      amount `json:"amount"`
	VATCode     int    `json:"vat_code"`
}

type paymentObject struct {
	ID           string       `json:"id"`
	Status       Status       `json:"status"`
	Confirmation confirmation `json:"confirmation"`
}

type refundBody struct {
	PaymentID string `json:"payment_id"`
	Amount    amount `json:"amount"`
}

type refundObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CreatePayment implements Gateway.
func (y *YooKassa) CreatePayment(ctx context.Context, req Request) (Payment, error) {
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = y.cfg.ReturnURL
	}
	amt := amount{Value: formatAmount(req.Amount), Currency: currency}

	body := createPaymentBody{
		Amount:       amt,
		Capture:      true,
		Confirmation: confirmation{Type: "redirect", ReturnURL: returnURL},
		Description:  req.Description,
		Metadata:     req.Metadata,
	}
	if req.Contact != "" {
		c := customer{Phone: req.Contact}
		if strings.Contains(req.Contact, "@") {
			c = customer{Email: req.Contact}
		}
		body.Receipt = &receipt{
			Customer: c,
			Items: []receiptItem{{
				Description: truncate(req.Description, 128),
				Quantity:    "1.00",
				Amount:      amt,
				VATCode:     1,
			}},
		}
	}

	var out paymentObject
	if err := y.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return Payment{}, fmt.Errorf("yookassa: create payment: %w: %w", apperr.ErrPaymentCreation, err)
	}
	if out.ID == "" || out.Confirmation.ConfirmationURL == "" {
		return Payment{}, fmt.Errorf("yookassa: create payment: incomplete response: %w", apperr.ErrPaymentCreation)
	}
	log.Info().Str("payment_id", out.ID).Str("status", string(out.Status)).Msg("payment created")
	return Payment{ID: out.ID, Status: out.Status, ConfirmationURL: out.Confirmation.ConfirmationURL}, nil
}

// FindPayment implements Gateway.
func (y *YooKassa) FindPayment(ctx context.Context, id string) (Status, error) {
	var out paymentObject
	if err := y.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return "", fmt.Errorf("yookassa: find payment %s: %w", id, err)
	}
	return out.Status, nil
}

// CreateRefund implements Gateway. A refund the gateway cancels is an error.
func (y *YooKassa) CreateRefund(ctx context.Context, paymentID string, units int64) error {
	body := refundBody{
		PaymentID: paymentID,
		Amount:    amount{Value: formatAmount(units), Currency: defaultCurrency},
	}
	var out refundObject
	if err := y.do(ctx, http.MethodPost, "/refunds", body, &out); err != nil {
		return fmt.Errorf("yookassa: refund %s: %w: %w", paymentID, apperr.ErrRefund, err)
	}
	if out.Status == "canceled" {
		return fmt.Errorf("yookassa: refund %s canceled: %w", paymentID, apperr.ErrRefund)
	}
	log.Info().Str("payment_id", paymentID).Str("refund_id", out.ID).Str("status", out.Status).Msg("refund created")
	return nil
}

func (y *YooKassa) do(ctx context.Context, method, path string, in, out any) error {
	if err := y.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, y.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(y.cfg.ShopID, y.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", NewIdempotenceKey())
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		return fmt.Errorf("status %d: %s %s", resp.StatusCode, ae.Code, ae.Description)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
