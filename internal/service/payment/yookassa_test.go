package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
)

type fakeAPI struct {
	mu       sync.Mutex
	keys     []string
	bodies   []map[string]any
	status   Status
	failNext int
	refund   string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	check := func(w http.ResponseWriter, r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failNext > 0 {
			f.failNext--
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"type":"error","code":"internal_server_error","description":"try later"}`))
			return false
		}
		if r.Method == http.MethodPost {
			f.keys = append(f.keys, r.Header.Get("Idempotence-Key"))
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.bodies = append(f.bodies, body)
		}
		return true
	}

	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"id":"pay-1","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://pay.example/1"}}`))
	})
	mux.HandleFunc("GET /payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		f.mu.Lock()
		st := f.status
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": r.PathValue("id"), "status": st})
	})
	mux.HandleFunc("POST /refunds", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		f.mu.Lock()
		st := f.refund
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ref-1", "status": st})
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *YooKassa {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	y, err := NewYooKassa(YooKassaConfig{
		ShopID:            "shop",
		SecretKey:         "secret",
		BaseURL:           srv.URL + "/",
		ReturnURL:         "https://example.org/back",
		RequestsPerSecond: 1000,
		Burst:             10,
	})
	require.NoError(t, err)
	return y
}

func TestNewYooKassaRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewYooKassa(YooKassaConfig{ShopID: "shop"})
	require.Error(t, err)
}

func TestCreatePayment(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	y := newTestClient(t, api)

	p, err := y.CreatePayment(context.Background(), Request{
		Amount:      300,
		Description: "Essay: Roman law",
		Metadata:    map[string]string{"order_id": "o-1"},
		Contact:     "student@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)
	assert.Equal(t, "https://pay.example/1", p.ConfirmationURL)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.bodies, 1)
	body := api.bodies[0]
	assert.Equal(t, map[string]any{"value": "300.00", "currency": "RUB"}, body["amount"])
	assert.Equal(t, true, body["capture"])
	assert.Equal(t, map[string]any{"order_id": "o-1"}, body["metadata"])
	conf := body["confirmation"].(map[string]any)
	assert.Equal(t, "https://example.org/back", conf["return_url"])
	rc := body["receipt"].(map[string]any)
	assert.Equal(t, map[string]any{"email": "student@example.com"}, rc["customer"])
	assert.NotEmpty(t, api.keys[0])
}

func TestCreatePaymentFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{failNext: 1}
	y := newTestClient(t, api)

	_, err := y.CreatePayment(context.Background(), Request{Amount: 300})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPaymentCreation))
	assert.Contains(t, err.Error(), "status 500")
}

func TestFindPayment(t *testing.T) {
	t.Parallel()

	for _, st := range []Status{StatusPending, StatusWaitingForCapture, StatusSucceeded, StatusCanceled, StatusFailed} {
		st := st
		t.Run(string(st), func(t *testing.T) {
			t.Parallel()

			api := &fakeAPI{status: st}
			y := newTestClient(t, api)

			got, err := y.FindPayment(context.Background(), "pay-1")
			require.NoError(t, err)
			assert.Equal(t, st, got)
			assert.Equal(t, st == StatusSucceeded || st == StatusCanceled || st == StatusFailed, got.Terminal())
		})
	}
}

func TestFindPaymentError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{failNext: 1}
	y := newTestClient(t, api)

	_, err := y.FindPayment(context.Background(), "pay-1")
	require.Error(t, err)
}

func TestCreateRefund(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  string
		fail    int
		wantErr bool
	}{
		{name: "succeeded", status: "succeeded"},
		{name: "pending", status: "pending"},
		{name: "canceled", status: "canceled", wantErr: true},
		{name: "http_error", fail: 1, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeAPI{refund: tt.status, failNext: tt.fail}
			y := newTestClient(t, api)

			err := y.CreateRefund(context.Background(), "pay-1", 500)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.ErrRefund)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIdempotenceKeysAreUnique(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{refund: "succeeded"}
	y := newTestClient(t, api)

	_, err := y.CreatePayment(context.Background(), Request{Amount: 300})
	require.NoError(t, err)
	require.NoError(t, y.CreateRefund(context.Background(), "pay-1", 300))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.keys, 2)
	assert.NotEqual(t, api.keys[0], api.keys[1])
}

func TestThrottleHonoursContext(t *testing.T) {
	t.Parallel()

	y, err := NewYooKassa(YooKassaConfig{ShopID: "s", SecretKey: "k", BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)
	y.limiter.Allow() // drain the only token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = y.FindPayment(ctx, "x")
	require.Error(t, err)
}

func TestInstant(t *testing.T) {
	t.Parallel()

	g := NewInstant("https://example.org/paid")
	ctx := context.Background()

	p, err := g.CreatePayment(ctx, Request{Amount: 300})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, "https://example.org/paid", p.ConfirmationURL)

	st, err := g.FindPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, st)

	require.NoError(t, g.CreateRefund(ctx, p.ID, 300))
	assert.Equal(t, int64(300), g.Refunded(p.ID))
}
