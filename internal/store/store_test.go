package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "db", "orders.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newOrder() model.Order {
	return model.Order{UserID: "u1", ChatID: "c1", WorkType: "Essay", Subject: "Law", Theme: "Roman law", PageCount: 6, Price: 300}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{})
	require.Error(t, err)
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	id, err := s.CreateOrder(ctx, newOrder())
	require.NoError(t, err)
	require.Len(t, id, 26, "ULID")

	o, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, o.Status)
	assert.Equal(t, "Roman law", o.Theme)
	assert.Equal(t, int64(300), o.Price)
	assert.Nil(t, o.PaymentID)
	assert.Nil(t, o.CompletedAt)
	assert.False(t, o.CreatedAt.IsZero())

	id2, err := s.CreateOrder(ctx, newOrder())
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	_, err := s.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(context.Background(), "nope", model.StatusPaid, ""), apperr.ErrNotFound)
}

func TestLifecycleSuccess(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	id, err := s.CreateOrder(ctx, newOrder())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, id, model.StatusPaymentCreated, "pay-1"))
	require.NoError(t, s.UpdateStatus(ctx, id, model.StatusPaid, ""))

	o, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, o.PaymentID)
	assert.Equal(t, "pay-1", *o.PaymentID, "empty payment id keeps the stored one")
	assert.NotNil(t, o.PaidAt)
	assert.Nil(t, o.CompletedAt)

	require.NoError(t, s.UpdateStatus(ctx, id, model.StatusCompleted, ""))
	o, err = s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path []model.OrderStatus
		next model.OrderStatus
	}{
		{name: "created_to_paid", next: model.StatusPaid},
		{name: "created_to_completed", next: model.StatusCompleted},
		{name: "completed_to_failed", path: []model.OrderStatus{model.StatusPaymentCreated, model.StatusPaid, model.StatusCompleted}, next: model.StatusFailed},
		{name: "refund_never_paid", path: []model.OrderStatus{model.StatusPaymentCreated, model.StatusFailed}, next: model.StatusRefunded},
		{name: "cancelled_is_terminal", path: []model.OrderStatus{model.StatusCancelled}, next: model.StatusPaymentCreated},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := openTest(t)
			ctx := context.Background()
			id, err := s.CreateOrder(ctx, newOrder())
			require.NoError(t, err)
			for _, st := range tt.path {
				require.NoError(t, s.UpdateStatus(ctx, id, st, ""))
			}
			err = s.UpdateStatus(ctx, id, tt.next, "")
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		})
	}
}

func TestRefundAfterPaid(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	id, err := s.CreateOrder(ctx, newOrder())
	require.NoError(t, err)
	for _, st := range []model.OrderStatus{model.StatusPaymentCreated, model.StatusPaid, model.StatusFailed, model.StatusRefunded} {
		require.NoError(t, s.UpdateStatus(ctx, id, st, ""), "to %s", st)
	}
	o, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, o.Status)
	assert.True(t, o.WasPaid())
	assert.Nil(t, o.CompletedAt)
}

func TestLogAction(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.LogAction(ctx, "u1", "order_started"))
	require.NoError(t, s.LogAction(ctx, "u1", "order_created"))
	require.NoError(t, s.LogAction(ctx, "u2", "order_started"))

	acts, err := s.Actions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "order_started", acts[0].Action)
	assert.Equal(t, "order_created", acts[1].Action)
}
