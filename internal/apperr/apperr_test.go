package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

type reasonErr struct{}

func (reasonErr) Error() string      { return "subject: too long" }
func (reasonErr) UserReason() string { return "Subject is too long." }

func TestKind(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("wrapped: %w", ErrRateLimited)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "rate_limited", err: ErrRateLimited, want: "rate_limited"},
		{name: "rate_limited_wrapped", err: wrapped, want: "rate_limited"},
		{name: "plan_empty", err: ErrPlanEmpty, want: "plan_empty"},
		{name: "assembly_failure", err: ErrNoUsableSections, want: "assembly_failure"},
		{name: "refund", err: fmt.Errorf("refund: %w", ErrRefund), want: "refund"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "unknown", err: errors.New("unknown"), want: "internal"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "validation", err: ErrValidation, want: http.StatusBadRequest},
		{name: "rate_limited", err: ErrRateLimited, want: http.StatusTooManyRequests},
		{name: "not_found_wrapped", err: fmt.Errorf("get: %w", ErrNotFound), want: http.StatusNotFound},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "canceled", err: context.Canceled, want: http.StatusRequestTimeout},
		{name: "unknown", err: errors.New("unknown"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestUserMessageHidesDetail(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("gateway: dial tcp 10.0.0.1:443: %w", ErrPaymentCreation)
	msg := UserMessage(err)
	if strings.Contains(msg, "10.0.0.1") {
		t.Fatalf("user message leaks detail: %q", msg)
	}
	if !strings.Contains(msg, "try again") {
		t.Fatalf("expected retry suggestion, got %q", msg)
	}

	if got := UserMessage(fmt.Errorf("wrap: %w", reasonErr{})); got != "Subject is too long." {
		t.Fatalf("expected validation reason, got %q", got)
	}
	if got := UserMessage(ErrRefund); !strings.Contains(got, "support") {
		t.Fatalf("expected support hint, got %q", got)
	}
}
