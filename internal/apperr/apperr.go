// Package apperr defines the error taxonomy shared by the order pipeline
// and maps it to error kinds, HTTP statuses and user-facing messages.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// kindError is a sentinel that carries its own classification kind.
type kindError struct {
	kind string
	msg  string
}

func (e kindError) Error() string { return e.msg }
func (e kindError) Kind() string  { return e.kind }

var (
	ErrValidation          error = kindError{kind: "validation", msg: "invalid input"}
	ErrRateLimited         error = kindError{kind: "rate_limited", msg: "rate limit exceeded"}
	ErrPaymentCreation     error = kindError{kind: "payment_creation", msg: "payment creation failed"}
	ErrSectionGeneration   error = kindError{kind: "section_generation", msg: "section generation failed"}
	ErrPlanEmpty           error = kindError{kind: "plan_empty", msg: "plan is empty"}
	ErrNoUsableSections    error = kindError{kind: "assembly_failure", msg: "no usable sections"}
	ErrRefund              error = kindError{kind: "refund", msg: "refund failed"}
	ErrReconciliation      error = kindError{kind: "reconciliation", msg: "payment reconciliation failed"}
	ErrNotFound            error = kindError{kind: "not_found", msg: "not found"}
	ErrInvalidTransition   error = kindError{kind: "invalid_transition", msg: "invalid status transition"}
	ErrProviderUnavailable error = kindError{kind: "provider_unavailable", msg: "provider unavailable"}
)

// kinder is satisfied by errors that carry a classification kind.
type kinder interface {
	Kind() string
}

// Kind returns the classification of err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

var kindToStatus = map[string]int{
	"validation":           http.StatusBadRequest,
	"rate_limited":         http.StatusTooManyRequests,
	"payment_creation":     http.StatusBadGateway,
	"provider_unavailable": http.StatusBadGateway,
	"not_found":            http.StatusNotFound,
	"invalid_transition":   http.StatusConflict,
	"timeout":              http.StatusGatewayTimeout,
	"canceled":             http.StatusRequestTimeout,
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

const (
	msgRetry   = "Something went wrong. Please try again later or contact support."
	msgSupport = "Something went wrong with your order. Please contact support."
)

// UserMessage returns a message that is safe to show to an end user.
// Validation errors carry their own reason; everything else is phrased
// as a retry-or-contact-support suggestion.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var r interface{ UserReason() string }
	if errors.As(err, &r) {
		return r.UserReason()
	}
	switch Kind(err) {
	case "rate_limited":
		return "You have created too many orders recently. Please try again in an hour."
	case "payment_creation":
		return "We could not create the payment. Please try again later or contact support."
	case "refund", "reconciliation":
		return msgSupport
	default:
		return msgRetry
	}
}
