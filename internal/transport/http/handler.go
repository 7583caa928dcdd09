// Package httptransport implements the HTTP transport layer for the
// order dialogue and order lookups.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iliamunaev/paper-order-pipeline/internal/intake"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
)

type dialogue interface {
	Handle(ctx context.Context, chatID, userID, text string) intake.Reply
}

type orderReader interface {
	Get(ctx context.Context, id string) (model.Order, error)
	Actions(ctx context.Context, userID string) ([]model.UserAction, error)
}

// Handler handles HTTP requests to the order pipeline.
type Handler struct {
	dialogue       dialogue
	orders         orderReader
	requestTimeout time.Duration
}

// New returns a Handler.
//
// It panics if dialogue or orders is nil. If requestTimeout is
// non-positive, a default timeout is applied.
func New(d dialogue, orders orderReader, requestTimeout time.Duration) *Handler {
	if d == nil {
		panic("httptransport.New: nil dialogue")
	}
	if orders == nil {
		panic("httptransport.New: nil order reader")
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Handler{dialogue: d, orders: orders, requestTimeout: requestTimeout}
}

// Register adds the handler routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /chats/{chatID}/messages", h.HandleMessage)
	mux.HandleFunc("GET /orders/{id}", h.HandleGetOrder)
	mux.HandleFunc("GET /users/{userID}/actions", h.HandleUserActions)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// HandleMessage feeds one user message into the chat's order dialogue
// and returns the dialogue reply.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chatID := strings.TrimSpace(r.PathValue("chatID"))
	if chatID == "" {
		badRequest(w, "chat id is required")
		return
	}

	var req messageRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		badRequest(w, "user_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, h.dialogue.Handle(ctx, chatID, req.UserID, req.Text))
}

// orderResponse is an order plus whether its status can still change.
type orderResponse struct {
	model.Order
	Final bool `json:"final"`
}

type actionsResponse struct {
	Actions []model.UserAction `json:"actions"`
}

// HandleGetOrder returns the stored order.
func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		badRequest(w, "order id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	o, err := h.orders.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, Final: o.Status.Terminal()})
}

// HandleUserActions returns the action log of a user.
func (h *Handler) HandleUserActions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userID"))
	if userID == "" {
		badRequest(w, "user id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	actions, err := h.orders.Actions(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []model.UserAction{}
	}
	writeJSON(w, http.StatusOK, actionsResponse{Actions: actions})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeJSON writes v as a JSON response with the given status code.
// The Content-Type is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
