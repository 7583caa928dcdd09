package httptransport

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
)

// maxBody caps request bodies; the largest dialogue input is a custom plan.
const maxBody = 64 << 10

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Status string        `json:"status"`
	Error  *errorPayload `json:"error"`
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Status: "error",
		Error:  &errorPayload{Kind: "bad_request", Message: msg},
	})
}

// writeError maps err to a status and a message safe for clients.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	msg := apperr.UserMessage(err)
	if kind == "not_found" {
		msg = "order not found"
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", kind).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Status: "error", Error: &errorPayload{Kind: kind, Message: msg}})
}
