// Package middleware holds the net/http middleware chain and the JSON
// response helpers shared with the API handlers.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler classifies and logs an error before it is rendered.
type ErrorHandler interface {
	Handle(ctx context.Context, err error) *apperrors.AppError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("response encode failed", slog.Any("error", err))
	}
}

// WriteError renders err through h with the status of its taxonomy entry.
func WriteError(w http.ResponseWriter, r *http.Request, h ErrorHandler, err error) {
	appErr := h.Handle(r.Context(), err)

	if appErr.Code == apperrors.CodeRateLimit {
		if secs, ok := appErr.Details["retry_after"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	WriteJSON(w, appErr.Status(), ErrorBody{
		Code:    appErr.Code,
		Message: appErr.UserMessage,
		Details: appErr.Details,
	})
}
