package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/idempotency"
	"github.com/Proton-105/coinwatch/pkg/logger"
)

const (
	// IdempotencyHeader carries the client-chosen key of a mutating request.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader is set on responses served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"

	maxIdempotentBody = 1 << 20
)

// Idempotency ensures a mutating request executes at most once per
// Idempotency-Key and caller. Requests without the header pass through.
func Idempotency(manager idempotency.Manager, ttl time.Duration, h ErrorHandler, log *slog.Logger) func(http.Handler) http.Handler {
	if manager == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyHeader)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > 255 {
				WriteError(w, r, h, apperrors.NewValidationError("Idempotency-Key is too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				WriteError(w, r, h, apperrors.NewValidationError("Invalid request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			id := IdentityFrom(r.Context())
			key := idempotency.GenerateKey(id.UserID, r.Method, r.URL.Path, clientKey)
			fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)

			result, err := manager.Execute(r.Context(), key, fingerprint, ttl, func(ctx context.Context) (*idempotency.Response, error) {
				rec := httptest.NewRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))

				for k, values := range rec.Header() {
					for _, v := range values {
						w.Header().Add(k, v)
					}
				}

				return &idempotency.Response{
					StatusCode:  rec.Code,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.Body.Bytes(),
				}, nil
			})
			switch {
			case errors.Is(err, idempotency.ErrRequestInProgress):
				WriteError(w, r, h, apperrors.NewConflictError("A request with this Idempotency-Key is still in progress"))
				return
			case errors.Is(err, idempotency.ErrKeyReused):
				WriteError(w, r, h, apperrors.NewValidationError("Idempotency-Key was already used for a different request"))
				return
			case err != nil:
				logger.FromContext(r.Context(), log).Error("idempotent request failed", slog.Any("error", err))
				WriteError(w, r, h, apperrors.NewInternalError(err))
				return
			}

			resp := result.Response
			if result.FromCache {
				w.Header().Set(ReplayedHeader, "true")
				if resp.ContentType != "" {
					w.Header().Set("Content-Type", resp.ContentType)
				}
			}
			w.WriteHeader(resp.StatusCode)
			_, _ = w.Write(resp.Body)
		})
	}
}
