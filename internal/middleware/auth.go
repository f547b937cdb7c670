package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/pkg/logger"
)

type identityKey struct{}

// Authenticator resolves a session token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by Session, or the anonymous identity.
func IdentityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}

// Session resolves the session cookie and stores the caller's identity in the
// request context. Requests without a valid session continue anonymously.
func Session(auth Authenticator, cookieName string, h ErrorHandler, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := auth.Authenticate(r.Context(), cookie.Value)
			if err != nil {
				logger.FromContext(r.Context(), log).Error("session lookup failed", slog.Any("error", err))
				WriteError(w, r, h, apperrors.NewInternalError(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireUser rejects anonymous callers with 401.
func RequireUser(h ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFrom(r.Context()).Authenticated() {
				WriteError(w, r, h, apperrors.NewUnauthorizedError("Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects anonymous callers with 401 and non-admins with 403.
func RequireAdmin(h ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			switch {
			case !id.Authenticated():
				WriteError(w, r, h, apperrors.NewUnauthorizedError("Unauthorized"))
			case !id.IsAdmin:
				WriteError(w, r, h, apperrors.NewForbiddenError("admin role required"))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
