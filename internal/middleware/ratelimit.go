package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/ratelimit"
	"github.com/Proton-105/coinwatch/pkg/config"
	"github.com/Proton-105/coinwatch/pkg/logger"
)

// RateLimitMiddleware enforces per-user or per-address limits on HTTP routes.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	errors  ErrorHandler
	log     *slog.Logger
	now     func() time.Time
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, h ErrorHandler, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		errors:  h,
		log:     log,
		now:     time.Now,
	}
}

// Global applies the global limit per client and the per-user limit per signed-in user.
func (m *RateLimitMiddleware) Global(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rule, ok := m.rules.GlobalLimit(); ok {
			if !m.allow(w, r, "global:"+m.clientKey(r), rule) {
				return
			}
		}
		if rule, ok := m.rules.PerUserLimit(); ok {
			if id := IdentityFrom(r.Context()); id.Authenticated() {
				if !m.allow(w, r, fmt.Sprintf("user:%d", id.UserID), rule) {
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Route applies the limit configured for the named route.
func (m *RateLimitMiddleware) Route(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		rule, ok := m.rules.RouteLimit(route)
		if !ok {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.allow(w, r, route+":"+m.clientKey(r), rule) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// allow reports whether the request may proceed and writes the 429 otherwise.
// Limiter failures let the request through.
func (m *RateLimitMiddleware) allow(w http.ResponseWriter, r *http.Request, key string, rule config.LimitConfig) bool {
	if m.limiter == nil || !m.rules.Enabled() {
		return true
	}

	id := IdentityFrom(r.Context())
	if m.rules.IsWhitelisted(id.UserID) {
		return true
	}

	result, err := m.limiter.Check(r.Context(), key, rule.Requests, rule.Window)
	if err != nil && result == nil {
		logger.FromContext(r.Context(), m.log).Warn("rate limiter error", slog.String("key", key), slog.Any("error", err))
		return true
	}

	if !result.Allowed {
		logger.FromContext(r.Context(), m.log).Warn("rate limit exceeded",
			slog.String("key", key),
			slog.Int64("user_id", id.UserID),
		)
		WriteError(w, r, m.errors, apperrors.NewRateLimitError(result.RetryAfter(m.now())))
		return false
	}

	return true
}

// clientKey identifies the caller: the user id when signed in, the client address otherwise.
func (m *RateLimitMiddleware) clientKey(r *http.Request) string {
	if id := IdentityFrom(r.Context()); id.Authenticated() {
		return fmt.Sprintf("user:%d", id.UserID)
	}
	return "ip:" + ClientIP(r, m.rules)
}

// ClientIP returns the address of the caller. X-Forwarded-For is only read
// when the connection comes from a trusted proxy; its hops are walked from
// the right and the first untrusted one is the client.
func ClientIP(r *http.Request, rules *ratelimit.Rules) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !rules.TrustsProxy(remote) {
		return remote
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			return remote
		}
		if !rules.TrustsProxy(hop) {
			return hop
		}
		remote = hop
	}
	return remote
}
