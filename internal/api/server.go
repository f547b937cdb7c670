// Package api exposes the coinwatch HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/idempotency"
	"github.com/Proton-105/coinwatch/internal/ledger"
	"github.com/Proton-105/coinwatch/internal/lifecycle"
	"github.com/Proton-105/coinwatch/internal/middleware"
	"github.com/Proton-105/coinwatch/internal/moderation"
	"github.com/Proton-105/coinwatch/internal/ratelimit"
	"github.com/Proton-105/coinwatch/internal/submission"
	"github.com/Proton-105/coinwatch/internal/telegram"
	"github.com/Proton-105/coinwatch/internal/user"
	"github.com/Proton-105/coinwatch/pkg/config"
	"github.com/Proton-105/coinwatch/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Services are the domain services behind the routes. Telegram may be nil
// when Telegram login is disabled.
type Services struct {
	Users       *user.Service
	Ledger      *ledger.Service
	Submissions *submission.Service
	Moderation  *moderation.Service
	Telegram    *telegram.Validator
}

// Options carry the HTTP-level knobs and optional infrastructure. Nil
// RateLimit, Idempotency or Probes disable the corresponding feature.
type Options struct {
	Auth           config.AuthConfig
	Metrics        config.MetricsConfig
	IdempotencyTTL time.Duration
	RateLimit      *middleware.RateLimitMiddleware
	Idempotency    idempotency.Manager
	Probes         lifecycle.HealthChecker
	Errors         *apperrors.Handler
}

// Server routes HTTP requests to the domain services.
type Server struct {
	svc  Services
	opts Options
	log  *slog.Logger
	mux  *http.ServeMux
}

// handlerFunc is an HTTP handler whose error is rendered by the server.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// NewServer wires every route.
func NewServer(svc Services, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.Errors == nil {
		opts.Errors = apperrors.NewHandler(log, false)
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}

	s := &Server{svc: svc, opts: opts, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the root handler with the request-wide middleware applied.
func (s *Server) Handler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		logger.Middleware,
		middleware.Logging(s.log),
		middleware.Recover(s.opts.Errors, s.log),
		middleware.Session(s.svc.Users, s.opts.Auth.CookieName, s.opts.Errors, s.log),
	}
	if s.opts.RateLimit != nil {
		chain = append(chain, s.opts.RateLimit.Global)
	}
	return middleware.Chain(s.mux, chain...)
}

type access int

const (
	public access = iota
	signedIn
	adminOnly
)

type route struct {
	access     access
	limit      string
	idempotent bool
}

func (s *Server) routes() {
	s.handle("POST /signup", route{limit: ratelimit.RouteLogin}, s.signup)
	s.handle("POST /login", route{limit: ratelimit.RouteLogin}, s.login)
	s.handle("POST /logout", route{access: signedIn}, s.logout)
	s.handle("GET /user", route{}, s.currentUser)
	s.handle("GET /users", route{}, s.listUsers)
	s.handle("POST /profile/update", route{access: signedIn}, s.updateProfile)
	s.handle("POST /auth/telegram", route{limit: ratelimit.RouteLogin}, s.telegramLogin)

	s.handle("POST /rewards/claim", route{access: signedIn, limit: ratelimit.RouteClaim, idempotent: true}, s.claimReward)
	s.handle("GET /watch-data", route{access: signedIn}, s.watchData)
	s.handle("POST /videos/submit", route{access: signedIn, limit: ratelimit.RouteSubmit, idempotent: true}, s.submitVideo)

	s.handle("GET /admin/data", route{access: adminOnly}, s.adminData)
	s.handle("POST /admin/update-video-status", route{access: adminOnly, idempotent: true}, s.updateVideoStatus)
	s.handle("POST /admin/adjust-coins", route{access: adminOnly, idempotent: true}, s.adjustCoins)

	s.handle("GET /healthz", route{}, s.healthz)
	s.handle("GET /readyz", route{}, s.readyz)

	if s.opts.Metrics.Enabled {
		path := s.opts.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, promhttp.Handler())
	}
}

func (s *Server) handle(pattern string, rt route, fn handlerFunc) {
	mws := []func(http.Handler) http.Handler{middleware.Metrics(pattern)}

	switch rt.access {
	case signedIn:
		mws = append(mws, middleware.RequireUser(s.opts.Errors))
	case adminOnly:
		mws = append(mws, middleware.RequireAdmin(s.opts.Errors))
	}
	if rt.limit != "" && s.opts.RateLimit != nil {
		mws = append(mws, s.opts.RateLimit.Route(rt.limit))
	}
	if rt.idempotent {
		mws = append(mws, middleware.Idempotency(s.opts.Idempotency, s.opts.IdempotencyTTL, s.opts.Errors, s.log))
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			middleware.WriteError(w, r, s.opts.Errors, err)
		}
	})

	s.mux.Handle(pattern, middleware.Chain(h, mws...))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("Request body is required")
		}
		return apperrors.NewValidationError("Invalid request body")
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) error {
	if s.opts.Probes != nil {
		if err := s.opts.Probes.Liveness(r.Context()); err != nil {
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
			return nil
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) error {
	if s.opts.Probes == nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report, err := s.opts.Probes.Readiness(ctx)
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, report)
	return nil
}
