package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Total number of rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitRedisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_redis_errors_total",
		Help: "Total number of Redis errors encountered by the limiter.",
	})
)

// AdaptiveLimiter delegates to a primary (Redis) limiter and falls back to
// a stricter in-memory limiter when the primary fails. After a failure the
// primary is skipped for the retry interval.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
	retry    time.Duration

	mu          sync.Mutex
	bypassUntil time.Time
	now         func() time.Time
}

// NewAdaptiveLimiter creates a limiter that adapts between Redis and in-memory backends.
func NewAdaptiveLimiter(primary, fallback Limiter, retry time.Duration, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}
	if retry <= 0 {
		retry = 10 * time.Second
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
		retry:    retry,
		now:      time.Now,
	}
}

// Check evaluates the limit using the primary backend, falling back to memory on errors.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if a.primaryAvailable() {
		result, err := a.primary.Check(ctx, key, limit, window)
		if err == nil || errors.Is(err, ErrLimitExceeded) {
			return a.finish("redis", result)
		}

		rateLimitRedisErrorsTotal.Inc()
		a.markPrimaryDown()
		a.log.Warn("redis limiter failed, falling back to in-memory", slog.String("key", key), slog.Any("error", err))
	}

	fallbackLimit := limit / 2
	if fallbackLimit <= 0 {
		fallbackLimit = 1
	}

	result, err := a.fallback.Check(ctx, key, fallbackLimit, window)
	if err != nil && !errors.Is(err, ErrLimitExceeded) {
		return result, err
	}
	return a.finish("memory", result)
}

func (a *AdaptiveLimiter) finish(backend string, result *Result) (*Result, error) {
	rateLimitChecksTotal.WithLabelValues(backend, boolLabel(result.Allowed)).Inc()
	if !result.Allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

func (a *AdaptiveLimiter) primaryAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.now().Before(a.bypassUntil)
}

func (a *AdaptiveLimiter) markPrimaryDown() {
	a.mu.Lock()
	a.bypassUntil = a.now().Add(a.retry)
	a.mu.Unlock()
}

func boolLabel(value bool) string {
	if value {
		return "allowed"
	}
	return "rejected"
}
