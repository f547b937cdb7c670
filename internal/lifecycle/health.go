package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/Proton-105/coinwatch/internal/health"
)

// ErrShuttingDown is reported by readiness once shutdown has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) (health.Report, error)
}

// Probes backs /healthz and /readyz with the component checker.
type Probes struct {
	log      *slog.Logger
	checker  *health.Checker
	draining atomic.Bool
}

// NewProbes creates a new Probes instance.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, checker: checker}
}

// Liveness reports success while the process can serve requests at all.
func (p *Probes) Liveness(context.Context) error {
	return nil
}

// Readiness runs component checks. It fails once Drain has been called or a
// critical component is down.
func (p *Probes) Readiness(ctx context.Context) (health.Report, error) {
	if p.draining.Load() {
		return health.Report{Status: health.StatusDown, Components: map[string]string{}}, ErrShuttingDown
	}

	if p.checker == nil {
		return health.Report{Status: health.StatusOK, Components: map[string]string{}}, nil
	}

	report := p.checker.Check(ctx)
	if !report.Ready() {
		p.log.Warn("readiness probe failed", slog.Any("components", report.Components))
		return report, errors.New("critical component unavailable")
	}
	return report, nil
}

// Drain flips readiness to failing so load balancers stop routing traffic.
func (p *Probes) Drain(context.Context) error {
	p.draining.Store(true)
	p.log.Info("readiness disabled for shutdown")
	return nil
}
