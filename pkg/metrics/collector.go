// Package metrics registers the Prometheus series exported by coinwatch.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests labeled by route and status code",
		},
		[]string{"route", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	rewardClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_claims_total",
			Help: "Reward claim attempts labeled by reward type and result",
		},
		[]string{"type", "result"},
	)
	coinsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coins_awarded_total",
			Help: "Coins credited through reward claims",
		},
		[]string{"type"},
	)
	videoSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_submissions_total",
			Help: "Video submission attempts labeled by result",
		},
		[]string{"result"},
	)
	moderationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_transitions_total",
			Help: "Total number of moderation status transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Current number of live login sessions",
		},
	)
	videosByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "videos_by_status",
			Help: "Number of submitted videos per moderation status",
		},
		[]string{"status"},
	)
)

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordHTTPRequest counts a served request and its latency.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	route = orUnknown(route)
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordClaim counts a claim attempt; amount is added to the awarded total on success.
func RecordClaim(rewardType, result string, amount int64) {
	rewardType = orUnknown(rewardType)
	rewardClaimsTotal.WithLabelValues(rewardType, orUnknown(result)).Inc()
	if result == "ok" && amount > 0 {
		coinsAwardedTotal.WithLabelValues(rewardType).Add(float64(amount))
	}
}

func RecordSubmission(result string) {
	videoSubmissionsTotal.WithLabelValues(orUnknown(result)).Inc()
}

// RecordModerationTransition tracks moderation status changes.
func RecordModerationTransition(from, to string) {
	moderationTransitionsTotal.WithLabelValues(orUnknown(from), orUnknown(to)).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	errorsTotal.WithLabelValues(orUnknown(code), orUnknown(severity)).Inc()
}

func SetActiveSessions(count int64) {
	activeSessions.Set(float64(count))
}

func SetVideosByStatus(status string, count int64) {
	videosByStatus.WithLabelValues(orUnknown(status)).Set(float64(count))
}

// StatusCounter reports how many videos sit in each moderation status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector periodically refreshes the gauges that are derived from storage.
type Collector struct {
	videos   StatusCounter
	sessions SessionCounter
	interval time.Duration
	log      *slog.Logger
}

// NewCollector builds a gauge collector. Either source may be nil.
func NewCollector(videos StatusCounter, sessions SessionCounter, interval time.Duration, log *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Collector{videos: videos, sessions: sessions, interval: interval, log: log}
}

// Run refreshes gauges every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect performs a single refresh.
func (c *Collector) Collect(ctx context.Context) {
	if c.videos != nil {
		counts, err := c.videos.CountByStatus(ctx)
		if err != nil {
			c.log.Warn("collect video status counts", slog.Any("error", err))
		} else {
			videosByStatus.Reset()
			for status, count := range counts {
				SetVideosByStatus(status, count)
			}
		}
	}

	if c.sessions != nil {
		count, err := c.sessions.Count(ctx)
		if err != nil {
			c.log.Warn("collect session count", slog.Any("error", err))
			return
		}
		SetActiveSessions(count)
	}
}
