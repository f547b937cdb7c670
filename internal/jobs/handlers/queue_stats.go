package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// GaugeCollector refreshes storage-derived gauges.
type GaugeCollector interface {
	Collect(ctx context.Context)
}

// QueueStatsHandler refreshes the moderation queue depth and session gauges.
type QueueStatsHandler struct {
	collector GaugeCollector
	log       *slog.Logger
}

func NewQueueStatsHandler(collector GaugeCollector, log *slog.Logger) *QueueStatsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &QueueStatsHandler{collector: collector, log: log}
}

func (h *QueueStatsHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	h.collector.Collect(ctx)
	h.log.DebugContext(ctx, "queue stats refreshed",
		slog.String("task_type", t.Type()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
