// Package jobs runs background work on asynq: decision notifications and
// periodic moderation statistics.
package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/coinwatch/internal/moderation"
	"github.com/Proton-105/coinwatch/pkg/logger"
)

// Enqueuer is the subset of asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Manager describes the minimal queue operations needed by the application.
type Manager interface {
	moderation.Notifier
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type manager struct {
	client Enqueuer
	closer func() error
	log    *slog.Logger
}

// NewManager builds a Manager backed by an asynq client.
func NewManager(redisOpt asynq.RedisConnOpt, log *slog.Logger) Manager {
	client := asynq.NewClient(redisOpt)
	return newManager(client, client.Close, log)
}

func newManager(client Enqueuer, closer func() error, log *slog.Logger) *manager {
	if log == nil {
		log = slog.Default()
	}
	return &manager{client: client, closer: closer, log: log}
}

func (m *manager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return m.client.EnqueueContext(ctx, task, opts...)
}

// NotifyDecision queues a notification for the submitter. A decision that
// is already queued is not an error.
func (m *manager) NotifyDecision(ctx context.Context, d moderation.Decision) error {
	task, err := NewModerationNotifyTask(d)
	if err != nil {
		return err
	}

	info, err := m.Enqueue(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}

	logger.FromContext(ctx, m.log).Debug("decision notification queued",
		slog.String("task_id", info.ID),
		slog.Int64("video_id", d.VideoID),
	)
	return nil
}

func (m *manager) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
