package jobs

import (
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks(queueStatsSchedule string) error
	Start() error
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC}),
		log:            log,
	}
}

// RegisterTasks schedules the moderation queue statistics refresh. An empty
// schedule disables it.
func (s *scheduler) RegisterTasks(queueStatsSchedule string) error {
	if queueStatsSchedule == "" {
		return nil
	}

	entryID, err := s.asynqScheduler.Register(queueStatsSchedule, NewQueueStatsTask())
	if err != nil {
		return err
	}

	s.log.Info("scheduler: registered queue stats task",
		slog.String("schedule", queueStatsSchedule),
		slog.String("entry_id", entryID),
	)
	return nil
}

func (s *scheduler) Start() error {
	s.log.Info("scheduler: starting")
	return s.asynqScheduler.Start()
}

func (s *scheduler) Shutdown() {
	s.log.Info("scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
