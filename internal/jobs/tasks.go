package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/coinwatch/internal/moderation"
)

const (
	TaskTypeModerationNotify = "moderation:notify"
	TaskTypeQueueStats       = "moderation:queue-stats"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueues weights the queues when none are configured.
var DefaultQueues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// NewModerationNotifyTask builds the task that tells a submitter about a review decision.
// The task id makes repeated enqueues of one decision collapse into one.
func NewModerationNotifyTask(d moderation.Decision) (*asynq.Task, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeModerationNotify, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.TaskID(fmt.Sprintf("notify:%d:%s", d.VideoID, d.Status)),
	), nil
}

// ParseModerationNotify decodes the payload of a notify task.
func ParseModerationNotify(t *asynq.Task) (moderation.Decision, error) {
	var d moderation.Decision
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return d, fmt.Errorf("decode %s payload: %w: %w", t.Type(), err, asynq.SkipRetry)
	}
	return d, nil
}

// NewQueueStatsTask builds the periodic task that refreshes moderation gauges.
func NewQueueStatsTask() *asynq.Task {
	return asynq.NewTask(TaskTypeQueueStats, nil,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
	)
}
