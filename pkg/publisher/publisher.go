package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sftpmirror/pkg/config"
	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/task"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a run is already waiting in the queue.
var ErrAlreadyQueued = errors.New("a mirror run is already queued")

type Publisher struct {
	client *asynq.Client
	config *config.Config
}

func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewPublisher(config *config.Config) (*Publisher, error) {
	client := asynq.NewClient(RedisOpt(&config.Redis))

	return &Publisher{
		client: client,
		config: config,
	}, nil
}

func (p *Publisher) Close() {
	_ = p.client.Close()
}

// TaskOptions are shared by published and scheduled runs. Retries are left to
// the next scheduled run. The unique lock is dropped by asynq once the handler
// returns nil, so the handler reports failed runs through the task result.
func TaskOptions(cfg *config.DaemonConfig) []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(time.Duration(cfg.RunTimeoutMinutes) * time.Minute),
		asynq.Unique(time.Duration(cfg.LockTTLMinutes) * time.Minute),
	}
}

// NewMirrorRunTask builds the task for trigger. Tasks for the same trigger
// are identical, which is what lets asynq.Unique reject a second one while
// the first is still queued or running.
func NewMirrorRunTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		return nil, fmt.Errorf("trigger is required")
	}

	payload := task.MirrorRunPayload{Trigger: trigger}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return asynq.NewTask(task.TaskTypeMirrorRun, payloadBytes), nil
}

func (p *Publisher) PublishMirrorRun(trigger string) (*asynq.TaskInfo, error) {
	t, err := NewMirrorRunTask(trigger)
	if err != nil {
		return nil, err
	}

	info, err := p.client.Enqueue(t, TaskOptions(&p.config.Daemon)...)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	logger.Info("task enqueued successfully", map[string]any{
		"task_id": info.ID,
		"queue":   info.Queue,
		"trigger": trigger,
	})
	return info, nil
}
