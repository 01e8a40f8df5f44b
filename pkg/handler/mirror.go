package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"sftpmirror/internal/run"
	"sftpmirror/pkg/config"
	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/mirror"
	"sftpmirror/pkg/state"
	"sftpmirror/pkg/task"
)

// RunStore is the part of state.Store the handler needs.
type RunStore interface {
	AcquireLock(ctx context.Context, owner string) (func(context.Context) error, error)
	SaveSummary(ctx context.Context, summary *mirror.Summary) error
}

type ExecuteFunc func(ctx context.Context, cfg *config.Config) (*mirror.Summary, error)

type MirrorHandler struct {
	config  *config.Config
	store   RunStore
	execute ExecuteFunc
	logger  *logger.Logger
	now     func() time.Time
}

func NewMirrorHandler(config *config.Config, store RunStore, execute ExecuteFunc, logger *logger.Logger) *MirrorHandler {
	return &MirrorHandler{
		config:  config,
		store:   store,
		execute: execute,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessTask runs one mirror pass. Only a malformed payload fails the task:
// a failed run is recorded in the summary and the task result and the task
// completes, which releases its unique lock for the next tick.
func (h *MirrorHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload task.MirrorRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal mirror payload: %v: %w", err, asynq.SkipRetry)
	}

	received := h.now().UTC()
	owner, ok := asynq.GetTaskID(ctx)
	if !ok {
		owner = fmt.Sprintf("%s@%s", payload.Trigger, received.Format("20060102T150405Z"))
	}

	release, err := h.store.AcquireLock(ctx, owner)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			h.logger.Warn("skipping mirror run, another run holds the lock", map[string]any{
				"trigger": payload.Trigger,
			})
			return nil
		}
		h.logger.Error("failed to acquire run lock", err, map[string]any{
			"trigger": payload.Trigger,
		})
		h.writeResult(t, task.MirrorRunResult{ExitCode: run.ExitInternal, Error: err.Error()})
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Error("failed to release run lock", err, nil)
		}
	}()

	h.logger.Info("starting mirror run", map[string]any{
		"trigger":     payload.Trigger,
		"received_at": received,
	})

	summary, runErr := h.execute(ctx, h.config)
	code := run.ExitCode(summary, runErr)

	result := task.MirrorRunResult{ExitCode: code}
	if summary != nil {
		if err := h.store.SaveSummary(context.WithoutCancel(ctx), summary); err != nil {
			h.logger.Error("failed to save run summary", err, map[string]any{
				"run_id": summary.RunID,
			})
		}
		result.RunID = summary.RunID
		result.Status = string(summary.Status)
		result.Copied = summary.Copied
		result.Failed = summary.Failed
		result.Duration = summary.Duration().String()
	}
	if runErr != nil {
		result.Error = runErr.Error()
		h.logger.Error("mirror run failed", runErr, map[string]any{
			"trigger":   payload.Trigger,
			"exit_code": code,
		})
	}
	h.writeResult(t, result)

	h.logger.Info("mirror run finished", map[string]any{
		"trigger":   payload.Trigger,
		"exit_code": code,
	})
	return nil
}

func (h *MirrorHandler) writeResult(t *asynq.Task, result task.MirrorRunResult) {
	w := t.ResultWriter()
	if w == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write task result", map[string]any{"error": err.Error()})
	}
}
