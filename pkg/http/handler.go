package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"

	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/metrics"
	"sftpmirror/pkg/mirror"
	"sftpmirror/pkg/publisher"
	"sftpmirror/pkg/task"
)

type Publisher interface {
	PublishMirrorRun(trigger string) (*asynq.TaskInfo, error)
}

type StatusSource interface {
	LastSummary(ctx context.Context) (*mirror.Summary, error)
	LockOwner(ctx context.Context) (string, error)
}

type HTTPHandler struct {
	publisher Publisher
	status    StatusSource
	logger    *logger.Logger
}

type PublishResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type StatusResponse struct {
	Running     bool            `json:"running"`
	LockOwner   string          `json:"lock_owner,omitempty"`
	LastSummary *mirror.Summary `json:"last_summary"`
}

func NewHTTPHandler(publisher Publisher, status StatusSource, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		publisher: publisher,
		status:    status,
		logger:    logger,
	}
}

func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/publish", h.PublishHandler)
	mux.HandleFunc("/status", h.StatusHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (h *HTTPHandler) PublishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	info, err := h.publisher.PublishMirrorRun(task.TriggerHTTP)
	if err != nil {
		if errors.Is(err, publisher.ErrAlreadyQueued) {
			h.sendErrorResponse(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to publish task", err, nil)
		h.sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("task published via HTTP", map[string]any{
		"task_id": info.ID,
	})

	h.sendJSON(w, http.StatusAccepted, PublishResponse{
		Success: true,
		Message: "mirror run queued",
		TaskID:  info.ID,
	})
}

func (h *HTTPHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	owner, err := h.status.LockOwner(r.Context())
	if err != nil {
		h.logger.Error("failed to read run lock", err, nil)
		h.sendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	summary, err := h.status.LastSummary(r.Context())
	if err != nil {
		h.logger.Error("failed to read last summary", err, nil)
		h.sendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.sendJSON(w, http.StatusOK, StatusResponse{
		Running:     owner != "",
		LockOwner:   owner,
		LastSummary: summary,
	})
}

func (h *HTTPHandler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, PublishResponse{
		Success: false,
		Error:   message,
	})
}

func (h *HTTPHandler) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", err, nil)
	}
}
