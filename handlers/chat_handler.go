// Package handlers contains the HTTP handlers for the gateway API:
// chat completion (buffered and streaming), provider management, and
// health endpoints.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/manager"
	"github.com/switchboard-ai/switchboard/middleware"
	"github.com/switchboard-ai/switchboard/utils"
)

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	SystemPrompt string         `json:"system_prompt" validate:"required"`
	UserMessage  string         `json:"user_message" validate:"required"`
	TaskType     string         `json:"task_type,omitempty" validate:"omitempty,oneof=chat coding analysis creative extraction vision"`
	Options      map[string]any `json:"options,omitempty"`
}

// ChatResponse is the buffered chat reply.
type ChatResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
	CreatedAt int64  `json:"created_at"`
}

// ChatHandler handles chat completion requests.
type ChatHandler struct {
	manager *manager.Manager
	logger  observability.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(m *manager.Manager, logger observability.Logger) *ChatHandler {
	return &ChatHandler{manager: m, logger: logger}
}

// HandleChat handles POST /api/v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	text, err := h.manager.Chat(ctx, req.SystemPrompt, req.UserMessage, req.TaskType, req.Options)
	if err != nil {
		h.logger.Error(ctx, "chat completion failed", zap.Error(err))
		WriteProviderError(w, err)
		return
	}

	h.logger.Info(ctx, "chat completion successful",
		zap.String("task_type", req.TaskType))

	if err := utils.WriteOK(w, ChatResponse{
		RequestID: middleware.GetRequestIDFromContext(ctx),
		Response:  text,
		CreatedAt: time.Now().Unix(),
	}); err != nil {
		h.logger.Error(ctx, "failed to write response", zap.Error(err))
	}
}

// HandleChatStream handles POST /api/v1/chat/stream, relaying fragments
// to the client as server-sent events in arrival order.
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error(ctx, "response writer does not support streaming")
		_ = utils.WriteInternalServerError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	started := false
	onChunk := func(chunk string) {
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		payload, err := json.Marshal(map[string]string{"content": chunk})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	_, err := h.manager.ChatStream(ctx, req.SystemPrompt, req.UserMessage, req.TaskType, onChunk, req.Options)
	if err != nil {
		h.logger.Error(ctx, "chat stream failed",
			zap.Bool("partial", started),
			zap.Error(err))
		if !started {
			WriteProviderError(w, err)
			return
		}
		// headers are gone; report the failure inside the stream
		fmt.Fprintf(w, "data: {\"error\":%q}\n\n", err.Error())
		flusher.Flush()
		return
	}

	if !started {
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	h.logger.Info(ctx, "chat stream completed",
		zap.String("task_type", req.TaskType))
}

// decode parses and validates the chat payload, writing the error
// response itself when the payload is unusable.
func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request) (*ChatRequest, bool) {
	ctx := r.Context()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn(ctx, "failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return nil, false
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn(ctx, "request validation failed", zap.Error(err))
		HandleValidationError(w, err)
		return nil, false
	}
	return &req, true
}
