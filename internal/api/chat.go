package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/meghx-ai/meghx/internal/chat"
	"github.com/meghx-ai/meghx/internal/expense"
	"github.com/meghx-ai/meghx/internal/llm"
)

// TurnEngine runs one conversation turn to completion.
type TurnEngine interface {
	Turn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

// TurnStreamer delivers a turn as an incremental event sequence.
type TurnStreamer interface {
	Stream(ctx context.Context, req chat.TurnRequest) <-chan chat.Event
}

// ChatHandler serves the turn endpoints.
type ChatHandler struct {
	engine   TurnEngine
	streamer TurnStreamer
	validate *validator.Validate
}

// NewChatHandler creates the chat handler.
func NewChatHandler(engine TurnEngine, streamer TurnStreamer) *ChatHandler {
	return &ChatHandler{
		engine:   engine,
		streamer: streamer,
		validate: validator.New(),
	}
}

// ChatRequest is one inbound user turn. History is the client-held
// conversation so far; the server keeps no per-connection session.
type ChatRequest struct {
	UserID   int64         `json:"user_id" validate:"required,gt=0"`
	ThreadID string        `json:"thread_id" validate:"required,max=128"`
	Message  string        `json:"message" validate:"required,max=8000"`
	History  []llm.Message `json:"history" validate:"max=200"`
}

// ChatResponse is the finalized turn outcome.
type ChatResponse struct {
	Content   string             `json:"content"`
	Intent    string             `json:"intent"`
	Interrupt *expense.Interrupt `json:"interrupt,omitempty"`
	Trace     []chat.Stage       `json:"trace,omitempty"`
	Degraded  bool               `json:"degraded,omitempty"`
}

func (h *ChatHandler) decode(r *http.Request) (chat.TurnRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return chat.TurnRequest{}, NewBadRequestError("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return chat.TurnRequest{}, NewValidationError(fmt.Sprintf("validation error: %v", err))
	}
	return chat.TurnRequest{
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		History:  req.History,
		Text:     req.Message,
	}, nil
}

// Turn handles POST /api/v1/chat.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	result, err := h.engine.Turn(r.Context(), req)
	if err != nil {
		slog.Error("turn failed", "thread_id", req.ThreadID, "error", err)
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, ChatResponse{
		Content:   result.Content,
		Intent:    string(result.Intent),
		Interrupt: result.Interrupt,
		Trace:     result.Trace,
		Degraded:  result.Degraded,
	})
}

// streamPayload is the SSE data frame. Err is flattened to a string so the
// frame stays JSON-serializable.
type streamPayload struct {
	Type      chat.EventType     `json:"type"`
	Token     string             `json:"token,omitempty"`
	Interrupt *expense.Interrupt `json:"interrupt,omitempty"`
	Stage     *chat.Stage        `json:"stage,omitempty"`
	Content   string             `json:"content,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Stream handles POST /api/v1/chat/stream as server-sent events.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		JSONErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range h.streamer.Stream(r.Context(), req) {
		payload := streamPayload{
			Type:      ev.Type,
			Token:     ev.Token,
			Interrupt: ev.Interrupt,
			Stage:     ev.Stage,
			Content:   ev.Content,
		}
		if ev.Err != nil {
			slog.Error("turn failed", "thread_id", req.ThreadID, "error", ev.Err)
			payload.Error = "internal server error"
		}

		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}
