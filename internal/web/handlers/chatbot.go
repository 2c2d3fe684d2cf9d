package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/chat"
	"github.com/kozaktomas/candy-kiosk/internal/database"
)

// ChatService runs conversations.
type ChatService interface {
	Chat(ctx context.Context, sessionID, message string) (chat.Reply, error)
	Clear(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string, limit int) ([]database.ChatTurn, error)
	Sessions(ctx context.Context) ([]database.ChatSession, error)
}

// ChatbotHandler handles chatbot endpoints.
type ChatbotHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatbotHandler creates a new chatbot handler.
func NewChatbotHandler(service ChatService, logger *zap.Logger) *ChatbotHandler {
	return &ChatbotHandler{service: service, logger: logger}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Chat answers one user message.
func (h *ChatbotHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	reply, err := h.service.Chat(r.Context(), req.SessionID, req.Message)
	if errors.Is(err, chat.ErrEmptyMessage) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("chat failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "chat failed")
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// Clear removes the history of a session.
func (h *ChatbotHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if err := h.service.Clear(r.Context(), sessionID); err != nil {
		h.logger.Error("failed to clear chat", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to clear chat history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "chat history cleared"})
}

// History returns recent turns of a session.
func (h *ChatbotHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	turns, err := h.service.History(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		h.logger.Error("failed to load chat history", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"history": turns,
		"count":   len(turns),
	})
}

// Sessions lists known conversations.
func (h *ChatbotHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.Sessions(r.Context())
	if err != nil {
		h.logger.Error("failed to list chat sessions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list chat sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
