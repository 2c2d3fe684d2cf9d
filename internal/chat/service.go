package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/constants"
	"github.com/kozaktomas/candy-kiosk/internal/database"
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("message is empty")

// Dispatcher receives every generated reply.
type Dispatcher interface {
	DispatchIfOrder(text, sessionKey string) bool
}

// Config holds service settings.
type Config struct {
	SystemPrompt string
	// MaxHistory is how many past turns are sent to the provider.
	MaxHistory int
	// ErrorReply is returned to the user when generation fails.
	ErrorReply string
}

// Reply is the outcome of one chat turn.
type Reply struct {
	SessionID       string `json:"session_id"`
	Response        string `json:"response"`
	TurnID          string `json:"turn_id,omitempty"`
	OrderDispatched bool   `json:"order_dispatched"`
	Failed          bool   `json:"failed,omitempty"`
}

// Service runs conversations.
type Service struct {
	provider   Provider
	history    database.ChatHistoryWriter
	dispatcher Dispatcher
	cfg        Config
	logger     *zap.Logger
}

// NewService creates a chat Service.
func NewService(provider Provider, history database.ChatHistoryWriter, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:   provider,
		history:    history,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

func sessionOrDefault(sessionID string) string {
	if s := strings.TrimSpace(sessionID); s != "" {
		return s
	}
	return constants.DefaultChatSession
}

// Chat generates a reply to message in sessionID and stores the turn. A
// provider failure is not an error: the configured error reply is stored and
// returned instead. Successful replies are handed to the dispatcher.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	sessionID = sessionOrDefault(sessionID)

	turns, err := s.history.History(ctx, sessionID, s.cfg.MaxHistory)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]Message, 0, 2*len(turns))
	for _, t := range turns {
		history = append(history,
			Message{Role: RoleUser, Content: t.UserMessage},
			Message{Role: RoleAssistant, Content: t.AIResponse},
		)
	}

	reply := Reply{SessionID: sessionID}
	response, err := s.provider.Generate(ctx, s.cfg.SystemPrompt, history, message)
	if err != nil {
		s.logger.Error("failed to generate reply",
			zap.String("session_id", sessionID),
			zap.String("provider", s.provider.Name()),
			zap.Error(err))
		response = s.cfg.ErrorReply
		reply.Failed = true
	}
	reply.Response = response

	turn, err := s.history.Append(ctx, database.ChatTurn{
		SessionID:   sessionID,
		UserMessage: message,
		AIResponse:  response,
	})
	if err != nil {
		s.logger.Warn("failed to store chat turn", zap.String("session_id", sessionID), zap.Error(err))
	} else {
		reply.TurnID = turn.ID
	}

	if !reply.Failed && s.dispatcher != nil {
		reply.OrderDispatched = s.dispatcher.DispatchIfOrder(response, sessionID)
	}
	return reply, nil
}

// Clear removes the history of sessionID.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	sessionID = sessionOrDefault(sessionID)
	if err := s.history.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	s.logger.Info("chat history cleared", zap.String("session_id", sessionID))
	return nil
}

// History returns up to limit most recent turns of sessionID, oldest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]database.ChatTurn, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}
	return s.history.History(ctx, sessionOrDefault(sessionID), limit)
}

// Sessions lists known conversations.
func (s *Service) Sessions(ctx context.Context) ([]database.ChatSession, error) {
	return s.history.Sessions(ctx)
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// Usage returns the provider token usage.
func (s *Service) Usage() Usage {
	return s.provider.GetUsage()
}
