package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/ksuid"

	"github.com/kozaktomas/candy-kiosk/internal/database"
)

// ChatHistory keeps conversation turns per session in memory.
type ChatHistory struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	maxTurns int
	sessions map[string]*chatSession
}

type chatSession struct {
	created time.Time
	turns   []database.ChatTurn
}

// NewChatHistory creates a history store keeping at most maxTurns per session
// (0 keeps everything).
func NewChatHistory(clock clockwork.Clock, maxTurns int) *ChatHistory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ChatHistory{
		clock:    clock,
		maxTurns: maxTurns,
		sessions: make(map[string]*chatSession),
	}
}

func (h *ChatHistory) History(ctx context.Context, sessionID string, limit int) ([]database.ChatTurn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return []database.ChatTurn{}, nil
	}
	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

func (h *ChatHistory) Sessions(ctx context.Context) ([]database.ChatSession, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]database.ChatSession, 0, len(h.sessions))
	for id, s := range h.sessions {
		cs := database.ChatSession{SessionID: id, CreatedAt: s.created, LastActive: s.created, Turns: len(s.turns)}
		if n := len(s.turns); n > 0 {
			cs.LastActive = s.turns[n-1].CreatedAt
		}
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

func (h *ChatHistory) Append(ctx context.Context, turn database.ChatTurn) (database.ChatTurn, error) {
	now := h.clock.Now()
	if turn.ID == "" {
		turn.ID = ksuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[turn.SessionID]
	if !ok {
		s = &chatSession{created: now}
		h.sessions[turn.SessionID] = s
	}
	s.turns = append(s.turns, turn)
	if h.maxTurns > 0 && len(s.turns) > h.maxTurns {
		s.turns = slices.Clone(s.turns[len(s.turns)-h.maxTurns:])
	}
	return turn, nil
}

func (h *ChatHistory) ClearSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
	return nil
}
