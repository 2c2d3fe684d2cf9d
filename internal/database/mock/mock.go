// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

// MockIdentityStore is a mock implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*database.IdentityRecord

	// Error injection
	GetError    error
	ListError   error
	CountError  error
	SearchError error
	UpsertError error
	DeleteError error
	ClearError  error

	// Call tracking
	UpsertCalls []UpsertCall
	SearchCalls int
	ClearCalls  int
}

// UpsertCall records a call to Upsert
type UpsertCall struct {
	UserID    string
	Embedding []float32
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]*database.IdentityRecord),
	}
}

// AddIdentity adds an identity to the mock store
func (m *MockIdentityStore) AddIdentity(userID string, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.identities[userID] = &database.IdentityRecord{
		UserID:    userID,
		Embedding: slices.Clone(embedding),
		Dim:       len(embedding),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get retrieves an identity by user id
func (m *MockIdentityStore) Get(ctx context.Context, userID string) (*database.IdentityRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.identities[userID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// List returns all identities ordered by user id
func (m *MockIdentityStore) List(ctx context.Context) ([]database.IdentityRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.IdentityRecord, 0, len(m.identities))
	for _, rec := range m.identities {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Count returns the number of identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// Search performs a brute-force similarity search
func (m *MockIdentityStore) Search(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	m.mu.Lock()
	m.SearchCalls++
	m.mu.Unlock()

	if m.SearchError != nil {
		return nil, m.SearchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]database.IdentityMatch, 0, len(m.identities))
	for _, rec := range m.identities {
		matches = append(matches, database.IdentityMatch{
			UserID:     rec.UserID,
			Similarity: facematch.Similarity(embedding, rec.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Upsert stores an identity, preserving created_at
func (m *MockIdentityStore) Upsert(ctx context.Context, userID string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertCall{UserID: userID, Embedding: slices.Clone(embedding)})
	if m.UpsertError != nil {
		return m.UpsertError
	}

	now := time.Now()
	created := now
	if existing, ok := m.identities[userID]; ok {
		created = existing.CreatedAt
	}
	m.identities[userID] = &database.IdentityRecord{
		UserID:    userID,
		Embedding: slices.Clone(embedding),
		Dim:       len(embedding),
		CreatedAt: created,
		UpdatedAt: now,
	}
	return nil
}

// Delete removes an identity
func (m *MockIdentityStore) Delete(ctx context.Context, userID string) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[userID]; !ok {
		return false, nil
	}
	delete(m.identities, userID)
	return true, nil
}

// Clear removes all identities
func (m *MockIdentityStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCalls++
	if m.ClearError != nil {
		return m.ClearError
	}
	m.identities = make(map[string]*database.IdentityRecord)
	return nil
}

// GetUpsertCalls returns a copy of recorded Upsert calls
func (m *MockIdentityStore) GetUpsertCalls() []UpsertCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.UpsertCalls)
}

// MockChatHistory is a mock implementation of database.ChatHistoryWriter
type MockChatHistory struct {
	mu    sync.RWMutex
	turns map[string][]database.ChatTurn
	seq   int

	// Error injection
	HistoryError  error
	SessionsError error
	AppendError   error
	ClearError    error
}

// NewMockChatHistory creates a new mock chat history
func NewMockChatHistory() *MockChatHistory {
	return &MockChatHistory{
		turns: make(map[string][]database.ChatTurn),
	}
}

// History returns up to limit most recent turns, oldest first
func (m *MockChatHistory) History(ctx context.Context, sessionID string, limit int) ([]database.ChatTurn, error) {
	if m.HistoryError != nil {
		return nil, m.HistoryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

// Sessions lists sessions with at least one turn
func (m *MockChatHistory) Sessions(ctx context.Context) ([]database.ChatSession, error) {
	if m.SessionsError != nil {
		return nil, m.SessionsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.ChatSession, 0, len(m.turns))
	for id, turns := range m.turns {
		if len(turns) == 0 {
			continue
		}
		out = append(out, database.ChatSession{
			SessionID:  id,
			CreatedAt:  turns[0].CreatedAt,
			LastActive: turns[len(turns)-1].CreatedAt,
			Turns:      len(turns),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Append stores a turn
func (m *MockChatHistory) Append(ctx context.Context, turn database.ChatTurn) (database.ChatTurn, error) {
	if m.AppendError != nil {
		return database.ChatTurn{}, m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if turn.ID == "" {
		turn.ID = "turn-" + strconv.Itoa(m.seq)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], turn)
	return turn, nil
}

// ClearSession removes all turns of a session
func (m *MockChatHistory) ClearSession(ctx context.Context, sessionID string) error {
	if m.ClearError != nil {
		return m.ClearError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, sessionID)
	return nil
}
