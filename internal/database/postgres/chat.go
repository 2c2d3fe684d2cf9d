package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/kozaktomas/candy-kiosk/internal/database"
)

// ChatRepository provides PostgreSQL-backed conversation history
type ChatRepository struct {
	pool *Pool
}

// NewChatRepository creates a new PostgreSQL chat repository
func NewChatRepository(pool *Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// History returns up to limit most recent turns of a session, oldest first
func (r *ChatRepository) History(ctx context.Context, sessionID string, limit int) ([]database.ChatTurn, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, session_id, user_message, ai_response, created_at
		FROM (
			SELECT id, session_id, user_message, ai_response, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id
	`

	turns := []database.ChatTurn{}
	if err := r.pool.DBx().SelectContext(ctx, &turns, query, sessionID, limit); err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	return turns, nil
}

// Sessions lists known sessions, most recently active first
func (r *ChatRepository) Sessions(ctx context.Context) ([]database.ChatSession, error) {
	query := `
		SELECT s.session_id, s.created_at, s.last_active, COUNT(m.id) AS turns
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.session_id
		GROUP BY s.session_id, s.created_at, s.last_active
		ORDER BY s.last_active DESC
	`

	sessions := []database.ChatSession{}
	if err := r.pool.DBx().SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	return sessions, nil
}

// Append stores one turn and touches the session
func (r *ChatRepository) Append(ctx context.Context, turn database.ChatTurn) (database.ChatTurn, error) {
	if turn.ID == "" {
		turn.ID = ksuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := r.pool.DBx().BeginTxx(ctx, nil)
	if err != nil {
		return database.ChatTurn{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (session_id, created_at, last_active)
		VALUES ($1, $2, $2)
		ON CONFLICT (session_id) DO UPDATE SET last_active = EXCLUDED.last_active
	`, turn.SessionID, turn.CreatedAt)
	if err != nil {
		return database.ChatTurn{}, fmt.Errorf("touch chat session: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, user_message, ai_response, created_at)
		VALUES (:id, :session_id, :user_message, :ai_response, :created_at)
	`, turn)
	if err != nil {
		return database.ChatTurn{}, fmt.Errorf("insert chat message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return database.ChatTurn{}, fmt.Errorf("commit chat message: %w", err)
	}
	return turn, nil
}

// ClearSession removes a session and its turns
func (r *ChatRepository) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM chat_sessions WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("clear chat session: %w", err)
	}
	return nil
}
