package database

import (
	"time"
)

// IdentityRecord is a registered user's face embedding.
type IdentityRecord struct {
	UserID    string    `json:"user_id" cbor:"1,keyasint"`
	Embedding []float32 `json:"-" cbor:"2,keyasint"`
	Dim       int       `json:"dim" cbor:"3,keyasint"`
	CreatedAt time.Time `json:"created_at" cbor:"4,keyasint"`
	UpdatedAt time.Time `json:"updated_at" cbor:"5,keyasint"`
}

// IdentityMatch is a search hit with similarity in [0,1], higher is closer.
type IdentityMatch struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

// ChatTurn is one user message and the generated reply.
type ChatTurn struct {
	ID          string    `json:"id" db:"id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	UserMessage string    `json:"user_message" db:"user_message"`
	AIResponse  string    `json:"ai_response" db:"ai_response"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ChatSession summarizes a conversation.
type ChatSession struct {
	SessionID  string    `json:"session_id" db:"session_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastActive time.Time `json:"last_active" db:"last_active"`
	Turns      int       `json:"turns" db:"turns"`
}
