package database

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrInvalidEmbedding is returned for empty, non-finite or zero-norm embeddings.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrDimensionMismatch is returned when an embedding does not match the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// IdentityReader provides read-only access to registered identities
type IdentityReader interface {
	// Get retrieves an identity by user id, returns nil if not found
	Get(ctx context.Context, userID string) (*IdentityRecord, error)
	// List returns all identities ordered by user id
	List(ctx context.Context) ([]IdentityRecord, error)
	// Count returns the number of identities stored
	Count(ctx context.Context) (int, error)
	// Search returns up to topK identities ordered by descending similarity.
	// An empty store yields an empty slice and no error.
	Search(ctx context.Context, embedding []float32, topK int) ([]IdentityMatch, error)
}

// IdentityWriter provides write access to registered identities
type IdentityWriter interface {
	IdentityReader

	// Upsert stores the embedding for userID, overwriting an existing one.
	// created_at of an existing identity is preserved.
	Upsert(ctx context.Context, userID string, embedding []float32) error
	// Delete removes an identity, returns false if it did not exist
	Delete(ctx context.Context, userID string) (bool, error)
	// Clear removes all identities
	Clear(ctx context.Context) error
}

// ChatHistoryReader provides read-only access to conversation history
type ChatHistoryReader interface {
	// History returns up to limit most recent turns of a session, oldest first
	History(ctx context.Context, sessionID string, limit int) ([]ChatTurn, error)
	// Sessions lists known sessions, most recently active first
	Sessions(ctx context.Context) ([]ChatSession, error)
}

// ChatHistoryWriter provides write access to conversation history
type ChatHistoryWriter interface {
	ChatHistoryReader

	// Append stores one turn, assigning ID and CreatedAt when empty
	Append(ctx context.Context, turn ChatTurn) (ChatTurn, error)
	// ClearSession removes all turns of a session
	ClearSession(ctx context.Context, sessionID string) error
}

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

// BestMatch returns the single closest identity, or nil for an empty store.
func BestMatch(ctx context.Context, r IdentityReader, embedding []float32) (*IdentityMatch, error) {
	matches, err := r.Search(ctx, embedding, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// ValidateEmbedding rejects embeddings that cannot be compared by cosine distance.
func ValidateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return ErrInvalidEmbedding
	}
	var norm float64
	for _, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidEmbedding
		}
		norm += f * f
	}
	if norm == 0 {
		return ErrInvalidEmbedding
	}
	return nil
}
