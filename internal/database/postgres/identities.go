package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

// IdentityRepository provides PostgreSQL-backed identity storage with optional in-memory HNSW index
type IdentityRepository struct {
	pool          *Pool
	queryTimeout  time.Duration
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
// queryTimeout bounds each statement; zero leaves the caller's context as is.
func NewIdentityRepository(pool *Pool, queryTimeout time.Duration) *IdentityRepository {
	return &IdentityRepository{pool: pool, queryTimeout: queryTimeout}
}

func (r *IdentityRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Get retrieves an identity by user id, returns nil if not found
func (r *IdentityRepository) Get(ctx context.Context, userID string) (*database.IdentityRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, embedding, dim, created_at, updated_at
		FROM identities
		WHERE user_id = $1
	`

	var rec database.IdentityRecord
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&rec.UserID,
		&vec,
		&rec.Dim,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}

	rec.Embedding = vec.Slice()
	return &rec, nil
}

// List returns all identities ordered by user id
func (r *IdentityRepository) List(ctx context.Context) ([]database.IdentityRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, embedding, dim, created_at, updated_at
		FROM identities
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	records := []database.IdentityRecord{}
	for rows.Next() {
		var rec database.IdentityRecord
		var vec pgvector.Vector
		if err := rows.Scan(&rec.UserID, &vec, &rec.Dim, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		rec.Embedding = vec.Slice()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return records, nil
}

// Count returns the number of identities stored
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// Search finds the closest identities by cosine distance.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *IdentityRepository) Search(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	if topK <= 0 || len(embedding) == 0 {
		return []database.IdentityMatch{}, nil
	}

	r.hnswMu.RLock()
	idx := r.hnswIndex
	hnswEnabled := r.hnswEnabled && idx != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		return idx.Search(embedding, topK), nil
	}
	return r.searchPostgres(ctx, embedding, topK)
}

func (r *IdentityRepository) searchPostgres(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	// Only rows of the query's dimension are comparable; <=> errors on a mismatch.
	query := `
		SELECT user_id, embedding <=> $1::vector AS distance
		FROM identities
		WHERE dim = $2
		ORDER BY distance
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), len(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("query similar identities: %w", err)
	}
	defer rows.Close()

	matches := []database.IdentityMatch{}
	for rows.Next() {
		var m database.IdentityMatch
		var dist sql.NullFloat64
		if err := rows.Scan(&m.UserID, &dist); err != nil {
			return nil, fmt.Errorf("scan identity match: %w", err)
		}
		if !dist.Valid {
			continue // NaN distance for a zero vector
		}
		m.Similarity = facematch.DistanceToSimilarity(dist.Float64)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity matches: %w", err)
	}
	return matches, nil
}

// Upsert stores the embedding for userID, preserving created_at on conflict
func (r *IdentityRepository) Upsert(ctx context.Context, userID string, embedding []float32) error {
	if err := database.ValidateEmbedding(embedding); err != nil {
		return err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO identities (user_id, embedding, dim, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, query, userID, pgvector.NewVector(embedding), len(embedding)).Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}

	r.hnswMu.RLock()
	idx := r.hnswIndex
	r.hnswMu.RUnlock()
	if idx != nil {
		if err := idx.Put(database.IdentityRecord{
			UserID:    userID,
			Embedding: embedding,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}); err != nil {
			// The row is stored; rebuild the mirror from the table.
			r.pool.logger.Warn("HNSW mirror rejected identity, rebuilding", zap.String("user_id", userID), zap.Error(err))
			if rerr := r.RebuildHNSW(context.WithoutCancel(ctx)); rerr != nil {
				return fmt.Errorf("rebuild HNSW index: %w", rerr)
			}
		}
	}
	return nil
}

// Delete removes an identity, returns false if it did not exist
func (r *IdentityRepository) Delete(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE user_id = $1", userID)
	if err != nil {
		return false, fmt.Errorf("delete identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete identity rows affected: %w", err)
	}

	r.hnswMu.RLock()
	if r.hnswIndex != nil {
		r.hnswIndex.Delete(userID)
	}
	r.hnswMu.RUnlock()

	return n > 0, nil
}

// Clear removes all identities
func (r *IdentityRepository) Clear(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, "DELETE FROM identities"); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	r.hnswMu.RLock()
	if r.hnswIndex != nil {
		r.hnswIndex.Clear()
	}
	r.hnswMu.RUnlock()
	return nil
}

// EnableHNSW builds (or loads from indexPath) the in-memory HNSW mirror and
// routes searches through it. Writes keep the mirror in sync.
func (r *IdentityRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	var dbCount int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&dbCount); err != nil {
		return fmt.Errorf("failed to get identity count: %w", err)
	}

	if indexPath != "" {
		idx := database.NewHNSWIndex()
		if err := idx.Load(indexPath); err != nil {
			r.pool.logger.Warn("failed to load HNSW index, rebuilding", zap.String("path", indexPath), zap.Error(err))
		} else if idx.Count() == dbCount && dbCount > 0 {
			r.hnswIndex = idx
			r.hnswEnabled = true
			r.pool.logger.Info("HNSW index loaded from disk", zap.String("path", indexPath), zap.Int("count", dbCount))
			return nil
		}
	}

	records, err := r.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}

	idx := database.NewHNSWIndex()
	idx.Build(records)
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.pool.logger.Info("HNSW index built", zap.Int("count", idx.Count()))
	return nil
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries
func (r *IdentityRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// RebuildHNSW rebuilds the in-memory HNSW index from the table
func (r *IdentityRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// HNSWCount returns the number of identities in the HNSW index
func (r *IdentityRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// IsHNSWEnabled returns whether HNSW is enabled
func (r *IdentityRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured)
func (r *IdentityRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}
	if err := r.hnswIndex.Save(r.hnswIndexPath); err != nil {
		return fmt.Errorf("saving HNSW index: %w", err)
	}
	r.pool.logger.Info("HNSW index saved", zap.String("path", r.hnswIndexPath), zap.Int("count", r.hnswIndex.Count()))
	return nil
}
