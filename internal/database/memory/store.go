// Package memory provides in-process implementations of the database
// interfaces, used when no PostgreSQL URL is configured.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/database"
)

// IdentityStore keeps identities in an HNSW index, optionally persisted to disk
// after every write.
type IdentityStore struct {
	index  *database.HNSWIndex
	path   string
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewIdentityStore creates a store. When path is set, a previously saved
// index is loaded from it.
func NewIdentityStore(path string, clock clockwork.Clock, logger *zap.Logger) (*IdentityStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &IdentityStore{
		index:  database.NewHNSWIndex(),
		path:   path,
		clock:  clock,
		logger: logger,
	}
	if path != "" {
		if err := s.index.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load identity index: %w", err)
		}
		logger.Info("identity index loaded", zap.String("path", path), zap.Int("count", s.index.Count()))
	}
	return s, nil
}

func (s *IdentityStore) Get(ctx context.Context, userID string) (*database.IdentityRecord, error) {
	rec, ok := s.index.Get(userID)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *IdentityStore) List(ctx context.Context) ([]database.IdentityRecord, error) {
	return s.index.List(), nil
}

func (s *IdentityStore) Count(ctx context.Context) (int, error) {
	return s.index.Count(), nil
}

func (s *IdentityStore) Search(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.index.Search(embedding, topK), nil
}

func (s *IdentityStore) Upsert(ctx context.Context, userID string, embedding []float32) error {
	if err := s.index.Upsert(userID, embedding, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to upsert identity %s: %w", userID, err)
	}
	s.persist()
	return nil
}

func (s *IdentityStore) Delete(ctx context.Context, userID string) (bool, error) {
	if !s.index.Delete(userID) {
		return false, nil
	}
	s.persist()
	return true, nil
}

func (s *IdentityStore) Clear(ctx context.Context) error {
	s.index.Clear()
	s.persist()
	return nil
}

// Save writes the index to the configured path.
func (s *IdentityStore) Save() error {
	return s.index.Save(s.path)
}

func (s *IdentityStore) persist() {
	if s.path == "" {
		return
	}
	start := time.Now()
	if err := s.index.Save(s.path); err != nil {
		s.logger.Warn("failed to persist identity index", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Debug("identity index persisted", zap.Int("count", s.index.Count()), zap.Duration("took", time.Since(start)))
}
