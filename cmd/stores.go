package cmd

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/config"
	"github.com/kozaktomas/candy-kiosk/internal/database"
	"github.com/kozaktomas/candy-kiosk/internal/database/memory"
	"github.com/kozaktomas/candy-kiosk/internal/database/postgres"
)

// maxMemoryChatTurns bounds per-session history when running without a database.
const maxMemoryChatTurns = 200

// stores holds the persistence backends selected by configuration.
type stores struct {
	identities database.IdentityWriter
	chat       database.ChatHistoryWriter

	pool     *postgres.Pool
	pgRepo   *postgres.IdentityRepository
	memStore *memory.IdentityStore
	logger   *zap.Logger
}

// openStores connects to PostgreSQL when DATABASE_URL is set and falls back to
// the in-memory HNSW store (persisted to IDENTITY_INDEX_PATH) otherwise.
func openStores(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (*stores, error) {
	s := &stores{logger: logger}

	if cfg.Database.URL == "" {
		mem, err := memory.NewIdentityStore(cfg.Database.HNSWIndexPath, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory identity store: %w", err)
		}
		s.memStore = mem
		s.identities = mem
		s.chat = memory.NewChatHistory(clock, maxMemoryChatTurns)
		logger.Info("using in-memory identity store", zap.String("index_path", cfg.Database.HNSWIndexPath))
		return s, nil
	}

	logger.Info("connecting to PostgreSQL database")
	pool, err := postgres.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	s.pool = pool

	repo := postgres.NewIdentityRepository(pool, cfg.Database.QueryTimeout)
	if err := repo.EnableHNSW(ctx, cfg.Database.HNSWIndexPath); err != nil {
		logger.Warn("failed to build identity HNSW index, searches will query PostgreSQL", zap.Error(err))
	} else {
		logger.Info("identity HNSW index ready", zap.Int("count", repo.HNSWCount()))
	}
	s.pgRepo = repo
	s.identities = repo
	s.chat = postgres.NewChatRepository(pool)
	logger.Info("using PostgreSQL backend")
	return s, nil
}

// saveIndex persists the identity index to disk, if a path is configured.
func (s *stores) saveIndex() {
	var err error
	switch {
	case s.pgRepo != nil:
		err = s.pgRepo.SaveHNSWIndex()
	case s.memStore != nil:
		err = s.memStore.Save()
	}
	if err != nil {
		s.logger.Warn("failed to save identity index", zap.Error(err))
	}
}

// Close releases the database pool.
func (s *stores) Close() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}
