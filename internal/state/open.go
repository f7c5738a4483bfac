package state

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
)

// Open builds the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (risk.Repository, error) {
	switch cfg.Driver {
	case "file":
		return NewFileStore(cfg.Path, log)
	case "postgres":
		db, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
