package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/companion-engine/internal/config"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

// Open returns the snapshot store selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case "file":
		return NewFileStorage(cfg.DataDir, logger)
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, logger)
	case "redis":
		rs := NewRedisStorage(cfg.RedisURL, logger)
		if err := rs.WaitForConnection(ctx, 30, 2*time.Second); err != nil {
			_ = rs.Close()
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
