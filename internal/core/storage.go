package core

import (
	"context"
	"fmt"
	"io"

	"tubetrack/internal/config"
	"tubetrack/internal/infra/persistence/csv"
	"tubetrack/internal/infra/persistence/memory"
	"tubetrack/internal/infra/persistence/postgres"
	"tubetrack/internal/infra/persistence/sqlite"
	"tubetrack/pkg/domain"
)

// OpenTableStore selects a table store backend from cfg. An empty driver
// selects csv.
func OpenTableStore(ctx context.Context, cfg config.StorageConfig) (domain.TableStore, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case "", config.StorageCSV:
		return csv.NewStore(cfg.CSVRoot, cfg.Autoflush)
	case config.StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// CloseStore flushes store and releases it when it holds resources such as
// a database handle.
func CloseStore(ctx context.Context, store domain.TableStore) error {
	flushErr := store.Flush(ctx)
	if c, ok := store.(io.Closer); ok {
		if err := c.Close(); err != nil && flushErr == nil {
			return err
		}
	}
	return flushErr
}
