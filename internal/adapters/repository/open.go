package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/luminahq/lumina/internal/config"
	"github.com/luminahq/lumina/internal/core/ports"
)

// Open builds the store selected by cfg and, when the cache is enabled,
// wraps it in the Redis read-through decorator. The returned closer releases
// backend resources; it is non-nil even when there is nothing to close.
func Open(cfg config.StorageConfig) (ports.Store, func() error, error) {
	var store ports.Store
	closer := func() error { return nil }

	switch cfg.Backend {
	case config.BackendJSON:
		s, err := NewJSONFileStore(cfg.JSONPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open json store: %w", err)
		}
		store = s
	case config.BackendSQLite:
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store = s
		closer = s.Close
	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		store = NewPostgresStore(db)
		closer = db.Close
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Cache.Enabled {
		store = NewCachedStore(store, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
	}
	return store, closer, nil
}
