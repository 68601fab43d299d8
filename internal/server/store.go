package server

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/infrastructure/events"
	"github.com/jacksonlee411/schema-fields/modules/schema/infrastructure/persistence"
)

func openFieldStore(ctx context.Context, cfg Config, log logr.Logger) (ports.FieldStore, error) {
	var store ports.FieldStore
	switch cfg.Store {
	case "", StoreMemory:
		store = persistence.NewFieldMemoryStore()
	case StoreSQLite:
		s, err := persistence.OpenFieldSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("server: open sqlite store: %w", err)
		}
		store = s
	case StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("server: open postgres pool: %w", err)
		}
		s := persistence.NewFieldPGStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("server: migrate postgres store: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("server: unknown SCHEMA_STORE %q (expected memory|sqlite|postgres)", cfg.Store)
	}

	for _, c := range cfg.BootstrapCollections {
		if err := store.EnsureCollection(ctx, c); err != nil {
			return nil, fmt.Errorf("server: bootstrap collection %s: %w", c, err)
		}
	}
	log.Info("field store ready", "kind", cfg.Store, "collections", len(cfg.BootstrapCollections))
	return store, nil
}

func openEventPublisher(ctx context.Context, cfg Config, log logr.Logger) (ports.EventPublisher, error) {
	if cfg.RedisURL == "" {
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewRedisPublisherFromURL(ctx, cfg.RedisURL, cfg.EventQueue)
	if err != nil {
		return nil, fmt.Errorf("server: connect redis: %w", err)
	}
	log.Info("field events enabled", "queue", cfg.EventQueue)
	return p, nil
}
