package memory

import (
	"context"

	"github.com/ent0n29/aili/internal/config"
)

// NewLog opens the configured turn log. In auto mode it picks PostgreSQL,
// then Redis, then SQLite, whichever has a URL or path, and falls back to
// process memory. The chosen backend name is returned for logging.
func NewLog(ctx context.Context, cfg config.MemoryConfig) (Log, string, error) {
	backend := cfg.Backend
	if backend == "" || backend == "auto" {
		switch {
		case cfg.DatabaseURL != "":
			backend = "postgres"
		case cfg.RedisURL != "":
			backend = "redis"
		case cfg.SQLitePath != "":
			backend = "sqlite"
		default:
			backend = "memory"
		}
	}

	switch backend {
	case "postgres":
		l, err := NewPostgresLog(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, backend, err
		}
		return l, backend, nil
	case "redis":
		l, err := NewRedisLog(ctx, cfg.RedisURL)
		if err != nil {
			return nil, backend, err
		}
		return l, backend, nil
	case "sqlite":
		l, err := NewSQLiteLog(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, backend, err
		}
		return l, backend, nil
	default:
		return NewInMemoryLog(), "memory", nil
	}
}
