package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver string
	DSN    string
	// AutoMigrate runs gorm's AutoMigrate on open. Without it the schema is
	// expected to come from the goose migrations.
	AutoMigrate bool
}

// Open constructs a Storage based on the given configuration.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		log.Info().Msg("storage: using in-memory backend")
		return NewMemory(), nil

	case "sqlite", "postgres":
		log.Info().Str("driver", drv).Bool("auto_migrate", cfg.AutoMigrate).Msg("storage: using gorm backend")
		st, err := NewGormStorage(drv, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
