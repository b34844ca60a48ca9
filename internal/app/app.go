// Package app opens the infrastructure shared by the server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/config"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/database"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// NewLogger builds the service logger from configuration.
func NewLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
}

// OpenDatabase connects to PostgreSQL.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
}

// Migrate applies pending schema migrations and logs what ran.
func Migrate(ctx context.Context, db *database.DB, log *logger.Logger) error {
	applied, err := database.Migrate(ctx, db, repository.Migrations())
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) == 0 {
		log.Info().Msg("Schema is up to date")
		return nil
	}
	log.Info().Strs("versions", applied).Msg("Applied migrations")
	return nil
}

// OpenStore returns the configured store and a function releasing it.
// PostgreSQL is migrated first when auto-migration is enabled.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := Migrate(ctx, db, log); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return repository.NewPostgresStore(db), db.Close, nil
}
