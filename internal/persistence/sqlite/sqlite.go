package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/robin/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Storage bundles the SQLite connection pool with the room repository.
type Storage struct {
	*RoomRepository
	pool *ConnectionPool
}

// Open connects to the database described by config. Migrations are not
// applied; call Migrate before using the repository.
func Open(config migration.SQLiteConfig, pageSize int) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		RoomRepository: NewRoomRepository(pool, pageSize),
		pool:           pool,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies every embedded migration that has not been applied yet.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) error {
	if err := s.migrationManager(logger).RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Storage) MigrationStatus(ctx context.Context, logger *slog.Logger) (*migration.Status, error) {
	executor := migration.NewSQLiteExecutor(s.pool.DB())
	if err := executor.InitializeVersionTable(ctx); err != nil {
		return nil, err
	}
	return s.migrationManager(logger).Status(ctx)
}

func (s *Storage) migrationManager(logger *slog.Logger) *migration.Manager {
	return migration.NewManager(
		migration.NewScanner(migrationsFS, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		logger,
	)
}
