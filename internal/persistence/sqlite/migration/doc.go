// Package migration applies versioned SQL migrations to SQLite databases.
//
// Migrations are read from an fs.FS (normally an embedded directory) and
// follow the naming convention {version}_{description}.sql, for example
// "001_rooms.sql". Applied versions are tracked in the schema_migrations
// table so every migration runs exactly once, each inside its own
// transaction.
//
// Example usage:
//
//	manager := NewManager(NewScanner(migrationsFS, "migrations"), NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
