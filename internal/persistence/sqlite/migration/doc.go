// Package migration applies versioned SQL migrations to SQLite databases.
//
// Migration files follow the naming convention {version}_{description}.sql
// (e.g. "001_initial_schema.sql") and are read from an fs.FS, usually one
// embedded into the binary. Applied versions are tracked in the
// schema_migrations table together with the file checksum, so an edited
// migration is detected instead of silently skipped.
//
// Example usage:
//
//	db, err := migration.Open(migration.DefaultSQLiteConfig("data/booking.db"))
//	manager := migration.NewManager(migration.NewFSScanner(files, "migrations"), migration.NewSQLiteExecutor(db), logger)
//	if _, err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
