package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFSScanner_ScanMigrations(t *testing.T) {
	t.Parallel()

	t.Run("orders by numeric version and ignores other files", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"m/010_later.sql":       {Data: []byte("CREATE TABLE b (id TEXT);")},
			"m/002_first.sql":       {Data: []byte("-- Description: first table\nCREATE TABLE a (id TEXT);")},
			"m/README.md":           {Data: []byte("notes")},
			"m/nested/003_skip.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
		}
		migrations, err := NewFSScanner(fsys, "m").ScanMigrations()
		if err != nil {
			t.Fatalf("ScanMigrations failed: %v", err)
		}
		if len(migrations) != 2 || migrations[0].Version != "002" || migrations[1].Version != "010" {
			t.Fatalf("unexpected migrations %#v", migrations)
		}
		if migrations[0].Description != "first table" || migrations[1].Description != "later" {
			t.Fatalf("unexpected descriptions %q / %q", migrations[0].Description, migrations[1].Description)
		}
		if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
			t.Fatal("expected distinct checksums")
		}
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"m/initial.sql": {Data: []byte("CREATE TABLE a (id TEXT);")}}
		if _, err := NewFSScanner(fsys, "m").ScanMigrations(); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		t.Parallel()
		dup := fstest.MapFS{
			"m/001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
			"m/001_b.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
		}
		if _, err := NewFSScanner(dup, "m").ScanMigrations(); !errors.Is(err, ErrDuplicateVersion) {
			t.Fatalf("expected ErrDuplicateVersion, got %v", err)
		}
	})

	t.Run("rejects comment-only files", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"m/001_empty.sql": {Data: []byte("-- nothing here\n\n")}}
		if _, err := NewFSScanner(fsys, "m").ScanMigrations(); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (id TEXT);\n\n  -- inline comment line\nCREATE INDEX idx ON a(id);\n;")
	if len(got) != 2 || got[0] != "CREATE TABLE a (id TEXT)" || got[1] != "CREATE INDEX idx ON a(id)" {
		t.Fatalf("unexpected statements %q", got)
	}
}

func TestManager_RunMigrations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Open(InMemoryTestSQLiteConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"m/001_courses.sql": {Data: []byte("CREATE TABLE courses (id TEXT PRIMARY KEY);")},
		"m/002_sessions.sql": {Data: []byte(`CREATE TABLE sessions (id TEXT PRIMARY KEY, course_id TEXT REFERENCES courses(id));
CREATE INDEX idx_sessions_course ON sessions(course_id);`)},
	}
	manager := NewManager(NewFSScanner(fsys, "m"), NewSQLiteExecutor(db), discardLogger())

	applied, err := manager.RunMigrations(ctx)
	if err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}

	again, err := manager.RunMigrations(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second run = %d, %v", again, err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Pending) != 0 || len(status.Applied) != 2 {
		t.Fatalf("unexpected status %#v", status)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO courses (id) VALUES ('c1')"); err != nil {
		t.Fatalf("schema not usable: %v", err)
	}

	edited := fstest.MapFS{
		"m/001_courses.sql": {Data: []byte("CREATE TABLE courses (id TEXT PRIMARY KEY, title TEXT);")},
		"m/002_sessions.sql": fsys["m/002_sessions.sql"],
	}
	tampered := NewManager(NewFSScanner(edited, "m"), NewSQLiteExecutor(db), discardLogger())
	if _, err := tampered.RunMigrations(ctx); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestManager_FailedMigrationRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Open(InMemoryTestSQLiteConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"m/001_ok.sql":     {Data: []byte("CREATE TABLE a (id TEXT);")},
		"m/002_broken.sql": {Data: []byte("CREATE TABLE b (id TEXT);\nINSERT INTO missing_table VALUES (1);")},
	}
	manager := NewManager(NewFSScanner(fsys, "m"), NewSQLiteExecutor(db), discardLogger())

	applied, err := manager.RunMigrations(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'b'").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Fatal("table from failed migration should have been rolled back")
	}
}

func TestSQLiteConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*SQLiteConfig)
		wantErr bool
	}{
		{"defaults", func(*SQLiteConfig) {}, false},
		{"empty dsn", func(c *SQLiteConfig) { c.DSN = "" }, true},
		{"bad journal", func(c *SQLiteConfig) { c.JournalMode = "FAST" }, true},
		{"bad synchronous", func(c *SQLiteConfig) { c.Synchronous = "SOMETIMES" }, true},
		{"negative pool", func(c *SQLiteConfig) { c.MaxOpenConns = -1 }, true},
		{"lowercase journal", func(c *SQLiteConfig) { c.JournalMode = "wal" }, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultSQLiteConfig("data/test.db")
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
