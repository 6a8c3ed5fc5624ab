package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	connectors "github.com/goliatone/go-connectors"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil register function")
	}
}

func TestFoundationMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := connectors.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_connectors_foundation.up.sql",
		"data/sql/migrations/00001_connectors_foundation.down.sql",
		"data/sql/migrations/sqlite/00001_connectors_foundation.up.sql",
		"data/sql/migrations/sqlite/00001_connectors_foundation.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteFoundationMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-connectors-foundation?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := connectors.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"00001_connectors_foundation.up.sql",
	); err != nil {
		t.Fatalf("apply foundation migration up: %v", err)
	}

	requiredTables := []string{
		"connector_credentials",
		"connector_rate_limit_state",
	}
	for _, tableName := range requiredTables {
		var count int
		if err := db.QueryRowContext(
			context.Background(),
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
			tableName,
		).Scan(&count); err != nil {
			t.Fatalf("query sqlite_master for %s: %v", tableName, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertStatement := `
		INSERT INTO connector_credentials (
			id,
			service,
			user_id,
			version,
			kind,
			payload,
			payload_format,
			payload_version,
			status,
			created_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"cred-v1", "github", "u1", 1, "oauth2", []byte("{}"), "credential_json", 1, "active",
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert credential row: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"cred-v2", "github", "u1", 2, "oauth2", []byte("{}"), "credential_json", 1, "active",
		"2026-01-02T00:00:00Z", "2026-01-02T00:00:00Z",
	); err == nil {
		t.Fatalf("expected second active credential for same key to violate unique index")
	}

	if _, err := db.ExecContext(
		context.Background(),
		`UPDATE connector_credentials SET status='rotated' WHERE id=?`,
		"cred-v1",
	); err != nil {
		t.Fatalf("rotate credential row: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"cred-v2", "github", "u1", 2, "oauth2", []byte("{}"), "credential_json", 1, "active",
		"2026-01-02T00:00:00Z", "2026-01-02T00:00:00Z",
	); err != nil {
		t.Fatalf("insert rotated successor: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		`INSERT INTO connector_rate_limit_state
			(id, service, user_id, bucket_key, "limit", remaining, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"rls-1", "github", "u1", "api", 5000, 4999, "{}",
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert rate-limit state row: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		`INSERT INTO connector_rate_limit_state
			(id, service, user_id, bucket_key, "limit", remaining, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"rls-2", "github", "u1", "api", 5000, 4998, "{}",
		"2026-01-01T00:01:00Z", "2026-01-01T00:01:00Z",
	); err == nil {
		t.Fatalf("expected duplicate rate-limit key to violate unique index")
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"00001_connectors_foundation.down.sql",
	); err != nil {
		t.Fatalf("apply foundation migration down: %v", err)
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"connector_credentials",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected connector_credentials to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
