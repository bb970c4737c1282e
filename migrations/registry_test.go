package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestDialectFS_ServesEachDialect(t *testing.T) {
	for _, dialect := range Dialects() {
		fsys, err := DialectFS(dialect)
		if err != nil {
			t.Fatalf("dialect fs %s: %v", dialect, err)
		}
		if _, err := fs.ReadFile(fsys, "00002_outbound_receiver_throttle.up.sql"); err != nil {
			t.Fatalf("expected %s throttle migration: %v", dialect, err)
		}
	}

	sqliteFS, _ := DialectFS(" SQLite ")
	schema, err := fs.ReadFile(sqliteFS, "00001_outbound_core_schema.up.sql")
	if err != nil {
		t.Fatalf("read sqlite schema: %v", err)
	}
	if strings.Contains(string(schema), "TIMESTAMPTZ") {
		t.Fatalf("expected sqlite schema, got postgres types")
	}
	postgresFS, _ := DialectFS(DialectPostgres)
	if _, err := fs.Stat(postgresFS, "sqlite"); err != nil {
		t.Fatalf("expected postgres root to hold the sqlite directory: %v", err)
	}

	if _, err := DialectFS("oracle"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestRegister_OnlyRequestedDialects(t *testing.T) {
	var calls []string
	err := Register(context.Background(), func(_ context.Context, dialect string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, DialectSQLite, "sqlite")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected a single sqlite registration, got %v", calls)
	}

	calls = nil
	if err := Register(context.Background(), func(_ context.Context, dialect string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}); err != nil {
		t.Fatalf("register all: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected every dialect without a filter, got %v", calls)
	}
}

func TestRegister_RejectsUnknownDialectBeforeRegistering(t *testing.T) {
	called := false
	err := Register(context.Background(), func(context.Context, string, fs.FS) error {
		called = true
		return nil
	}, DialectSQLite, "oracle")
	if err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
	if called {
		t.Fatalf("expected nothing registered when a dialect is unknown")
	}
	if err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function to fail")
	}
}

func TestCoreSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := FS()
	paths := []string{
		"data/sql/migrations/00001_outbound_core_schema.up.sql",
		"data/sql/migrations/00001_outbound_core_schema.down.sql",
		"data/sql/migrations/sqlite/00001_outbound_core_schema.up.sql",
		"data/sql/migrations/sqlite/00001_outbound_core_schema.down.sql",
		"data/sql/migrations/00002_outbound_receiver_throttle.up.sql",
		"data/sql/migrations/00002_outbound_receiver_throttle.down.sql",
		"data/sql/migrations/sqlite/00002_outbound_receiver_throttle.up.sql",
		"data/sql/migrations/sqlite/00002_outbound_receiver_throttle.down.sql",
		"data/sql/migrations/00003_outbound_outbox_claim.up.sql",
		"data/sql/migrations/00003_outbound_outbox_claim.down.sql",
		"data/sql/migrations/sqlite/00003_outbound_outbox_claim.up.sql",
		"data/sql/migrations/sqlite/00003_outbound_outbox_claim.down.sql",
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

func TestSQLiteCoreSchemaMigration_ApplyAndRollback(t *testing.T) {
	dsn := fmt.Sprintf("file:migrations-outbound-core-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(FS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_outbound_core_schema.up.sql"); err != nil {
		t.Fatalf("apply core schema up: %v", err)
	}

	for _, tableName := range []string{"outbound_outbox", "outbound_inbox", "outbound_subscriptions", "outbound_jobs"} {
		if count := countTables(t, db, tableName); count != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertSubscription := `INSERT INTO outbound_subscriptions (id, topic, url, secret) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertSubscription, "sub-1", "order.created", "https://hooks.test/a", "s"); err != nil {
		t.Fatalf("insert subscription: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertSubscription, "sub-2", "order.created", "https://hooks.test/a", "s2"); err == nil {
		t.Fatalf("expected unique (topic, url) violation")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO outbound_jobs (name, status, available_at_ms, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?)`,
		"outbox.order.created", "bogus", 0, 0, 0,
	); err == nil {
		t.Fatalf("expected job status check violation")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_outbound_core_schema.down.sql"); err != nil {
		t.Fatalf("apply core schema down: %v", err)
	}
	if count := countTables(t, db, "outbound_jobs"); count != 0 {
		t.Fatalf("expected outbound_jobs to be dropped after down migration")
	}
}

func countTables(t *testing.T, db *sql.DB, tableName string) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		tableName,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master for %s: %v", tableName, err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
