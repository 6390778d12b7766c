package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationFilesArePaired(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	ups := migrationFiles(entries, ".up.sql")
	downs := migrationFiles(entries, ".down.sql")
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	if len(ups) != len(downs) {
		t.Fatalf("%d up files but %d down files", len(ups), len(downs))
	}
	for i := range ups {
		if strings.TrimSuffix(ups[i], ".up.sql") != strings.TrimSuffix(downs[i], ".down.sql") {
			t.Errorf("up %s has no matching down file (got %s)", ups[i], downs[i])
		}
	}
}

type fakeEntry struct {
	name string
	dir  bool
}

func (e fakeEntry) Name() string               { return e.name }
func (e fakeEntry) IsDir() bool                { return e.dir }
func (e fakeEntry) Type() os.FileMode          { return 0 }
func (e fakeEntry) Info() (os.FileInfo, error) { return nil, nil }

func TestMigrationFilesOrdering(t *testing.T) {
	entries := []os.DirEntry{
		fakeEntry{name: "0002_b.up.sql"},
		fakeEntry{name: "0001_a.down.sql"},
		fakeEntry{name: "0001_a.up.sql"},
		fakeEntry{name: "README.md"},
		fakeEntry{name: "0003_c.up.sql", dir: true},
	}
	got := migrationFiles(entries, ".up.sql")
	if len(got) != 2 || got[0] != "0001_a.up.sql" || got[1] != "0002_b.up.sql" {
		t.Fatalf("migrationFiles() = %v", got)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("NOTES_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("NOTES_TEST_DATABASE_URL is not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations (pass 1): %v", err)
	}
	if !tableExists(ctx, t, db, "pages") {
		t.Fatal("pages table missing after up migrations")
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	if err := RollbackMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("rollback migrations: %v", err)
	}
	if tableExists(ctx, t, db, "pages") {
		t.Fatal("pages table still present after rollback")
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations (pass 2): %v", err)
	}
}
