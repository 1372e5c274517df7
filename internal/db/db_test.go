package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/musicstream/backend/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDialectOf(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", SQLite, false},
		{"SQLite3", SQLite, false},
		{"pgx", Postgres, false},
		{"postgres", Postgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := DialectOf(tt.driver)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("DialectOf(%q) = %q, %v", tt.driver, got, err)
		}
	}
}

func TestSQLiteDSNAppendsPragmas(t *testing.T) {
	if got := sqliteDSN("file:x.db?mode=rwc"); got != "file:x.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_time_format=sqlite" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()

	applied, err := Migrate(ctx, database, SQLite, quietLogger())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 || applied[0] != "001_init.sql" {
		t.Fatalf("expected 001_init.sql applied, got %v", applied)
	}

	again, err := Migrate(ctx, database, SQLite, quietLogger())
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing to apply, got %v", again)
	}

	statuses, err := Status(ctx, database, SQLite)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, st := range statuses {
		if !st.Applied {
			t.Fatalf("expected %s applied", st.Name)
		}
	}

	for _, table := range []string{"songs", "playlists", "playlist_songs"} {
		var n int
		if err := database.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
	}

	var fk int
	if err := database.GetContext(ctx, &fk, "PRAGMA foreign_keys"); err != nil || fk != 1 {
		t.Fatalf("expected foreign keys enabled, got %d err=%v", fk, err)
	}
}

func TestEmbeddedMigrationsMatchAcrossDialects(t *testing.T) {
	lite, err := migrationNames(SQLite)
	if err != nil {
		t.Fatalf("sqlite names: %v", err)
	}
	pg, err := migrationNames(Postgres)
	if err != nil {
		t.Fatalf("postgres names: %v", err)
	}
	if fmt.Sprint(lite) != fmt.Sprint(pg) {
		t.Fatalf("dialects diverge: %v vs %v", lite, pg)
	}
}

func TestShouldRetryMigration(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40001"}), true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := shouldRetryMigration(tt.err); got != tt.want {
			t.Fatalf("%s: shouldRetryMigration = %v, want %v", tt.name, got, tt.want)
		}
	}
}
