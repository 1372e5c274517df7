package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/musicstream/backend/internal/retry"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

var migrationPolicy = retry.Policy{
	Attempts:  3,
	BaseDelay: 100 * time.Millisecond,
	MaxDelay:  3 * time.Second,
}

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// MigrationStatus reports whether a migration file has been applied.
type MigrationStatus struct {
	Name    string
	Applied bool
}

func migrationDir(dialect Dialect) string {
	if dialect == Postgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

func migrationNames(dialect Dialect) ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, migrationDir(dialect))
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func ensureMigrationTable(ctx context.Context, database *sqlx.DB, dialect Dialect) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if dialect == Postgres {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	}
	if _, err := database.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, database *sqlx.DB) (map[string]struct{}, error) {
	var versions []string
	if err := database.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("fetch applied migrations: %w", err)
	}
	applied := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}
	return applied, nil
}

// Status lists every embedded migration for dialect with its applied state.
func Status(ctx context.Context, database *sqlx.DB, dialect Dialect) ([]MigrationStatus, error) {
	if err := ensureMigrationTable(ctx, database, dialect); err != nil {
		return nil, err
	}
	names, err := migrationNames(dialect)
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, database)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(names))
	for _, name := range names {
		_, ok := applied[name]
		statuses = append(statuses, MigrationStatus{Name: name, Applied: ok})
	}
	return statuses, nil
}

// Migrate applies every pending migration in name order and returns the
// names it applied.
func Migrate(ctx context.Context, database *sqlx.DB, dialect Dialect, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	statuses, err := Status(ctx, database, dialect)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, st := range statuses {
		if st.Applied {
			continue
		}
		contents, err := migrationFiles.ReadFile(path.Join(migrationDir(dialect), st.Name))
		if err != nil {
			return done, fmt.Errorf("read migration %s: %w", st.Name, err)
		}
		if err := applyMigrationWithRetry(ctx, database, dialect, st.Name, string(contents), logger); err != nil {
			return done, err
		}
		logger.Info("applied migration", "name", st.Name, "dialect", string(dialect))
		done = append(done, st.Name)
	}
	return done, nil
}

func applyMigrationWithRetry(ctx context.Context, database *sqlx.DB, dialect Dialect, name, contents string, logger *slog.Logger) error {
	txOpts := &sql.TxOptions{}
	if dialect == Postgres {
		txOpts.Isolation = sql.LevelSerializable
	}

	outcome := retry.Do(ctx, migrationPolicy, func(ctx context.Context, _ int) (struct{}, error) {
		err := applyMigration(ctx, database, txOpts, name, contents)
		if err != nil && !shouldRetryMigration(err) {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	}, func(state retry.State, attempt int, err error) {
		if state == retry.Attempting {
			logger.Warn("transient error applying migration",
				"name", name, "attempt", attempt, "max_attempts", migrationPolicy.Attempts, "error", err)
		}
	})
	if outcome.State != retry.Succeeded {
		return outcome.Err
	}
	return nil
}

func applyMigration(ctx context.Context, database *sqlx.DB, opts *sql.TxOptions, name, contents string) error {
	tx, err := database.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin migration transaction for %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, contents); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pgx.ErrTxClosed) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryablePgErrorCodes[pgErr.Code]
		return ok
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
