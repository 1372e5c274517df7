package repositories

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/jmoiron/sqlx"

	"github.com/musicstream/backend/internal/config"
	"github.com/musicstream/backend/internal/db"
)

// testPG is set when MUSICSTREAM_COCKROACH_TESTS=1 starts a CockroachDB test
// server for the PostgreSQL dialect.
var testPG *sqlx.DB

func TestMain(m *testing.M) {
	if os.Getenv("MUSICSTREAM_COCKROACH_TESTS") != "1" {
		os.Exit(m.Run())
	}

	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Open(ctx, config.DatabaseConfig{Driver: "pgx", DSN: server.PGURL().String()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if _, err := db.Migrate(ctx, database, db.Postgres, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		database.Close()
		server.Stop()
		os.Exit(1)
	}

	testPG = database
	code := m.Run()

	database.Close()
	server.Stop()
	os.Exit(code)
}

func TestCatalogPostgres(t *testing.T) {
	if testPG == nil {
		t.Skip("set MUSICSTREAM_COCKROACH_TESTS=1 to run against CockroachDB")
	}
	for _, sc := range catalogScenarios {
		t.Run(sc.name, func(t *testing.T) {
			resetDatabase(t)
			sc.run(t, NewCatalog(testPG))
		})
	}
}

func resetDatabase(t *testing.T) {
	t.Helper()
	if _, err := testPG.ExecContext(context.Background(), "TRUNCATE TABLE playlist_songs, playlists, songs CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
