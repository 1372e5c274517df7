package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "musicstream.toml")
	contents := fmt.Sprintf(`
[database]
driver = "sqlite"
dsn = %q

[paths]
local_music = %q

[log]
format = "text"
level = "error"
`, filepath.Join(dir, "test.db"), filepath.Join(dir, "music"))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newCommand(&out).Run(context.Background(), append([]string{"musicstream"}, args...))
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	path := writeConfig(t)

	out, err := runCommand(t, "--config", path, "migrate", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "[ ] 001_init.sql") {
		t.Fatalf("expected pending migration, got %q", out)
	}

	out, err = runCommand(t, "--config", path, "migrate")
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if !strings.Contains(out, "applied migration 001_init.sql") {
		t.Fatalf("expected applied migration, got %q", out)
	}

	out, err = runCommand(t, "--config", path, "migrate", "up")
	if err != nil {
		t.Fatalf("second up: %v", err)
	}
	if !strings.Contains(out, "no migrations to apply") {
		t.Fatalf("expected nothing to apply, got %q", out)
	}

	out, err = runCommand(t, "--config", path, "migrate", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "[x] 001_init.sql") {
		t.Fatalf("expected applied migration, got %q", out)
	}
}

func TestMigrateCommandRejectsUnknownAction(t *testing.T) {
	path := writeConfig(t)
	if _, err := runCommand(t, "--config", path, "migrate", "sideways"); err == nil {
		t.Fatal("expected error for unknown migrate command")
	}
}

func TestResolveRequiresVideoID(t *testing.T) {
	path := writeConfig(t)
	if _, err := runCommand(t, "--config", path, "resolve"); err == nil {
		t.Fatal("expected error without a video id")
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	if _, err := runCommand(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "migrate", "status"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
