package db

import (
	"os"
	"path/filepath"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_SortedWithDowns(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0002_events.sql":     "CREATE TABLE events ();",
		"0001_init.sql":       "CREATE TABLE streams ();",
		"0001_init.down.sql":  "DROP TABLE streams;",
		"README.md":           "# Migrations",
		"0003_index.sql":      "CREATE INDEX x ON events (id);",
		"0003_index.down.txt": "not sql",
	})

	got, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}

	want := []Migration{
		{Version: "0001", Up: "CREATE TABLE streams ();", Down: "DROP TABLE streams;"},
		{Version: "0002", Up: "CREATE TABLE events ();"},
		{Version: "0003", Up: "CREATE INDEX x ON events (id);"},
	}
	if len(got) != len(want) {
		t.Fatalf("%s - got %d migrations, want %d", migrationsTestPrefix, len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s - migration %d = %+v, want %+v", migrationsTestPrefix, i, got[i], want[i])
		}
	}
}

func TestLoadMigrationFiles_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatalf("%s - failed to create subdir: %v", migrationsTestPrefix, err)
	}
	writeFiles(t, dir, map[string]string{"0001_create.sql": "CREATE TABLE x;"})

	got, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(got) != 1 {
		t.Errorf("%s - expected 1 migration, got %d", migrationsTestPrefix, len(got))
	}
}

func TestLoadMigrationFiles_EmptyDir(t *testing.T) {
	got, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(got) != 0 {
		t.Errorf("%s - expected no migrations, got %d", migrationsTestPrefix, len(got))
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_RepositoryMigrations(t *testing.T) {
	got, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(got) == 0 || got[0].Version != "0001" || got[0].Down == "" {
		t.Errorf("%s - expected 0001 with a down migration, got %+v", migrationsTestPrefix, got)
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{{Version: "0001"}, {Version: "0002"}, {Version: "0003"}}

	tests := []struct {
		name    string
		applied map[string]bool
		want    []string
	}{
		{"none applied", map[string]bool{}, []string{"0001", "0002", "0003"}},
		{"first applied", map[string]bool{"0001": true}, []string{"0002", "0003"}},
		{"gap", map[string]bool{"0001": true, "0003": true}, []string{"0002"}},
		{"all applied", map[string]bool{"0001": true, "0002": true, "0003": true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pendingMigrations(all, tt.applied)
			if len(got) != len(tt.want) {
				t.Fatalf("%s - got %d pending, want %d", migrationsTestPrefix, len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Version != tt.want[i] {
					t.Errorf("%s - pending[%d] = %s, want %s", migrationsTestPrefix, i, got[i].Version, tt.want[i])
				}
			}
		})
	}
}

func TestMigrationVersion(t *testing.T) {
	tests := map[string]string{
		"0001_init":    "0001",
		"0002":         "0002",
		"20240101_a_b": "20240101",
	}
	for in, want := range tests {
		if got := migrationVersion(in); got != want {
			t.Errorf("%s - migrationVersion(%q) = %q, want %q", migrationsTestPrefix, in, got, want)
		}
	}
}
