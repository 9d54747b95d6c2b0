package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

const downSuffix = ".down.sql"

// Migration is one numbered schema change. Down is empty when the migration
// cannot be rolled back.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// LoadMigrationFiles reads the .sql files of dir, sorted by name. A file named
// <version>_<name>.down.sql holds the rollback of <version>_<name>.sql.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	downs := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		if strings.HasSuffix(name, downSuffix) {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, name, err)
			}
			downs[strings.TrimSuffix(name, downSuffix)] = string(data)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		base := strings.TrimSuffix(name, ".sql")
		out = append(out, Migration{
			Version: migrationVersion(base),
			Up:      string(data),
			Down:    downs[base],
		})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// migrationVersion returns the part of base before the first "_".
func migrationVersion(base string) string {
	version, _, _ := strings.Cut(base, "_")
	return version
}

// pendingMigrations returns the migrations of all not present in applied,
// keeping their order.
func pendingMigrations(all []Migration, applied map[string]bool) []Migration {
	var pending []Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}
