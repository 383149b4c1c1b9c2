// Package migrate owns the intakeline schema: templates, sessions with their responses and
// artifacts, invitations, generation leases and the event log. Files under sql/ are named
// NNN_description.sql and each is applied once, in version order, inside a single transaction.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"intakeline/internal/db"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// parseVersion reads the numeric prefix of a migration file name.
func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok || !strings.HasSuffix(name, ".sql") {
		return 0, fmt.Errorf("migration %s must be named NNN_description.sql", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s has no positive version prefix", name)
	}
	return v, nil
}

func loadMigrations() ([]Migration, error) {
	paths, err := fs.Glob(migrationsFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	seen := map[int]string{}
	migrations := make([]Migration, 0, len(paths))
	for _, p := range paths {
		name := path.Base(p)
		v, err := parseVersion(name)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, v)
		}
		seen[v] = name
		data, err := migrationsFS.ReadFile(p)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: v, Name: name, UpSQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// schemaVersion returns the applied version, seeding the bookkeeping row on a fresh database.
func schemaVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// Migrate brings the database up to the newest embedded version. The DDL is written to run
// unchanged on sqlite and postgres; only the bookkeeping update is rebound per driver. A
// failing step rolls back every step of the run.
func Migrate(conn *sql.DB, driver string) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := schemaVersion(tx)
	if err != nil {
		return err
	}
	if n := len(migrations); n > 0 && current > migrations[n-1].Version {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, migrations[n-1].Version)
	}
	update := db.Rebind(driver, `UPDATE schema_version SET version=?`)
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.Exec(m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(update, m.Version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		current = m.Version
	}
	return tx.Commit()
}
