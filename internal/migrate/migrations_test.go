package migrate

import (
	"testing"

	"intakeline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if version != migrations[len(migrations)-1].Version {
		t.Fatalf("unexpected schema version %d", version)
	}
	for _, table := range []string{"templates", "sessions", "session_responses", "session_artifacts", "invitations", "generation_leases", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("001_init.sql"); err != nil || v != 1 {
		t.Fatalf("001_init.sql: got %d, %v", v, err)
	}
	for _, name := range []string{"init.sql", "abc_init.sql", "000_zero.sql", "002_notes.txt"} {
		if _, err := parseVersion(name); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.Exec(`UPDATE schema_version SET version = 999`); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(conn, db.DriverSQLite); err == nil {
		t.Fatalf("expected error for a schema newer than the embedded migrations")
	}
}
