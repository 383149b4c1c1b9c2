package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a=?, b=? WHERE id=?`
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite query rewritten: %s", got)
	}
	if got := Rebind(DriverPostgres, q); got != `UPDATE t SET a=$1, b=$2 WHERE id=$3` {
		t.Fatalf("unexpected postgres query: %s", got)
	}
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if Path(dir) != filepath.Join(dir, ".intakeline", "intakeline.db") {
		t.Fatalf("unexpected path %s", Path(dir))
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error")
	}
}
