package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"intakeline/internal/db"
)

type Repo struct {
	DB     *sql.DB
	Driver string
}

var (
	ErrNotFound = errors.New("not found")
	// ErrTemplateInUse is returned when a template still has sessions pointing at it.
	ErrTemplateInUse = errors.New("template referenced by sessions")
	// ErrLeaseHeld is returned when another owner holds an unexpired generation lease.
	ErrLeaseHeld = errors.New("generation lease held")
	// ErrDefaultConflict is returned when a concurrent write already made another template the
	// default of the same scope.
	ErrDefaultConflict = errors.New("another default template exists in this scope")
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Driver, query)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
