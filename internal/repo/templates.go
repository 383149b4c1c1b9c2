package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"intakeline/internal/domain"
)

// TemplateFilter narrows ListTemplates.
type TemplateFilter struct {
	OrganizationID string
	IncludeGlobal  bool
	ActiveOnly     bool
}

const templateColumns = `id,name,COALESCE(description,'') AS description,questions_json,is_default,active,usage_count,last_used_at,organization_id,source,cloned_from,created_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (domain.Template, error) {
	var (
		t          domain.Template
		questions  string
		lastUsedAt sql.NullString
		clonedFrom sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &questions, &t.IsDefault, &t.Active, &t.UsageCount,
		&lastUsedAt, &t.OrganizationID, &t.Source, &clonedFrom, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return t, fmt.Errorf("decode questions of template %s: %w", t.ID, err)
	}
	t.LastUsedAt = stringPtr(lastUsedAt)
	t.ClonedFrom = stringPtr(clonedFrom)
	return t, nil
}

// demoteDefaults clears the default flag of every other template in the same scope.
func (r Repo) demoteDefaults(ctx context.Context, tx *sql.Tx, orgID, keepID, ts string) error {
	_, err := tx.ExecContext(ctx, r.q(`UPDATE templates SET is_default=?, updated_at=? WHERE organization_id=? AND is_default=? AND id<>?`),
		false, ts, orgID, true, keepID)
	return err
}

// InsertTemplate stores a new template. A default template demotes the previous default of its
// scope within the same transaction.
func (r Repo) InsertTemplate(ctx context.Context, t domain.Template) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if t.IsDefault {
		if err := r.demoteDefaults(ctx, tx, t.OrganizationID, t.ID, t.CreatedAt); err != nil {
			return fmt.Errorf("demote defaults: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO templates(id,name,description,questions_json,is_default,active,usage_count,last_used_at,organization_id,source,cloned_from,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.Name, nullable(t.Description), string(questions), t.IsDefault, t.Active, t.UsageCount, nullableStringPtr(t.LastUsedAt),
		t.OrganizationID, t.Source, nullableStringPtr(t.ClonedFrom), t.CreatedBy, t.CreatedAt, t.UpdatedAt); err != nil {
		if t.IsDefault && isUniqueViolation(err) {
			return ErrDefaultConflict
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return tx.Commit()
}

// UpdateTemplate overwrites the mutable fields of a template.
func (r Repo) UpdateTemplate(ctx context.Context, t domain.Template) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if t.IsDefault {
		if err := r.demoteDefaults(ctx, tx, t.OrganizationID, t.ID, t.UpdatedAt); err != nil {
			return fmt.Errorf("demote defaults: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE templates SET name=?, description=?, questions_json=?, is_default=?, active=?, updated_at=? WHERE id=?`),
		t.Name, nullable(t.Description), string(questions), t.IsDefault, t.Active, t.UpdatedAt, t.ID)
	if err != nil {
		if t.IsDefault && isUniqueViolation(err) {
			return ErrDefaultConflict
		}
		return fmt.Errorf("update template: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, r.q(`SELECT `+templateColumns+` FROM templates WHERE id=?`), id))
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilter) ([]domain.Template, error) {
	var (
		where []string
		args  []any
	)
	if f.IncludeGlobal && f.OrganizationID != "" {
		where = append(where, "(organization_id=? OR organization_id='')")
	} else {
		where = append(where, "organization_id=?")
	}
	args = append(args, f.OrganizationID)
	if f.ActiveOnly {
		where = append(where, "active=?")
		args = append(args, true)
	}
	query := `SELECT ` + templateColumns + ` FROM templates WHERE ` + strings.Join(where, " AND ") + ` ORDER BY is_default DESC, name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DefaultTemplate returns the active default of the organization, falling back to the global
// default when the organization has none.
func (r Repo) DefaultTemplate(ctx context.Context, orgID string) (domain.Template, error) {
	query := r.q(`SELECT ` + templateColumns + ` FROM templates WHERE organization_id=? AND is_default=? AND active=?`)
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, query, orgID, true, true))
	if err == ErrNotFound && orgID != "" {
		return scanTemplate(r.DB.QueryRowContext(ctx, query, "", true, true))
	}
	return t, err
}

// DeleteTemplate removes a template unless a session still references it.
func (r Repo) DeleteTemplate(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var refs int
	if err := tx.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM sessions WHERE template_id=?`), id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d session(s)", ErrTemplateInUse, refs)
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM templates WHERE id=?`), id)
	if err != nil {
		return err
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}
