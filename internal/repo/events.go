package repo

import (
	"context"
	"strings"

	"intakeline/internal/domain"
)

// EventFilter narrows LatestEvents. Empty fields match everything.
type EventFilter struct {
	Limit      int
	Type       string
	EntityKind string
	EntityID   string
	// Before returns only events older than this event id.
	Before string
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		where = append(where, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before != "" {
		where = append(where, "id<?")
		args = append(args, f.Before)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,'') AS entity_id,actor_id,payload_json FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query += " LIMIT ?"
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
