package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/ids"
)

// Writer appends events to the events table.
type Writer struct {
	DB     *sql.DB
	Driver string
	Now    func() time.Time
}

type EventPayload map[string]any

// New builds an event with a fresh id and the payload encoded as JSON.
func New(ts time.Time, evtType, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return domain.Event{
		ID:         ids.NewAt(ts),
		TS:         ts.UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}, nil
}

// Publish stores evt, filling id and timestamp when missing.
func (w Writer) Publish(ctx context.Context, evt domain.Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	now := w.Now()
	if evt.ID == "" {
		evt.ID = ids.NewAt(now)
	}
	if evt.TS == "" {
		evt.TS = now.UTC().Format(time.RFC3339)
	}
	if evt.Payload == "" {
		evt.Payload = "{}"
	}
	_, err := w.DB.ExecContext(ctx, db.Rebind(w.Driver, `INSERT INTO events(id,ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		evt.ID, evt.TS, evt.Type, evt.EntityKind, nullable(evt.EntityID), evt.ActorID, evt.Payload)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
