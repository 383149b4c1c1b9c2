package repo

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"intakeline/internal/domain"
)

const sessionColumns = `id,template_id,template_name,questions_json,client_id,conductor_id,status,scheduled_at,duration_minutes,completed_at,COALESCE(notes,'') AS notes,follow_up_json,created_at,updated_at,responses_updated_at`

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                  domain.Session
		questions          string
		followUps          string
		scheduledAt        sql.NullString
		completedAt        sql.NullString
		responsesUpdatedAt sql.NullString
	)
	err := row.Scan(&s.ID, &s.TemplateID, &s.TemplateName, &questions, &s.ClientID, &s.ConductorID, &s.Status,
		&scheduledAt, &s.DurationMinutes, &completedAt, &s.Notes, &followUps, &s.CreatedAt, &s.UpdatedAt, &responsesUpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(questions), &s.Questions); err != nil {
		return s, fmt.Errorf("decode questions of session %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(followUps), &s.FollowUpActions); err != nil {
		return s, fmt.Errorf("decode follow-ups of session %s: %w", s.ID, err)
	}
	s.ScheduledAt = stringPtr(scheduledAt)
	s.CompletedAt = stringPtr(completedAt)
	s.ResponsesUpdatedAt = stringPtr(responsesUpdatedAt)
	return s, nil
}

// InsertSession stores a new session with its attendees and records the template use in the same
// transaction.
func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	questions, err := json.Marshal(s.Questions)
	if err != nil {
		return err
	}
	followUps, err := json.Marshal(nonNilStrings(s.FollowUpActions))
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO sessions(id,template_id,template_name,questions_json,client_id,conductor_id,status,scheduled_at,duration_minutes,completed_at,notes,follow_up_json,created_at,updated_at,responses_updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		s.ID, s.TemplateID, s.TemplateName, string(questions), s.ClientID, s.ConductorID, s.Status,
		nullableStringPtr(s.ScheduledAt), s.DurationMinutes, nullableStringPtr(s.CompletedAt), nullable(s.Notes), string(followUps),
		s.CreatedAt, s.UpdatedAt, nullableStringPtr(s.ResponsesUpdatedAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for _, email := range s.Attendees {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO session_attendees(session_id,email,added_at) VALUES (?,?,?) ON CONFLICT(session_id,email) DO NOTHING`),
			s.ID, email, s.CreatedAt); err != nil {
			return fmt.Errorf("insert attendee: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE templates SET usage_count=usage_count+1, last_used_at=? WHERE id=?`), s.CreatedAt, s.TemplateID)
	if err != nil {
		return fmt.Errorf("increment template usage: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return r.getSession(ctx, r.DB, id)
}

func (r Repo) getSession(ctx context.Context, q querier, id string) (domain.Session, error) {
	s, err := scanSession(q.QueryRowContext(ctx, r.q(`SELECT `+sessionColumns+` FROM sessions WHERE id=?`), id))
	if err != nil {
		return s, err
	}
	if s.Responses, err = r.loadResponses(ctx, q, id); err != nil {
		return s, err
	}
	if s.Attendees, err = r.loadAttendees(ctx, q, id); err != nil {
		return s, err
	}
	if err := r.loadArtifacts(ctx, q, &s); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) loadResponses(ctx context.Context, q querier, sessionID string) (map[string]domain.Answer, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT question_id,answer_json FROM session_responses WHERE session_id=?`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.Answer{}
	for rows.Next() {
		var qid, raw string
		if err := rows.Scan(&qid, &raw); err != nil {
			return nil, err
		}
		var a domain.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", qid, err)
		}
		res[qid] = a
	}
	return res, rows.Err()
}

func (r Repo) loadAttendees(ctx context.Context, q querier, sessionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT email FROM session_attendees WHERE session_id=? ORDER BY added_at ASC, email ASC`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		res = append(res, email)
	}
	return res, rows.Err()
}

func (r Repo) loadArtifacts(ctx context.Context, q querier, s *domain.Session) error {
	rows, err := q.QueryContext(ctx, r.q(`SELECT kind,interview_type,payload_json,stale,source,COALESCE(model,'') AS model,attempts,generated_at,updated_at FROM session_artifacts WHERE session_id=?`), s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind, interviewType, payload string
			meta                         = domain.ArtifactMeta{SessionID: s.ID}
		)
		if err := rows.Scan(&kind, &interviewType, &payload, &meta.Stale, &meta.Source, &meta.Model, &meta.Attempts, &meta.GeneratedAt, &meta.UpdatedAt); err != nil {
			return err
		}
		switch kind {
		case domain.ArtifactJobDescription:
			a := &domain.JobDescriptionArtifact{ArtifactMeta: meta}
			if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
				return fmt.Errorf("decode job description of session %s: %w", s.ID, err)
			}
			s.JobDescription = a
		case domain.ArtifactInterviewTemplate:
			a := domain.InterviewArtifact{ArtifactMeta: meta, InterviewType: interviewType}
			if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
				return fmt.Errorf("decode %s interview template of session %s: %w", interviewType, s.ID, err)
			}
			if s.InterviewTemplates == nil {
				s.InterviewTemplates = map[string]domain.InterviewArtifact{}
			}
			s.InterviewTemplates[interviewType] = a
		default:
			return fmt.Errorf("unknown artifact kind %q", kind)
		}
	}
	return rows.Err()
}

// ListSessions returns sessions newest first, optionally limited to one client.
func (r Repo) ListSessions(ctx context.Context, clientID string) ([]domain.Session, error) {
	query := `SELECT id FROM sessions`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// UpdateSession locks the session row, loads the session, applies fn and writes back whatever fn
// changed. Responses are merged per question id. fn must not touch the repository.
func (r Repo) UpdateSession(ctx context.Context, id string, fn func(*domain.Session) error) (domain.Session, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, r.q(`UPDATE sessions SET updated_at=updated_at WHERE id=?`), id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("lock session: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return domain.Session{}, err
	}
	before, err := r.getSession(ctx, tx, id)
	if err != nil {
		return domain.Session{}, err
	}
	after, err := r.getSession(ctx, tx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if err := fn(&after); err != nil {
		return domain.Session{}, err
	}
	if err := r.writeSession(ctx, tx, before, after); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return after, nil
}

func (r Repo) writeSession(ctx context.Context, tx *sql.Tx, before, after domain.Session) error {
	followUps, err := json.Marshal(nonNilStrings(after.FollowUpActions))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.q(`UPDATE sessions SET status=?, scheduled_at=?, duration_minutes=?, completed_at=?, notes=?, follow_up_json=?, updated_at=?, responses_updated_at=? WHERE id=?`),
		after.Status, nullableStringPtr(after.ScheduledAt), after.DurationMinutes, nullableStringPtr(after.CompletedAt), nullable(after.Notes),
		string(followUps), after.UpdatedAt, nullableStringPtr(after.ResponsesUpdatedAt), after.ID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	ts := after.UpdatedAt
	for qid, a := range after.Responses {
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if old, ok := before.Responses[qid]; ok {
			prev, _ := json.Marshal(old)
			if bytes.Equal(prev, raw) {
				continue
			}
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO session_responses(session_id,question_id,answer_json,updated_at) VALUES (?,?,?,?) ON CONFLICT(session_id,question_id) DO UPDATE SET answer_json=excluded.answer_json, updated_at=excluded.updated_at`),
			after.ID, qid, string(raw), ts); err != nil {
			return fmt.Errorf("upsert response %s: %w", qid, err)
		}
	}
	for qid := range before.Responses {
		if _, ok := after.Responses[qid]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM session_responses WHERE session_id=? AND question_id=?`), after.ID, qid); err != nil {
			return fmt.Errorf("delete response %s: %w", qid, err)
		}
	}

	had := map[string]bool{}
	for _, e := range before.Attendees {
		had[e] = true
	}
	keep := map[string]bool{}
	for _, e := range after.Attendees {
		keep[e] = true
		if had[e] {
			continue
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO session_attendees(session_id,email,added_at) VALUES (?,?,?) ON CONFLICT(session_id,email) DO NOTHING`),
			after.ID, e, ts); err != nil {
			return fmt.Errorf("insert attendee: %w", err)
		}
	}
	for e := range had {
		if keep[e] {
			continue
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM session_attendees WHERE session_id=? AND email=?`), after.ID, e); err != nil {
			return fmt.Errorf("delete attendee: %w", err)
		}
	}

	oldArtifacts, err := artifactRows(before)
	if err != nil {
		return err
	}
	newArtifacts, err := artifactRows(after)
	if err != nil {
		return err
	}
	for key, a := range newArtifacts {
		if old, ok := oldArtifacts[key]; ok && old.equal(a) {
			continue
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO session_artifacts(session_id,kind,interview_type,payload_json,stale,source,model,attempts,generated_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(session_id,kind,interview_type) DO UPDATE SET payload_json=excluded.payload_json, stale=excluded.stale, source=excluded.source, model=excluded.model, attempts=excluded.attempts, generated_at=excluded.generated_at, updated_at=excluded.updated_at`),
			after.ID, a.kind, a.interviewType, string(a.payload), a.meta.Stale, a.meta.Source, nullable(a.meta.Model), a.meta.Attempts, a.meta.GeneratedAt, a.meta.UpdatedAt); err != nil {
			return fmt.Errorf("upsert %s artifact: %w", a.kind, err)
		}
	}
	for key, a := range oldArtifacts {
		if _, ok := newArtifacts[key]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM session_artifacts WHERE session_id=? AND kind=? AND interview_type=?`), after.ID, a.kind, a.interviewType); err != nil {
			return fmt.Errorf("delete %s artifact: %w", a.kind, err)
		}
	}
	return nil
}

type artifactRow struct {
	kind          string
	interviewType string
	payload       []byte
	meta          domain.ArtifactMeta
}

func (a artifactRow) equal(b artifactRow) bool {
	return a.meta == b.meta && bytes.Equal(a.payload, b.payload)
}

func artifactRows(s domain.Session) (map[string]artifactRow, error) {
	res := map[string]artifactRow{}
	if s.JobDescription != nil {
		payload, err := json.Marshal(s.JobDescription.Payload)
		if err != nil {
			return nil, err
		}
		res[domain.ArtifactJobDescription] = artifactRow{kind: domain.ArtifactJobDescription, payload: payload, meta: s.JobDescription.ArtifactMeta}
	}
	for t, a := range s.InterviewTemplates {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, err
		}
		res[domain.ArtifactInterviewTemplate+"/"+t] = artifactRow{kind: domain.ArtifactInterviewTemplate, interviewType: t, payload: payload, meta: a.ArtifactMeta}
	}
	return res, nil
}

// DeleteSession removes a session and everything it owns. The template is left untouched.
func (r Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM sessions WHERE id=?`), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
