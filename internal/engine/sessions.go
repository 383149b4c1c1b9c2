package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"intakeline/internal/domain"
	"intakeline/internal/engine/capture"
	"intakeline/internal/events"
	"intakeline/internal/ids"
	"intakeline/internal/obs"
)

const (
	defaultSessionMinutes = 60
	maxSessionMinutes     = 8 * 60
)

// SessionCreateOptions are parameters for starting a session from a template.
type SessionCreateOptions struct {
	TemplateID      string
	ClientID        string
	ConductorID     string
	ScheduledAt     *time.Time
	DurationMinutes int
	Notes           string
	Attendees       []string
	ActorID         string
}

// BatchResult reports a multi-answer write. Accepted answers are stored even when others fail.
type BatchResult struct {
	Session  domain.Session    `json:"session"`
	Accepted []string          `json:"accepted"`
	Errors   map[string]string `json:"errors,omitempty"`
}

func ensureSessionTransition(oldStatus, newStatus string) error {
	allowed := map[string][]string{
		domain.SessionDraft:          {domain.SessionCompleted, domain.SessionFollowUpNeeded},
		domain.SessionCompleted:      {domain.SessionDraft},
		domain.SessionFollowUpNeeded: {domain.SessionDraft},
	}
	for _, s := range allowed[oldStatus] {
		if s == newStatus {
			return nil
		}
	}
	return precondition("session cannot move from %s to %s", oldStatus, newStatus)
}

func normalizeAttendees(in []string) ([]string, error) {
	var errs ValidationErrors
	out := []string{}
	seen := map[string]bool{}
	for _, raw := range in {
		email, err := NormalizeEmail(raw)
		if err != nil {
			errs = append(errs, err.(*ValidationError))
			continue
		}
		if seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func checkDuration(minutes int) (int, error) {
	if minutes == 0 {
		return defaultSessionMinutes, nil
	}
	if minutes < 0 || minutes > maxSessionMinutes {
		return 0, invalid("duration_minutes", "must be between 1 and %d", maxSessionMinutes)
	}
	return minutes, nil
}

// CreateSession starts a draft session with a snapshot of the template's questions.
func (e Engine) CreateSession(ctx context.Context, opts SessionCreateOptions) (domain.Session, error) {
	var errs ValidationErrors
	if strings.TrimSpace(opts.ClientID) == "" {
		errs = append(errs, invalid("client_id", "client is required"))
	}
	if strings.TrimSpace(opts.ConductorID) == "" {
		errs = append(errs, invalid("conductor_id", "conductor is required"))
	}
	if err := errs.orNil(); err != nil {
		return domain.Session{}, err
	}
	duration, err := checkDuration(opts.DurationMinutes)
	if err != nil {
		return domain.Session{}, err
	}
	attendees, err := normalizeAttendees(opts.Attendees)
	if err != nil {
		return domain.Session{}, err
	}
	var t domain.Template
	if strings.TrimSpace(opts.TemplateID) == "" {
		t, err = e.DefaultTemplate(ctx, strings.TrimSpace(opts.ClientID))
	} else {
		t, err = e.GetTemplate(ctx, opts.TemplateID)
	}
	if err != nil {
		return domain.Session{}, err
	}
	if !t.Active {
		return domain.Session{}, precondition("template %s is inactive", t.ID)
	}
	now := e.timestamp()
	s := domain.Session{
		ID:              ids.NewAt(e.now()),
		TemplateID:      t.ID,
		TemplateName:    t.Name,
		Questions:       copyQuestions(t.Questions),
		ClientID:        strings.TrimSpace(opts.ClientID),
		ConductorID:     strings.TrimSpace(opts.ConductorID),
		Status:          domain.SessionDraft,
		DurationMinutes: duration,
		Notes:           strings.TrimSpace(opts.Notes),
		FollowUpActions: []string{},
		Attendees:       attendees,
		Responses:       map[string]domain.Answer{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.ScheduledAt != nil {
		at := opts.ScheduledAt.UTC().Format(time.RFC3339)
		s.ScheduledAt = &at
	}
	if err := e.Sessions.InsertSession(ctx, s); err != nil {
		return domain.Session{}, notFound(fmt.Errorf("create session: %w", err), "template", t.ID)
	}
	obs.SessionTransitions.WithLabelValues(domain.SessionDraft).Inc()
	e.publish(ctx, "session.create", "session", s.ID, opts.ActorID, events.EventPayload{
		"template_id": t.ID, "client_id": s.ClientID, "questions": len(s.Questions),
	})
	return s, nil
}

func (e Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s, err := e.Sessions.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, notFound(err, "session", id)
	}
	return s, nil
}

// ListSessions lists sessions newest first; clientID narrows to one client when set.
func (e Engine) ListSessions(ctx context.Context, clientID string) ([]domain.Session, error) {
	return e.Sessions.ListSessions(ctx, clientID)
}

func (e Engine) updateSession(ctx context.Context, id string, fn func(*domain.Session) error) (domain.Session, error) {
	s, err := e.Sessions.UpdateSession(ctx, id, fn)
	if err != nil {
		return domain.Session{}, notFound(err, "session", id)
	}
	return s, nil
}

// applyAnswers merges answers into the session. Empty answers clear the stored response. Existing
// artifacts go stale when anything changed.
func (e Engine) applyAnswers(s *domain.Session, answers map[string]domain.Answer) bool {
	if s.Responses == nil {
		s.Responses = map[string]domain.Answer{}
	}
	changed := false
	for qid, a := range answers {
		old, had := s.Responses[qid]
		if a.IsEmpty() {
			if had {
				delete(s.Responses, qid)
				changed = true
			}
			continue
		}
		if had && reflect.DeepEqual(old, a) {
			continue
		}
		s.Responses[qid] = a
		changed = true
	}
	if changed {
		now := e.timestamp()
		s.ResponsesUpdatedAt = &now
		s.UpdatedAt = now
		markStale(s)
	}
	return changed
}

func markStale(s *domain.Session) {
	if s.JobDescription != nil {
		s.JobDescription.Stale = true
	}
	for k, a := range s.InterviewTemplates {
		a.Stale = true
		s.InterviewTemplates[k] = a
	}
}

func missingIDs(s domain.Session) []string {
	var out []string
	for _, q := range capture.Missing(s.Questions, s.Responses) {
		out = append(out, q.ID)
	}
	return out
}

// RecordResponse validates and stores one answer. Draft and follow-up sessions accept any valid
// answer; a completed session only accepts answers that keep it complete. A nil raw value
// clears the answer.
func (e Engine) RecordResponse(ctx context.Context, sessionID, questionID string, raw any, actorID string) (domain.Session, error) {
	changed := false
	s, err := e.updateSession(ctx, sessionID, func(s *domain.Session) error {
		a, err := capture.Capture(s.Questions, questionID, raw)
		if err != nil {
			return fieldError(err)
		}
		changed = e.applyAnswers(s, map[string]domain.Answer{questionID: a})
		if s.Status == domain.SessionCompleted {
			if missing := missingIDs(*s); len(missing) > 0 {
				return &IncompleteSessionError{Missing: missing}
			}
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	if changed {
		e.publish(ctx, "session.response", "session", s.ID, actorID, events.EventPayload{"question_id": questionID})
	}
	return s, nil
}

// RecordResponses validates each answer independently and stores the valid ones in one write.
func (e Engine) RecordResponses(ctx context.Context, sessionID string, raw map[string]any, actorID string) (BatchResult, error) {
	res := BatchResult{Accepted: []string{}}
	s, err := e.updateSession(ctx, sessionID, func(s *domain.Session) error {
		accepted, errs := capture.CaptureBatch(s.Questions, raw)
		e.applyAnswers(s, accepted)
		if s.Status == domain.SessionCompleted {
			if missing := missingIDs(*s); len(missing) > 0 {
				return &IncompleteSessionError{Missing: missing}
			}
		}
		res.Accepted = res.Accepted[:0]
		for qid := range accepted {
			res.Accepted = append(res.Accepted, qid)
		}
		sort.Strings(res.Accepted)
		if len(errs) > 0 {
			res.Errors = map[string]string{}
			for qid, err := range errs {
				res.Errors[qid] = fieldError(err).Message
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	res.Session = s
	if len(res.Accepted) > 0 {
		e.publish(ctx, "session.responses", "session", s.ID, actorID, events.EventPayload{"accepted": res.Accepted, "rejected": len(res.Errors)})
	}
	return res, nil
}

func fieldError(err error) *ValidationError {
	if fe, ok := err.(*capture.FieldError); ok {
		return &ValidationError{Field: fe.QuestionID, Message: fe.Message}
	}
	return &ValidationError{Message: err.Error()}
}

// CompleteSession closes a draft session once every required question is answered.
func (e Engine) CompleteSession(ctx context.Context, id, actorID string) (domain.Session, error) {
	s, err := e.updateSession(ctx, id, func(s *domain.Session) error {
		if err := ensureSessionTransition(s.Status, domain.SessionCompleted); err != nil {
			return err
		}
		if missing := missingIDs(*s); len(missing) > 0 {
			return &IncompleteSessionError{Missing: missing}
		}
		now := e.timestamp()
		s.Status = domain.SessionCompleted
		s.CompletedAt = &now
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	obs.SessionTransitions.WithLabelValues(domain.SessionCompleted).Inc()
	e.publish(ctx, "session.complete", "session", s.ID, actorID, events.EventPayload{"answers": len(s.Responses)})
	return s, nil
}

// MarkFollowUp parks a draft session with the actions needed before it can be completed.
func (e Engine) MarkFollowUp(ctx context.Context, id string, actions []string, actorID string) (domain.Session, error) {
	cleaned := make([]string, 0, len(actions))
	for i, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			return domain.Session{}, invalid(fmt.Sprintf("actions[%d]", i), "action must not be empty")
		}
		cleaned = append(cleaned, a)
	}
	if len(cleaned) == 0 {
		return domain.Session{}, invalid("actions", "at least one follow-up action is required")
	}
	s, err := e.updateSession(ctx, id, func(s *domain.Session) error {
		if err := ensureSessionTransition(s.Status, domain.SessionFollowUpNeeded); err != nil {
			return err
		}
		s.Status = domain.SessionFollowUpNeeded
		s.CompletedAt = nil
		s.FollowUpActions = cleaned
		s.UpdatedAt = e.timestamp()
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	obs.SessionTransitions.WithLabelValues(domain.SessionFollowUpNeeded).Inc()
	e.publish(ctx, "session.follow_up", "session", s.ID, actorID, events.EventPayload{"actions": cleaned})
	return s, nil
}

// ReopenSession returns a completed or follow-up session to draft.
func (e Engine) ReopenSession(ctx context.Context, id, actorID string) (domain.Session, error) {
	var from string
	s, err := e.updateSession(ctx, id, func(s *domain.Session) error {
		if err := ensureSessionTransition(s.Status, domain.SessionDraft); err != nil {
			return err
		}
		from = s.Status
		s.Status = domain.SessionDraft
		s.CompletedAt = nil
		s.UpdatedAt = e.timestamp()
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	obs.SessionTransitions.WithLabelValues(domain.SessionDraft).Inc()
	e.publish(ctx, "session.reopen", "session", s.ID, actorID, events.EventPayload{"from": from})
	return s, nil
}

// ScheduleSession sets or clears (at == nil) the meeting time. durationMinutes of 0 keeps the
// current duration.
func (e Engine) ScheduleSession(ctx context.Context, id string, at *time.Time, durationMinutes int, actorID string) (domain.Session, error) {
	if durationMinutes != 0 {
		if _, err := checkDuration(durationMinutes); err != nil {
			return domain.Session{}, err
		}
	}
	s, err := e.updateSession(ctx, id, func(s *domain.Session) error {
		s.ScheduledAt = nil
		if at != nil {
			ts := at.UTC().Format(time.RFC3339)
			s.ScheduledAt = &ts
		}
		if durationMinutes != 0 {
			s.DurationMinutes = durationMinutes
		}
		s.UpdatedAt = e.timestamp()
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	payload := events.EventPayload{"duration_minutes": s.DurationMinutes}
	if s.ScheduledAt != nil {
		payload["scheduled_at"] = *s.ScheduledAt
	}
	e.publish(ctx, "session.schedule", "session", s.ID, actorID, payload)
	return s, nil
}

// UpdateNotes replaces the free-form notes. Notes feed generation, so artifacts go stale.
func (e Engine) UpdateNotes(ctx context.Context, id, notes, actorID string) (domain.Session, error) {
	notes = strings.TrimSpace(notes)
	s, err := e.updateSession(ctx, id, func(s *domain.Session) error {
		if s.Notes == notes {
			return nil
		}
		s.Notes = notes
		s.UpdatedAt = e.timestamp()
		markStale(s)
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	e.publish(ctx, "session.notes", "session", s.ID, actorID, nil)
	return s, nil
}

// DeleteSession removes the session with its answers, artifacts and invitations.
func (e Engine) DeleteSession(ctx context.Context, id, actorID string) error {
	if err := e.Sessions.DeleteSession(ctx, id); err != nil {
		return notFound(err, "session", id)
	}
	e.publish(ctx, "session.delete", "session", id, actorID, nil)
	return nil
}
