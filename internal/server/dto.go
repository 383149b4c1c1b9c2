package server

import (
	"encoding/json"
	"time"

	"intakeline/internal/domain"
)

// QuestionInput is the request form of a question; id and order are assigned when empty.
type QuestionInput struct {
	ID       string `json:"id,omitempty"`
	Prompt   string `json:"prompt"`
	Kind     string `json:"kind" enum:"short_text,long_text,single_select,multi_select,numeric,date"`
	Category string `json:"category"`
	Section  string `json:"section,omitempty"`
	Required bool   `json:"required,omitempty"`
	// Order is accepted for round-tripping; position in the list decides the order.
	Order       int      `json:"order,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	HelpText    string   `json:"help_text,omitempty"`
	Options     []string `json:"options,omitempty"`
}

func (q QuestionInput) question() domain.Question {
	return domain.Question{
		ID:          q.ID,
		Prompt:      q.Prompt,
		Kind:        domain.QuestionKind(q.Kind),
		Category:    q.Category,
		Section:     q.Section,
		Required:    q.Required,
		Placeholder: q.Placeholder,
		HelpText:    q.HelpText,
		Options:     q.Options,
	}
}

func questions(in []QuestionInput) []domain.Question {
	out := make([]domain.Question, 0, len(in))
	for _, q := range in {
		out = append(out, q.question())
	}
	return out
}

type TemplateCreateRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Questions      []QuestionInput `json:"questions"`
	OrganizationID string          `json:"organization_id,omitempty"`
	IsDefault      bool            `json:"is_default,omitempty"`
}

type TemplatePatchRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Questions   *[]QuestionInput `json:"questions,omitempty"`
	IsDefault   *bool            `json:"is_default,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type TemplateCloneRequest struct {
	Name string `json:"name,omitempty"`
}

type TemplateGenerateRequest struct {
	Name           string `json:"name"`
	RoleSummary    string `json:"role_summary"`
	Instructions   string `json:"instructions,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	IsDefault      bool   `json:"is_default,omitempty"`
}

type QuestionInsertRequest struct {
	// Index is the position to insert at; -1 appends.
	Index    int           `json:"index,omitempty" default:"-1"`
	Question QuestionInput `json:"question"`
}

type QuestionMoveRequest struct {
	Index int `json:"index" minimum:"0"`
}

type SessionCreateRequest struct {
	TemplateID      string     `json:"template_id,omitempty"`
	ClientID        string     `json:"client_id"`
	ConductorID     string     `json:"conductor_id,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Attendees       []string   `json:"attendees,omitempty"`
}

type ResponseRequest struct {
	Value any `json:"value"`
}

type ResponsesRequest struct {
	Answers map[string]any `json:"answers"`
}

type FollowUpRequest struct {
	Actions []string `json:"actions"`
}

type ScheduleRequest struct {
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

type AttendeeRequest struct {
	Email string `json:"email"`
}

type JobDescriptionRequest struct {
	Instructions string `json:"instructions,omitempty"`
}

type ArtifactUpdateRequest struct {
	Payload map[string]any `json:"payload"`
}

type InvitationsRequest struct {
	// Emails defaults to the session attendees.
	Emails      []string `json:"emails,omitempty"`
	MeetingLink string   `json:"meeting_link,omitempty"`
}

type InvitationsResponse struct {
	Results              []InvitationResultResponse `json:"results"`
	NeedsReauthorization bool                       `json:"needs_reauthorization"`
}

type InvitationResultResponse struct {
	Email        string `json:"email"`
	Status       string `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	RecordError  string `json:"record_error,omitempty"`
}

type BatchResponse struct {
	Session  domain.Session    `json:"session"`
	Accepted []string          `json:"accepted"`
	Errors   map[string]string `json:"errors,omitempty"`
}

type EventResponse struct {
	ID         string         `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}
