package engine

import (
	"context"
	"encoding/json"
	"time"

	"intakeline/internal/domain"
	"intakeline/internal/repo"
)

type TemplateRepository interface {
	InsertTemplate(ctx context.Context, t domain.Template) error
	UpdateTemplate(ctx context.Context, t domain.Template) error
	GetTemplate(ctx context.Context, id string) (domain.Template, error)
	ListTemplates(ctx context.Context, f repo.TemplateFilter) ([]domain.Template, error)
	DefaultTemplate(ctx context.Context, orgID string) (domain.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

type SessionRepository interface {
	// InsertSession also increments the usage of the session's template.
	InsertSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, clientID string) ([]domain.Session, error)
	// UpdateSession applies fn to the current session atomically.
	UpdateSession(ctx context.Context, id string, fn func(*domain.Session) error) (domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

type InvitationRepository interface {
	InsertInvitation(ctx context.Context, inv domain.Invitation) error
	ListInvitations(ctx context.Context, sessionID string) ([]domain.Invitation, error)
	DeliveredInvitation(ctx context.Context, idempotencyKey string) (domain.Invitation, error)
}

type LeaseRepository interface {
	AcquireLease(ctx context.Context, sessionID, owner string, now, expiresAt time.Time) error
	ReleaseLease(ctx context.Context, sessionID, owner string) error
}

// GenerateRequest asks the backend for a JSON document matching Schema.
type GenerateRequest struct {
	Name         string
	SystemPrompt string
	Prompt       string
	Schema       json.RawMessage
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Generator produces structured output. Implementations should honour ctx cancellation.
type Generator interface {
	StructuredGenerate(ctx context.Context, req GenerateRequest) (json.RawMessage, error)
}

// SessionMeta is the part of a session an invitation needs.
type SessionMeta struct {
	SessionID       string
	Title           string
	ClientID        string
	ConductorID     string
	ScheduledAt     time.Time
	DurationMinutes int
	Attendees       []string
}

type DeliveryResult struct {
	MessageID string
}

// Mailer delivers a single invitation. Failures are *AuthScopeError or *DeliveryError.
type Mailer interface {
	SendInvite(ctx context.Context, to string, meta SessionMeta, meetingLink string) (DeliveryResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// EventLog reads back published events.
type EventLog interface {
	LatestEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error)
}
