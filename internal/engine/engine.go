package engine

import (
	"context"
	"database/sql"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"intakeline/internal/config"
	"intakeline/internal/domain"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

// Engine runs the template, session, generation and invitation operations. Generator and Mailer
// are optional until the corresponding operations are used.
type Engine struct {
	Templates   TemplateRepository
	Sessions    SessionRepository
	Invitations InvitationRepository
	Leases      LeaseRepository
	Events      Publisher
	History     EventLog
	Generator   Generator
	Mailer      Mailer
	Config      *config.Config
	Logger      *log.Logger
	Now         func() time.Time
	// Sleep waits between generation attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New wires an Engine to a migrated database.
func New(db *sql.DB, driver string, cfg *config.Config) Engine {
	r := repo.Repo{DB: db, Driver: driver}
	return Engine{
		Templates:   r,
		Sessions:    r,
		Invitations: r,
		Leases:      r,
		Events:      events.Writer{DB: db, Driver: driver},
		History:     r,
		Config:      cfg,
		Logger:      log.New(os.Stderr, "intakeline: ", log.LstdFlags),
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// publish records an event. The state change it describes is already committed, so a failing
// publisher is logged and not surfaced.
func (e Engine) publish(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	evt, err := events.New(e.now(), evtType, entityKind, entityID, actorID, payload)
	if err == nil {
		err = e.Events.Publish(ctx, evt)
	}
	if err != nil {
		e.logf("publish %s for %s %s: %v", evtType, entityKind, entityID, err)
	}
}

// ListEvents returns the newest events first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	if e.History == nil {
		return nil, precondition("event history is not available")
	}
	return e.History.LatestEvents(ctx, f)
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail lower-cases and trims an address and checks its shape.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return "", invalid("email", "%q is not a valid email address", raw)
	}
	return email, nil
}

func copyQuestions(in []domain.Question) []domain.Question {
	out := make([]domain.Question, len(in))
	for i, q := range in {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
