package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intakeline/internal/domain"
	"intakeline/internal/events"
	"intakeline/internal/ids"
	"intakeline/internal/obs"
	"intakeline/internal/repo"
)

var invitationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("intakeline/invitation"))

// InvitationResult is the outcome for one recipient.
type InvitationResult struct {
	Email        string `json:"email"`
	Status       string `json:"status" enum:"delivered,already_sent,failed"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	// RecordError is set when a sent invitation could not be stored. A later call will send it again.
	RecordError string `json:"record_error,omitempty"`
}

// IdempotencyKey identifies one invitation of a recipient for one scheduled time. Rescheduling
// yields a new key.
func IdempotencyKey(sessionID, email, scheduledAt string) string {
	return uuid.NewSHA1(invitationNamespace, []byte(sessionID+"|"+email+"|"+scheduledAt)).String()
}

// NeedsReauthorization reports whether any recipient failed for lack of mail authorization.
func NeedsReauthorization(results []InvitationResult) bool {
	for _, r := range results {
		if r.ErrorKind == KindAuthScope {
			return true
		}
	}
	return false
}

func (e Engine) AddAttendee(ctx context.Context, sessionID, email, actorID string) (domain.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.Session{}, err
	}
	added := false
	s, err := e.updateSession(ctx, sessionID, func(s *domain.Session) error {
		for _, a := range s.Attendees {
			if a == email {
				return nil
			}
		}
		s.Attendees = append(s.Attendees, email)
		s.UpdatedAt = e.timestamp()
		added = true
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	if added {
		e.publish(ctx, "session.attendee.add", "session", s.ID, actorID, events.EventPayload{"email": email})
	}
	return s, nil
}

func (e Engine) RemoveAttendee(ctx context.Context, sessionID, email, actorID string) (domain.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.Session{}, err
	}
	s, err := e.updateSession(ctx, sessionID, func(s *domain.Session) error {
		kept := s.Attendees[:0]
		for _, a := range s.Attendees {
			if a != email {
				kept = append(kept, a)
			}
		}
		if len(kept) == len(s.Attendees) {
			return &NotFoundError{Entity: "attendee", ID: email}
		}
		s.Attendees = kept
		s.UpdatedAt = e.timestamp()
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	e.publish(ctx, "session.attendee.remove", "session", s.ID, actorID, events.EventPayload{"email": email})
	return s, nil
}

func (e Engine) ListInvitations(ctx context.Context, sessionID string) ([]domain.Invitation, error) {
	if _, err := e.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.Invitations.ListInvitations(ctx, sessionID)
}

// SendInvitations invites recipients to a scheduled session. An empty list means every attendee.
// Each recipient gets one delivery attempt; outcomes are reported per recipient and the call
// itself only fails when nothing could be attempted.
func (e Engine) SendInvitations(ctx context.Context, sessionID string, emails []string, meetingLink, actorID string) ([]InvitationResult, error) {
	s, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.ScheduledAt == nil {
		return nil, precondition("session %s is not scheduled; schedule it before sending invitations", s.ID)
	}
	scheduledAt, err := time.Parse(time.RFC3339, *s.ScheduledAt)
	if err != nil {
		return nil, fmt.Errorf("parse scheduled time of session %s: %w", s.ID, err)
	}
	if e.Mailer == nil {
		return nil, precondition("no mail backend configured")
	}
	if len(emails) == 0 {
		emails = s.Attendees
	}
	if len(emails) == 0 {
		return nil, invalid("emails", "no recipients given and the session has no attendees")
	}
	meta := SessionMeta{
		SessionID:       s.ID,
		Title:           "Intake meeting: " + s.TemplateName,
		ClientID:        s.ClientID,
		ConductorID:     s.ConductorID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: s.DurationMinutes,
		Attendees:       s.Attendees,
	}

	results := make([]InvitationResult, 0, len(emails))
	seen := map[string]bool{}
	counts := map[string]int{}
	for _, raw := range emails {
		email, err := NormalizeEmail(raw)
		if err != nil {
			results = append(results, InvitationResult{Email: raw, Status: domain.InvitationFailed, ErrorKind: KindValidation, Error: err.Error()})
			counts[domain.InvitationFailed]++
			obs.InvitationsTotal.WithLabelValues(domain.InvitationFailed, KindValidation).Inc()
			continue
		}
		if seen[email] {
			continue
		}
		seen[email] = true
		res := e.invite(ctx, s, meta, email, *s.ScheduledAt, meetingLink, actorID)
		counts[res.Status]++
		obs.InvitationsTotal.WithLabelValues(res.Status, res.ErrorKind).Inc()
		results = append(results, res)
	}
	e.publish(ctx, "session.invite", "session", s.ID, actorID, events.EventPayload{
		"scheduled_at": *s.ScheduledAt, "delivered": counts[domain.InvitationDelivered],
		"already_sent": counts[domain.InvitationAlreadySent], "failed": counts[domain.InvitationFailed],
		"needs_reauthorization": NeedsReauthorization(results),
	})
	return results, nil
}

func (e Engine) invite(ctx context.Context, s domain.Session, meta SessionMeta, email, scheduledAt, meetingLink, actorID string) InvitationResult {
	key := IdempotencyKey(s.ID, email, scheduledAt)
	prev, err := e.Invitations.DeliveredInvitation(ctx, key)
	if err == nil {
		return InvitationResult{Email: email, Status: domain.InvitationAlreadySent, InvitationID: prev.ID, MessageID: prev.ProviderMessageID}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return InvitationResult{Email: email, Status: domain.InvitationFailed, ErrorKind: KindDelivery, Error: fmt.Sprintf("check previous deliveries: %v", err)}
	}

	inv := domain.Invitation{
		ID:             ids.NewAt(e.now()),
		SessionID:      s.ID,
		Email:          email,
		IdempotencyKey: key,
		MeetingLink:    meetingLink,
		ScheduledFor:   scheduledAt,
		ActorID:        actorID,
		CreatedAt:      e.timestamp(),
	}
	delivery, sendErr := e.Mailer.SendInvite(ctx, email, meta, meetingLink)
	res := InvitationResult{Email: email, InvitationID: inv.ID}
	if sendErr == nil {
		inv.Status = domain.InvitationDelivered
		inv.ProviderMessageID = delivery.MessageID
		inv.DeliveredAt = &inv.CreatedAt
		res.Status = domain.InvitationDelivered
		res.MessageID = delivery.MessageID
	} else {
		var scopeErr *AuthScopeError
		inv.Status = domain.InvitationFailed
		inv.ErrorKind = KindDelivery
		if errors.As(sendErr, &scopeErr) {
			inv.ErrorKind = KindAuthScope
		}
		inv.Error = sendErr.Error()
		res.Status = domain.InvitationFailed
		res.ErrorKind = inv.ErrorKind
		res.Error = inv.Error
	}
	if err := e.Invitations.InsertInvitation(context.WithoutCancel(ctx), inv); err != nil {
		e.logf("record invitation for %s on session %s: %v", email, s.ID, err)
		res.RecordError = fmt.Sprintf("invitation not recorded: %v", err)
	}
	return res
}
