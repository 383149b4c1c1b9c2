package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

func scheduledSession(t *testing.T, env testEnv, attendees ...string) domain.Session {
	t.Helper()
	tpl := createTemplate(t, env, "Role Discussion")
	s, err := env.Engine.CreateSession(env.Ctx, engine.SessionCreateOptions{
		TemplateID: tpl.ID, ClientID: "client-1", ConductorID: "recruiter", Attendees: attendees,
	})
	require.NoError(t, err)
	at := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	s, err = env.Engine.ScheduleSession(env.Ctx, s.ID, &at, 30, "recruiter")
	require.NoError(t, err)
	return s
}

func TestSendInvitationsRequiresSchedule(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	env.Engine.Mailer = mailer
	tpl := createTemplate(t, env, "Role Discussion")
	s := createSession(t, env, tpl.ID)

	_, err := env.Engine.SendInvitations(env.Ctx, s.ID, []string{"a@example.com"}, "", "recruiter")
	assertKind(t, err, engine.KindPrecondition)
	mailer.AssertNotCalled(t, "SendInvite", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	env.Engine.Mailer = nil
	_, err = env.Engine.SendInvitations(env.Ctx, s.ID, []string{"a@example.com"}, "", "recruiter")
	assertKind(t, err, engine.KindPrecondition)
}

func TestSendInvitationsReportsPerRecipient(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	env.Engine.Mailer = mailer
	s := scheduledSession(t, env)

	meta := mock.MatchedBy(func(m engine.SessionMeta) bool {
		return m.SessionID == s.ID && m.DurationMinutes == 30 && m.ScheduledAt.Equal(time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC))
	})
	link := "https://meet.example.com/abc"
	mailer.On("SendInvite", mock.Anything, "a@example.com", meta, link).Return(engine.DeliveryResult{MessageID: "m-a"}, nil).Once()
	mailer.On("SendInvite", mock.Anything, "b@example.com", meta, link).Return(engine.DeliveryResult{}, &engine.AuthScopeError{Message: "insufficient scope"}).Once()
	mailer.On("SendInvite", mock.Anything, "c@example.com", meta, link).Return(engine.DeliveryResult{MessageID: "m-c"}, nil).Once()

	results, err := env.Engine.SendInvitations(env.Ctx, s.ID, []string{"a@example.com", "B@example.com", "c@example.com"}, link, "recruiter")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, domain.InvitationDelivered, results[0].Status)
	assert.Equal(t, "m-a", results[0].MessageID)
	assert.Equal(t, domain.InvitationFailed, results[1].Status)
	assert.Equal(t, engine.KindAuthScope, results[1].ErrorKind)
	assert.Equal(t, domain.InvitationDelivered, results[2].Status)
	assert.True(t, engine.NeedsReauthorization(results))
	mailer.AssertExpectations(t)

	invs, err := env.Engine.ListInvitations(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, invs, 3)
}

type unrecordedInvitations struct {
	engine.InvitationRepository
}

func (unrecordedInvitations) InsertInvitation(context.Context, domain.Invitation) error {
	return errors.New("database is locked")
}

func TestSendInvitationsReportsUnrecordedDelivery(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	env.Engine.Mailer = mailer
	env.Engine.Invitations = unrecordedInvitations{env.Engine.Invitations}
	s := scheduledSession(t, env)
	mailer.On("SendInvite", mock.Anything, "a@example.com", mock.Anything, "").Return(engine.DeliveryResult{MessageID: "m-a"}, nil).Twice()

	for i := 0; i < 2; i++ {
		results, err := env.Engine.SendInvitations(env.Ctx, s.ID, []string{"a@example.com"}, "", "recruiter")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, domain.InvitationDelivered, results[0].Status)
		assert.Contains(t, results[0].RecordError, "database is locked")
	}
	mailer.AssertExpectations(t)

	invs, err := env.Engine.ListInvitations(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, invs)
}

func TestSendInvitationsIsIdempotentPerSchedule(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	env.Engine.Mailer = mailer
	s := scheduledSession(t, env)
	mailer.On("SendInvite", mock.Anything, "a@example.com", mock.Anything, "").Return(engine.DeliveryResult{MessageID: "m-1"}, nil)

	first, err := env.Engine.SendInvitations(env.Ctx, s.ID, []string{"a@example.com"}, "", "recruiter")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, domain.InvitationDelivered, first[0].Status)

	again, err := env.Engine.SendInvitations(env.Ctx, s.ID, []string{"A@Example.com", "a@example.com"}, "", "recruiter")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, domain.InvitationAlreadySent, again[0].Status)
	assert.Equal(t, first[0].InvitationID, again[0].InvitationID)
	mailer.AssertNumberOfCalls(t, "SendInvite", 1)

	later := time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC)
	_, err = env.Engine.ScheduleSession(env.Ctx, s.ID, &later, 30, "recruiter")
	require.NoError(t, err)
	moved, err := env.Engine.SendInvitations(env.Ctx, s.ID, []string{"a@example.com"}, "", "recruiter")
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationDelivered, moved[0].Status)
	mailer.AssertNumberOfCalls(t, "SendInvite", 2)
}

func TestSendInvitationsDefaultsToAttendees(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	env.Engine.Mailer = mailer
	s := scheduledSession(t, env, "hm@client.com")
	mailer.On("SendInvite", mock.Anything, "hm@client.com", mock.Anything, mock.Anything).Return(engine.DeliveryResult{}, &engine.DeliveryError{Message: "503", Retryable: true}).Once()

	results, err := env.Engine.SendInvitations(env.Ctx, s.ID, nil, "", "recruiter")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, engine.KindDelivery, results[0].ErrorKind)
	assert.False(t, engine.NeedsReauthorization(results))

	results, err = env.Engine.SendInvitations(env.Ctx, s.ID, []string{"not an email"}, "", "recruiter")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.InvitationFailed, results[0].Status)
	assert.Equal(t, engine.KindValidation, results[0].ErrorKind)
	mailer.AssertExpectations(t)

	bare := scheduledSession(t, env)
	_, err = env.Engine.SendInvitations(env.Ctx, bare.ID, nil, "", "recruiter")
	assertKind(t, err, engine.KindValidation)
}

func TestAttendees(t *testing.T) {
	env := newTestEnv(t)
	tpl := createTemplate(t, env, "Role Discussion")
	s := createSession(t, env, tpl.ID)

	s, err := env.Engine.AddAttendee(env.Ctx, s.ID, " HM@Client.com ", "recruiter")
	require.NoError(t, err)
	s, err = env.Engine.AddAttendee(env.Ctx, s.ID, "hm@client.com", "recruiter")
	require.NoError(t, err)
	s, err = env.Engine.AddAttendee(env.Ctx, s.ID, "peer@client.com", "recruiter")
	require.NoError(t, err)
	assert.Equal(t, []string{"hm@client.com", "peer@client.com"}, s.Attendees)

	_, err = env.Engine.AddAttendee(env.Ctx, s.ID, "broken", "recruiter")
	assertKind(t, err, engine.KindValidation)

	s, err = env.Engine.RemoveAttendee(env.Ctx, s.ID, "hm@client.com", "recruiter")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer@client.com"}, s.Attendees)
	_, err = env.Engine.RemoveAttendee(env.Ctx, s.ID, "hm@client.com", "recruiter")
	assertKind(t, err, engine.KindNotFound)

	stored, err := env.Engine.GetSession(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"peer@client.com"}, stored.Attendees)
}

func TestIdempotencyKeyDependsOnSchedule(t *testing.T) {
	a := engine.IdempotencyKey("s1", "a@example.com", "2025-03-12T10:00:00Z")
	assert.Equal(t, a, engine.IdempotencyKey("s1", "a@example.com", "2025-03-12T10:00:00Z"))
	assert.NotEqual(t, a, engine.IdempotencyKey("s1", "a@example.com", "2025-03-13T10:00:00Z"))
	assert.NotEqual(t, a, engine.IdempotencyKey("s1", "b@example.com", "2025-03-12T10:00:00Z"))
}
