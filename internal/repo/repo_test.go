package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/migrate"
	"intakeline/internal/repo"
)

const ts = "2025-03-01T09:00:00Z"

func newSQLiteRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.DriverSQLite))
	return repo.Repo{DB: conn, Driver: db.DriverSQLite}
}

func sampleTemplate(id, orgID string, isDefault bool) domain.Template {
	return domain.Template{
		ID:   id,
		Name: "Template " + id,
		Questions: []domain.Question{
			{ID: "title", Prompt: "Role title?", Kind: domain.KindShortText, Category: "Role", Required: true, Order: 1},
			{ID: "level", Prompt: "Level", Kind: domain.KindSingleSelect, Category: "Role", Options: []string{"mid", "senior"}, Order: 2},
		},
		IsDefault:      isDefault,
		Active:         true,
		OrganizationID: orgID,
		Source:         domain.TemplateSourceAuthored,
		CreatedBy:      "recruiter",
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func sampleSession(id string, tpl domain.Template) domain.Session {
	return domain.Session{
		ID:              id,
		TemplateID:      tpl.ID,
		TemplateName:    tpl.Name,
		Questions:       tpl.Questions,
		ClientID:        "client-1",
		ConductorID:     "recruiter",
		Status:          domain.SessionDraft,
		DurationMinutes: 60,
		Attendees:       []string{"hm@client.com"},
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

func TestSessionRoundTripAndMerge(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	tpl := sampleTemplate("t1", "", false)
	require.NoError(t, r.InsertTemplate(ctx, tpl))
	require.NoError(t, r.InsertSession(ctx, sampleSession("s1", tpl)))

	stored, err := r.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)

	s, err := r.UpdateSession(ctx, "s1", func(s *domain.Session) error {
		s.Responses["title"] = domain.TextAnswer(domain.KindShortText, "Engineer")
		s.Responses["level"] = domain.ChoiceAnswer("senior")
		s.Attendees = append(s.Attendees, "peer@client.com")
		s.JobDescription = &domain.JobDescriptionArtifact{
			ArtifactMeta: domain.ArtifactMeta{SessionID: s.ID, Source: domain.ArtifactSourceGenerated, GeneratedAt: ts, UpdatedAt: ts},
			Payload:      domain.JobDescription{Title: "Engineer"},
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, s.Responses, 2)

	s, err = r.UpdateSession(ctx, "s1", func(s *domain.Session) error {
		delete(s.Responses, "level")
		s.Attendees = []string{"peer@client.com"}
		s.JobDescription.Stale = true
		return nil
	})
	require.NoError(t, err)

	got, err := r.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Engineer", got.Responses["title"].Text)
	assert.NotContains(t, got.Responses, "level")
	assert.Equal(t, []string{"peer@client.com"}, got.Attendees)
	require.NotNil(t, got.JobDescription)
	assert.True(t, got.JobDescription.Stale)
	assert.Equal(t, "Engineer", got.JobDescription.Payload.Title)
	assert.Equal(t, tpl.Questions, got.Questions)

	boom := errors.New("boom")
	_, err = r.UpdateSession(ctx, "s1", func(s *domain.Session) error {
		s.Status = domain.SessionCompleted
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = r.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionDraft, got.Status)

	_, err = r.UpdateSession(ctx, "missing", func(*domain.Session) error { return nil })
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteTemplateInUse(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	tpl := sampleTemplate("t1", "", false)
	require.NoError(t, r.InsertTemplate(ctx, tpl))
	require.NoError(t, r.InsertSession(ctx, sampleSession("s1", tpl)))

	assert.ErrorIs(t, r.DeleteTemplate(ctx, "t1"), repo.ErrTemplateInUse)
	require.NoError(t, r.DeleteSession(ctx, "s1"))
	require.NoError(t, r.DeleteTemplate(ctx, "t1"))
	assert.ErrorIs(t, r.DeleteTemplate(ctx, "t1"), repo.ErrNotFound)
}

func TestGenerationLease(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.AcquireLease(ctx, "s1", "a", now, now.Add(time.Minute)))
	assert.ErrorIs(t, r.AcquireLease(ctx, "s1", "b", now.Add(30*time.Second), now.Add(2*time.Minute)), repo.ErrLeaseHeld)
	require.NoError(t, r.AcquireLease(ctx, "s2", "b", now, now.Add(time.Minute)))

	require.NoError(t, r.ReleaseLease(ctx, "s1", "b"))
	assert.ErrorIs(t, r.AcquireLease(ctx, "s1", "b", now, now.Add(time.Minute)), repo.ErrLeaseHeld)

	require.NoError(t, r.AcquireLease(ctx, "s1", "b", now.Add(2*time.Minute), now.Add(3*time.Minute)))
	require.NoError(t, r.ReleaseLease(ctx, "s1", "b"))
	require.NoError(t, r.AcquireLease(ctx, "s1", "c", now, now.Add(time.Minute)))
}

func TestDefaultTemplateScopes(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertTemplate(ctx, sampleTemplate("g", "", true)))
	require.NoError(t, r.InsertTemplate(ctx, sampleTemplate("a1", "org-a", true)))
	require.NoError(t, r.InsertTemplate(ctx, sampleTemplate("a2", "org-a", true)))

	def, err := r.DefaultTemplate(ctx, "org-a")
	require.NoError(t, err)
	assert.Equal(t, "a2", def.ID)
	def, err = r.DefaultTemplate(ctx, "org-z")
	require.NoError(t, err)
	assert.Equal(t, "g", def.ID)

	list, err := r.ListTemplates(ctx, repo.TemplateFilter{OrganizationID: "org-a"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID)
	assert.False(t, list[1].IsDefault)
}

func TestAcquireLeaseUsesPostgresPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Driver: db.DriverPostgres}

	mock.ExpectExec(`INSERT INTO generation_leases\(session_id,owner_id,acquired_at,expires_at\) VALUES \(\$1,\$2,\$3,\$4\)`).
		WithArgs("s1", "owner", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM generation_leases WHERE session_id=\$1 AND owner_id=\$2`).
		WithArgs("s1", "owner").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	assert.ErrorIs(t, r.AcquireLease(context.Background(), "s1", "owner", now, now.Add(time.Minute)), repo.ErrLeaseHeld)
	require.NoError(t, r.ReleaseLease(context.Background(), "s1", "owner"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTemplateMapsDefaultRace(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Driver: db.DriverPostgres}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE templates SET is_default").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO templates").WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"ux_templates_default_scope\""})
	mock.ExpectRollback()

	err = r.InsertTemplate(context.Background(), sampleTemplate("t1", "org-a", true))
	assert.ErrorIs(t, err, repo.ErrDefaultConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTemplateCountsReferencesInTx(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Driver: db.DriverPostgres}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions WHERE template_id=\$1`).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err = r.DeleteTemplate(context.Background(), "t1")
	assert.ErrorIs(t, err, repo.ErrTemplateInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}
