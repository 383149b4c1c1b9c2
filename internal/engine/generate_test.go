package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

type funcGenerator func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error)

func (f funcGenerator) StructuredGenerate(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
	return f(ctx, req)
}

func interviewJSON(t *testing.T, interviewType string) json.RawMessage {
	t.Helper()
	it := domain.InterviewTemplate{
		Title:              "Interview plan",
		InterviewType:      interviewType,
		DurationMinutes:    45,
		EvaluationCriteria: []string{"depth", "clarity", "ownership"},
	}
	for i := 0; i < 5; i++ {
		it.Questions = append(it.Questions, domain.InterviewQuestion{
			Question: fmt.Sprintf("Question %d", i+1), Category: "core", Purpose: "signal", LookFor: []string{"specifics"},
		})
	}
	raw, err := json.Marshal(it)
	require.NoError(t, err)
	return raw
}

func TestGenerateJobDescriptionStoresPayload(t *testing.T) {
	env := newTestEnv(t)
	gen := &mockGenerator{}
	env.Engine.Generator = gen
	s := completedSession(t, env)
	other := createTemplate(t, env, "Unrelated")
	createSession(t, env, other.ID)

	payload := jobDescriptionJSON(t, "Senior Backend Engineer")
	gen.On("StructuredGenerate", mock.Anything, mock.MatchedBy(func(req engine.GenerateRequest) bool {
		return req.Name == domain.ArtifactJobDescription && len(req.Schema) > 0 &&
			strings.Contains(req.Prompt, "Backend Engineer") && strings.Contains(req.Prompt, "Write the job description")
	})).Return(payload, nil).Once()

	art, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	require.NoError(t, err)
	assert.Equal(t, 1, art.Attempts)
	assert.Equal(t, domain.ArtifactSourceGenerated, art.Source)
	assert.False(t, art.Stale)

	stored, err := env.Engine.GetSession(env.Ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.JobDescription)
	storedRaw, err := json.Marshal(stored.JobDescription.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(storedRaw))

	tpl, err := env.Engine.GetTemplate(env.Ctx, s.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.UsageCount)
	gen.AssertExpectations(t)
}

func TestGenerationIsIdempotentAndPromptDeterministic(t *testing.T) {
	env := newTestEnv(t)
	var prompts []string
	payload := jobDescriptionJSON(t, "Senior Backend Engineer")
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		prompts = append(prompts, req.Prompt)
		return payload, nil
	})
	s := completedSession(t, env)

	first, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "Mention the hybrid policy.", "recruiter")
	require.NoError(t, err)
	second, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "Mention the hybrid policy.", "recruiter")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, prompts, 2)
	assert.Equal(t, prompts[0], prompts[1])
	roleAt := strings.Index(prompts[0], "## Role")
	teamAt := strings.Index(prompts[0], "## Team")
	assert.True(t, roleAt >= 0 && roleAt < teamAt, "categories out of order:\n%s", prompts[0])
	assert.Contains(t, prompts[0], "Mention the hybrid policy.")
}

func TestGenerationStopsAfterThreeAttempts(t *testing.T) {
	env := newTestEnv(t)
	gen := &mockGenerator{}
	env.Engine.Generator = gen
	s := completedSession(t, env)

	gen.On("StructuredGenerate", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 500")).Times(2)
	gen.On("StructuredGenerate", mock.Anything, mock.Anything).Return(json.RawMessage(`{"title":"too short"}`), nil).Once()

	_, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	var failed *engine.GenerationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.Attempts)
	gen.AssertNumberOfCalls(t, "StructuredGenerate", 3)
	assert.Len(t, *env.Sleeps, 2)

	stored, err := env.Engine.GetSession(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.JobDescription)
}

func TestGenerationRecoversOnLaterAttempt(t *testing.T) {
	env := newTestEnv(t)
	gen := &mockGenerator{}
	env.Engine.Generator = gen
	s := completedSession(t, env)

	gen.On("StructuredGenerate", mock.Anything, mock.Anything).Return(json.RawMessage(`not json`), nil).Once()
	gen.On("StructuredGenerate", mock.Anything, mock.Anything).Return(jobDescriptionJSON(t, "Engineer"), nil).Once()

	art, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	require.NoError(t, err)
	assert.Equal(t, 2, art.Attempts)
}

func TestGenerationTimeoutsCountAsAttempts(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := completedSession(t, env)

	_, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	var failed *engine.GenerationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, calls)
	assert.Contains(t, failed.Error(), "timed out")
}

func TestGenerationRequiresCompletedSession(t *testing.T) {
	env := newTestEnv(t)
	gen := &mockGenerator{}
	env.Engine.Generator = gen
	tpl := createTemplate(t, env, "Role Discussion")
	s := createSession(t, env, tpl.ID)

	_, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	assertKind(t, err, engine.KindPrecondition)
	_, err = env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, domain.InterviewTechnical, "recruiter")
	assertKind(t, err, engine.KindPrecondition)
	gen.AssertNotCalled(t, "StructuredGenerate", mock.Anything, mock.Anything)
}

func TestGenerationDiscardedWhenSessionReopened(t *testing.T) {
	env := newTestEnv(t)
	var s domain.Session
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		if _, err := env.Engine.ReopenSession(ctx, s.ID, "someone-else"); err != nil {
			return nil, err
		}
		return jobDescriptionJSON(t, "Engineer"), nil
	})
	s = completedSession(t, env)

	_, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	assertKind(t, err, engine.KindPrecondition)

	stored, err := env.Engine.GetSession(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.JobDescription)
	assert.Equal(t, domain.SessionDraft, stored.Status)
}

func TestConcurrentGenerationConflicts(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		close(started)
		<-release
		return jobDescriptionJSON(t, "Engineer"), nil
	})
	env.Engine.Config.Generation.AttemptTimeoutSeconds = 30
	s := completedSession(t, env)

	done := make(chan error, 1)
	go func() {
		_, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
		done <- err
	}()
	<-started
	_, err := env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, domain.InterviewTechnical, "recruiter")
	assertKind(t, err, engine.KindConflict)
	close(release)
	require.NoError(t, <-done)

	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		return interviewJSON(t, domain.InterviewTechnical), nil
	})
	_, err = env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, domain.InterviewTechnical, "recruiter")
	require.NoError(t, err)
}

func TestInterviewTemplatesStoredPerType(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		for _, it := range domain.InterviewTypes {
			if strings.Contains(req.Prompt, fmt.Sprintf("interview_type %q", it)) {
				return interviewJSON(t, it), nil
			}
		}
		return nil, errors.New("no interview type in prompt")
	})
	s := completedSession(t, env)

	_, err := env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, "panel", "recruiter")
	assertKind(t, err, engine.KindValidation)

	_, err = env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, domain.InterviewTechnical, "recruiter")
	require.NoError(t, err)
	_, err = env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, domain.InterviewBehavioral, "recruiter")
	require.NoError(t, err)

	stored, err := env.Engine.GetSession(env.Ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, stored.InterviewTemplates, 2)
	assert.Equal(t, domain.InterviewBehavioral, stored.InterviewTemplates[domain.InterviewBehavioral].Payload.InterviewType)
}

func TestEditsMarkArtifactsStaleAndUpdateClearsIt(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		return jobDescriptionJSON(t, "Engineer"), nil
	})
	s := completedSession(t, env)
	_, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	require.NoError(t, err)

	s, err = env.Engine.RecordResponse(env.Ctx, s.ID, "team", "Risk", "recruiter")
	require.NoError(t, err)
	require.NotNil(t, s.JobDescription)
	assert.True(t, s.JobDescription.Stale)

	edited := jobDescriptionJSON(t, "Staff Engineer")
	s, err = env.Engine.UpdateArtifact(env.Ctx, s.ID, engine.ArtifactPatch{Kind: domain.ArtifactJobDescription, Payload: edited}, "recruiter")
	require.NoError(t, err)
	assert.False(t, s.JobDescription.Stale)
	assert.Equal(t, domain.ArtifactSourceEdited, s.JobDescription.Source)
	assert.Equal(t, "Staff Engineer", s.JobDescription.Payload.Title)

	_, err = env.Engine.UpdateArtifact(env.Ctx, s.ID, engine.ArtifactPatch{Kind: domain.ArtifactJobDescription, Payload: json.RawMessage(`{"headline":"x"}`)}, "recruiter")
	assertKind(t, err, engine.KindValidation)
	_, err = env.Engine.UpdateArtifact(env.Ctx, s.ID, engine.ArtifactPatch{Kind: domain.ArtifactInterviewTemplate, InterviewType: domain.InterviewFinal, Payload: interviewJSON(t, domain.InterviewFinal)}, "recruiter")
	assertKind(t, err, engine.KindNotFound)
}

func TestEditDuringGenerationLeavesArtifactStale(t *testing.T) {
	env := newTestEnv(t)
	s := completedSession(t, env)
	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		_, err := env.Engine.RecordResponse(ctx, s.ID, "team", "Risk platform", "hiring-manager")
		require.NoError(t, err)
		return jobDescriptionJSON(t, "Engineer"), nil
	})

	jd, err := env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	require.NoError(t, err)
	assert.True(t, jd.Stale)
	got, err := env.Engine.GetSession(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Risk platform", got.Responses["team"].String())
	require.NotNil(t, got.JobDescription)
	assert.True(t, got.JobDescription.Stale)

	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		_, err := env.Engine.UpdateNotes(ctx, s.ID, "budget approved", "hiring-manager")
		require.NoError(t, err)
		return interviewJSON(t, domain.InterviewTechnical), nil
	})
	it, err := env.Engine.GenerateInterviewTemplate(env.Ctx, s.ID, domain.InterviewTechnical, "recruiter")
	require.NoError(t, err)
	assert.True(t, it.Stale)

	env.Engine.Generator = funcGenerator(func(ctx context.Context, req engine.GenerateRequest) (json.RawMessage, error) {
		return jobDescriptionJSON(t, "Engineer"), nil
	})
	jd, err = env.Engine.GenerateJobDescription(env.Ctx, s.ID, "", "recruiter")
	require.NoError(t, err)
	assert.False(t, jd.Stale)
}

func TestGenerateTemplateFromRoleSummary(t *testing.T) {
	env := newTestEnv(t)
	set := domain.GeneratedQuestionSet{Description: "Intake for data engineering roles"}
	for i := 0; i < 8; i++ {
		q := domain.GeneratedQuestion{Prompt: fmt.Sprintf("Question %d", i+1), Kind: "short_text", Category: "Role", Required: i < 3}
		if i == 7 {
			q.Kind = "single_select"
			q.Options = []string{"remote", "hybrid"}
		}
		set.Questions = append(set.Questions, q)
	}
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	gen := &mockGenerator{}
	gen.On("StructuredGenerate", mock.Anything, mock.Anything).Return(json.RawMessage(raw), nil).Once()
	env.Engine.Generator = gen

	tpl, err := env.Engine.GenerateTemplate(env.Ctx, engine.TemplateGenerateOptions{Name: "Data roles", RoleSummary: "Data engineers for the analytics team", ActorID: "recruiter"})
	require.NoError(t, err)
	assert.Equal(t, domain.TemplateSourceGenerated, tpl.Source)
	assert.Equal(t, "Intake for data engineering roles", tpl.Description)
	require.Len(t, tpl.Questions, 8)
	assertOrders(t, tpl.Questions)
	assert.NotEmpty(t, tpl.Questions[0].ID)

	_, err = env.Engine.GenerateTemplate(env.Ctx, engine.TemplateGenerateOptions{Name: "Data roles"})
	assertKind(t, err, engine.KindValidation)
}
