package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"intakeline/internal/artifact"
	"intakeline/internal/domain"
	"intakeline/internal/events"
	"intakeline/internal/ids"
	"intakeline/internal/obs"
	"intakeline/internal/repo"
)

// MaxGenerationAttempts bounds every structured generation call.
const MaxGenerationAttempts = 3

const (
	jobDescriptionSystemPrompt = `You are an experienced technical recruiter. Using only the intake meeting answers provided, write a job description. Do not invent facts about compensation or benefits that contradict the answers. Respond with JSON matching the schema.`

	interviewSystemPrompt = `You are an interview designer. Using the intake meeting answers provided, build a structured interview plan for the requested interview type. Questions must probe the requirements discussed. Respond with JSON matching the schema.`

	questionSetSystemPrompt = `You design intake questionnaires that recruiters use when meeting a hiring client. Produce questions that uncover role scope, requirements, team context, compensation, timeline and process. Use select kinds only with explicit options. Respond with JSON matching the schema.`
)

var interviewLabels = map[string]string{
	domain.InterviewPhoneScreen: "phone screen",
	domain.InterviewTechnical:   "technical",
	domain.InterviewBehavioral:  "behavioral",
	domain.InterviewCulturalFit: "cultural fit",
	domain.InterviewFinal:       "final round",
}

// ArtifactPatch replaces a generated artifact with an edited payload.
type ArtifactPatch struct {
	Kind          string
	InterviewType string
	Payload       json.RawMessage
}

// TemplateGenerateOptions describe an intake template to be drafted by the generation backend.
type TemplateGenerateOptions struct {
	Name           string
	RoleSummary    string
	Instructions   string
	OrganizationID string
	IsDefault      bool
	ActorID        string
}

// BuildSessionPrompt renders a session's answers for generation. Categories appear in the order
// they are first used, questions by their order, so equal sessions yield equal prompts.
func BuildSessionPrompt(s domain.Session) string {
	questions := copyQuestions(s.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })

	var categories []string
	byCategory := map[string][]domain.Question{}
	for _, q := range questions {
		if _, ok := byCategory[q.Category]; !ok {
			categories = append(categories, q.Category)
		}
		byCategory[q.Category] = append(byCategory[q.Category], q)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", s.ClientID)
	fmt.Fprintf(&b, "Intake template: %s\n", s.TemplateName)
	for _, c := range categories {
		fmt.Fprintf(&b, "\n## %s\n", c)
		for _, q := range byCategory[c] {
			answer := "(not answered)"
			if a, ok := s.Responses[q.ID]; ok && !a.IsEmpty() {
				answer = a.String()
			}
			fmt.Fprintf(&b, "- %s: %s\n", q.Prompt, answer)
		}
	}
	if s.Notes != "" {
		fmt.Fprintf(&b, "\n## Meeting notes\n%s\n", s.Notes)
	}
	if len(s.FollowUpActions) > 0 {
		b.WriteString("\n## Follow-up actions\n")
		for _, a := range s.FollowUpActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}

func (e Engine) request(name, system, prompt string, schema json.RawMessage) GenerateRequest {
	g := e.config().Generation
	return GenerateRequest{
		Name:         name,
		SystemPrompt: system,
		Prompt:       prompt,
		Schema:       schema,
		Model:        g.Model,
		MaxTokens:    g.MaxTokens,
		Temperature:  g.Temperature,
	}
}

// runGeneration makes up to MaxGenerationAttempts sequential attempts, each bounded by the
// configured timeout, with exponential backoff in between. Output that fails decode counts as a
// failed attempt.
func runGeneration[T any](ctx context.Context, e Engine, kind string, req GenerateRequest, decode func(json.RawMessage) (T, error)) (T, int, error) {
	var zero T
	if e.Generator == nil {
		return zero, 0, precondition("no generation backend configured")
	}
	cfg := e.config().Generation
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.BackoffInitialMS) * time.Millisecond
	b.MaxInterval = time.Duration(cfg.BackoffMaxMS) * time.Millisecond
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= MaxGenerationAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout())
		raw, err := e.Generator.StructuredGenerate(actx, req)
		timedOut := errors.Is(actx.Err(), context.DeadlineExceeded)
		cancel()

		outcome := "error"
		if err == nil {
			v, derr := decode(raw)
			if derr == nil {
				obs.GenerationAttempts.WithLabelValues(kind, "success").Inc()
				obs.GenerationDuration.WithLabelValues(kind, "success").Observe(time.Since(started).Seconds())
				return v, attempt, nil
			}
			err = derr
			outcome = "invalid"
		}
		if timedOut {
			err = fmt.Errorf("timed out after %s: %w", cfg.AttemptTimeout(), err)
			outcome = "timeout"
		}
		obs.GenerationAttempts.WithLabelValues(kind, outcome).Inc()
		lastErr = fmt.Errorf("attempt %d: %w", attempt, err)
		obs.LogEvent(map[string]any{"level": "warn", "msg": "generation attempt failed", "kind": kind, "attempt": attempt, "outcome": outcome, "error": err.Error()})

		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		if attempt < MaxGenerationAttempts {
			if err := e.sleep(ctx, b.NextBackOff()); err != nil {
				return zero, attempt, err
			}
		}
	}
	obs.GenerationDuration.WithLabelValues(kind, "failed").Observe(time.Since(started).Seconds())
	return zero, MaxGenerationAttempts, &GenerationFailedError{Attempts: MaxGenerationAttempts, Cause: lastErr}
}

// withGenerationLease loads a completed session, holds its generation lease while fn runs and
// releases it afterwards.
func (e Engine) withGenerationLease(ctx context.Context, sessionID string, fn func(domain.Session) error) error {
	s, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != domain.SessionCompleted {
		return precondition("session %s is %s; generation needs a completed session", s.ID, s.Status)
	}
	owner := ids.New()
	now := e.now()
	err = e.Leases.AcquireLease(ctx, s.ID, owner, now, now.Add(e.config().Generation.LeaseTTL()))
	if errors.Is(err, repo.ErrLeaseHeld) {
		return &ConflictError{Message: fmt.Sprintf("generation already in progress for session %s", s.ID)}
	}
	if err != nil {
		return fmt.Errorf("acquire generation lease: %w", err)
	}
	defer func() {
		if err := e.Leases.ReleaseLease(context.WithoutCancel(ctx), s.ID, owner); err != nil {
			e.logf("release generation lease for %s: %v", s.ID, err)
		}
	}()
	return fn(s)
}

func (e Engine) artifactMeta(sessionID string, attempts int) domain.ArtifactMeta {
	now := e.timestamp()
	return domain.ArtifactMeta{
		SessionID:   sessionID,
		Source:      domain.ArtifactSourceGenerated,
		Model:       e.config().Generation.Model,
		Attempts:    attempts,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
}

// inputsChanged reports whether anything the prompt was built from differs between the session
// read before generation and the one about to be written.
func inputsChanged(before, after domain.Session) bool {
	return !reflect.DeepEqual(before.Responses, after.Responses) ||
		before.Notes != after.Notes ||
		!slices.Equal(before.FollowUpActions, after.FollowUpActions)
}

func requireCompleted(s *domain.Session) error {
	if s.Status != domain.SessionCompleted {
		return precondition("session %s changed to %s during generation; nothing was stored", s.ID, s.Status)
	}
	return nil
}

// GenerateJobDescription synthesizes a job description from a completed session. Calling it
// again replaces the stored description.
func (e Engine) GenerateJobDescription(ctx context.Context, sessionID, extraInstructions, actorID string) (domain.JobDescriptionArtifact, error) {
	var out domain.JobDescriptionArtifact
	err := e.withGenerationLease(ctx, sessionID, func(s domain.Session) error {
		prompt := BuildSessionPrompt(s) + "\n## Task\nWrite the job description for the role discussed above.\n"
		if extra := strings.TrimSpace(extraInstructions); extra != "" {
			prompt += "\n## Additional instructions\n" + extra + "\n"
		}
		req := e.request(domain.ArtifactJobDescription, jobDescriptionSystemPrompt, prompt, artifact.JobDescriptionSchema())
		jd, attempts, err := runGeneration(ctx, e, domain.ArtifactJobDescription, req, artifact.DecodeJobDescription)
		if err != nil {
			return err
		}
		out = domain.JobDescriptionArtifact{ArtifactMeta: e.artifactMeta(s.ID, attempts), Payload: jd}
		_, err = e.updateSession(ctx, s.ID, func(cur *domain.Session) error {
			if err := requireCompleted(cur); err != nil {
				return err
			}
			out.Stale = inputsChanged(s, *cur)
			a := out
			cur.JobDescription = &a
			return nil
		})
		return err
	})
	if err != nil {
		return domain.JobDescriptionArtifact{}, err
	}
	e.publish(ctx, "artifact.generate", "session", sessionID, actorID, events.EventPayload{
		"kind": domain.ArtifactJobDescription, "attempts": out.Attempts, "model": out.Model,
	})
	return out, nil
}

// GenerateInterviewTemplate synthesizes an interview plan of one type. Each type is stored
// independently.
func (e Engine) GenerateInterviewTemplate(ctx context.Context, sessionID, interviewType, actorID string) (domain.InterviewArtifact, error) {
	if !domain.ValidInterviewType(interviewType) {
		return domain.InterviewArtifact{}, invalid("interview_type", "must be one of %s", strings.Join(domain.InterviewTypes, ", "))
	}
	var out domain.InterviewArtifact
	err := e.withGenerationLease(ctx, sessionID, func(s domain.Session) error {
		var b strings.Builder
		b.WriteString(BuildSessionPrompt(s))
		if jd := s.JobDescription; jd != nil && !jd.Stale {
			fmt.Fprintf(&b, "\n## Job description\nTitle: %s\nLevel: %s\nSkills: %s\n", jd.Payload.Title, jd.Payload.ExperienceLevel, strings.Join(jd.Payload.Skills, ", "))
		}
		fmt.Fprintf(&b, "\n## Task\nDesign a %s interview (interview_type %q) for the role discussed above.\n", interviewLabels[interviewType], interviewType)
		req := e.request(domain.ArtifactInterviewTemplate, interviewSystemPrompt, b.String(), artifact.InterviewTemplateSchema())
		decode := func(raw json.RawMessage) (domain.InterviewTemplate, error) {
			return artifact.DecodeInterviewTemplate(raw, interviewType)
		}
		it, attempts, err := runGeneration(ctx, e, domain.ArtifactInterviewTemplate, req, decode)
		if err != nil {
			return err
		}
		out = domain.InterviewArtifact{ArtifactMeta: e.artifactMeta(s.ID, attempts), InterviewType: interviewType, Payload: it}
		_, err = e.updateSession(ctx, s.ID, func(cur *domain.Session) error {
			if err := requireCompleted(cur); err != nil {
				return err
			}
			out.Stale = inputsChanged(s, *cur)
			if cur.InterviewTemplates == nil {
				cur.InterviewTemplates = map[string]domain.InterviewArtifact{}
			}
			cur.InterviewTemplates[interviewType] = out
			return nil
		})
		return err
	})
	if err != nil {
		return domain.InterviewArtifact{}, err
	}
	e.publish(ctx, "artifact.generate", "session", sessionID, actorID, events.EventPayload{
		"kind": domain.ArtifactInterviewTemplate, "interview_type": interviewType, "attempts": out.Attempts, "model": out.Model,
	})
	return out, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("payload", "payload does not match the artifact: %v", err)
	}
	return nil
}

// UpdateArtifact overwrites an existing artifact with an edited payload and clears its stale flag.
func (e Engine) UpdateArtifact(ctx context.Context, sessionID string, patch ArtifactPatch, actorID string) (domain.Session, error) {
	var (
		jd domain.JobDescription
		it domain.InterviewTemplate
	)
	switch patch.Kind {
	case domain.ArtifactJobDescription:
		if err := decodeStrict(patch.Payload, &jd); err != nil {
			return domain.Session{}, err
		}
		if strings.TrimSpace(jd.Title) == "" {
			return domain.Session{}, invalid("payload.title", "title is required")
		}
	case domain.ArtifactInterviewTemplate:
		if !domain.ValidInterviewType(patch.InterviewType) {
			return domain.Session{}, invalid("interview_type", "must be one of %s", strings.Join(domain.InterviewTypes, ", "))
		}
		if err := decodeStrict(patch.Payload, &it); err != nil {
			return domain.Session{}, err
		}
		if it.InterviewType == "" {
			it.InterviewType = patch.InterviewType
		}
		if it.InterviewType != patch.InterviewType {
			return domain.Session{}, invalid("payload.interview_type", "does not match %s", patch.InterviewType)
		}
	default:
		return domain.Session{}, invalid("kind", "must be %s or %s", domain.ArtifactJobDescription, domain.ArtifactInterviewTemplate)
	}
	s, err := e.updateSession(ctx, sessionID, func(s *domain.Session) error {
		now := e.timestamp()
		switch patch.Kind {
		case domain.ArtifactJobDescription:
			if s.JobDescription == nil {
				return &NotFoundError{Entity: "job description of session", ID: s.ID}
			}
			s.JobDescription.Payload = jd
			s.JobDescription.Stale = false
			s.JobDescription.Source = domain.ArtifactSourceEdited
			s.JobDescription.UpdatedAt = now
		case domain.ArtifactInterviewTemplate:
			a, ok := s.InterviewTemplates[patch.InterviewType]
			if !ok {
				return &NotFoundError{Entity: patch.InterviewType + " interview template of session", ID: s.ID}
			}
			a.Payload = it
			a.Stale = false
			a.Source = domain.ArtifactSourceEdited
			a.UpdatedAt = now
			s.InterviewTemplates[patch.InterviewType] = a
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	e.publish(ctx, "artifact.edit", "session", s.ID, actorID, events.EventPayload{"kind": patch.Kind, "interview_type": patch.InterviewType})
	return s, nil
}

// GenerateTemplate drafts an intake template with the generation backend and stores it like an
// authored one.
func (e Engine) GenerateTemplate(ctx context.Context, opts TemplateGenerateOptions) (domain.Template, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Template{}, invalid("name", "name is required")
	}
	summary := strings.TrimSpace(opts.RoleSummary)
	if summary == "" {
		return domain.Template{}, invalid("role_summary", "a role summary is required")
	}
	prompt := "## Roles this questionnaire is for\n" + summary + "\n"
	if extra := strings.TrimSpace(opts.Instructions); extra != "" {
		prompt += "\n## Additional instructions\n" + extra + "\n"
	}
	req := e.request("question_set", questionSetSystemPrompt, prompt, artifact.QuestionSetSchema())
	type drafted struct {
		description string
		questions   []domain.Question
	}
	decode := func(raw json.RawMessage) (drafted, error) {
		qs, err := artifact.DecodeQuestionSet(raw)
		if err != nil {
			return drafted{}, err
		}
		questions := make([]domain.Question, 0, len(qs.Questions))
		for _, g := range qs.Questions {
			questions = append(questions, domain.Question{
				Prompt:      g.Prompt,
				Kind:        domain.QuestionKind(g.Kind),
				Category:    g.Category,
				Section:     g.Section,
				Required:    g.Required,
				Placeholder: g.Placeholder,
				Options:     g.Options,
			})
		}
		normalized, err := normalizeQuestions(questions)
		if err != nil {
			return drafted{}, err
		}
		return drafted{description: qs.Description, questions: normalized}, nil
	}
	d, attempts, err := runGeneration(ctx, e, "template", req, decode)
	if err != nil {
		return domain.Template{}, err
	}
	t, err := e.createTemplate(ctx, TemplateCreateOptions{
		Name:           opts.Name,
		Description:    d.description,
		Questions:      d.questions,
		OrganizationID: opts.OrganizationID,
		IsDefault:      opts.IsDefault,
		ActorID:        opts.ActorID,
	}, domain.TemplateSourceGenerated, nil)
	if err != nil {
		return domain.Template{}, err
	}
	obs.LogEvent(map[string]any{"msg": "template generated", "template_id": t.ID, "attempts": attempts, "questions": len(t.Questions)})
	return t, nil
}
