package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"intakeline/internal/domain"
	"intakeline/internal/events"
	"intakeline/internal/ids"
	"intakeline/internal/repo"
)

// TemplateCreateOptions are parameters for creating a template.
type TemplateCreateOptions struct {
	Name           string
	Description    string
	Questions      []domain.Question
	OrganizationID string
	IsDefault      bool
	ActorID        string
}

// TemplatePatch updates only the fields that are set. Questions replaces the whole set.
type TemplatePatch struct {
	Name        *string
	Description *string
	Questions   *[]domain.Question
	IsDefault   *bool
	Active      *bool
	ActorID     string
}

// normalizeQuestions trims and checks a question set, assigns missing ids and renumbers order
// from array position.
func normalizeQuestions(in []domain.Question) ([]domain.Question, error) {
	var errs ValidationErrors
	if len(in) == 0 {
		return nil, append(errs, invalid("questions", "at least one question is required"))
	}
	out := make([]domain.Question, len(in))
	seen := map[string]bool{}
	for i, q := range in {
		field := fmt.Sprintf("questions[%d]", i)
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if seen[q.ID] {
			errs = append(errs, invalid(field+".id", "duplicate question id %q", q.ID))
		}
		seen[q.ID] = true
		q.Prompt = strings.TrimSpace(q.Prompt)
		q.Category = strings.TrimSpace(q.Category)
		q.Section = strings.TrimSpace(q.Section)
		if q.Prompt == "" {
			errs = append(errs, invalid(field+".prompt", "prompt is required"))
		}
		if q.Category == "" {
			errs = append(errs, invalid(field+".category", "category is required"))
		}
		if !q.Kind.Valid() {
			errs = append(errs, invalid(field+".kind", "unknown kind %q", q.Kind))
		}
		if q.Kind.IsSelect() {
			if len(q.Options) == 0 {
				errs = append(errs, invalid(field+".options", "%s questions need options", q.Kind))
			}
			opts := make([]string, 0, len(q.Options))
			dup := map[string]bool{}
			for _, o := range q.Options {
				o = strings.TrimSpace(o)
				if o == "" {
					errs = append(errs, invalid(field+".options", "options must not be empty"))
					continue
				}
				if dup[o] {
					errs = append(errs, invalid(field+".options", "duplicate option %q", o))
					continue
				}
				dup[o] = true
				opts = append(opts, o)
			}
			q.Options = opts
		} else if len(q.Options) > 0 {
			errs = append(errs, invalid(field+".options", "%s questions take no options", q.Kind))
		}
		q.Order = i + 1
		out[i] = q
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// templateName trims a template name. Names end up in invitation subjects, so control characters
// are refused.
func templateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid("name", "name is required")
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", invalid("name", "name must not contain control characters")
	}
	return name, nil
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, error) {
	return e.createTemplate(ctx, opts, domain.TemplateSourceAuthored, nil)
}

func (e Engine) createTemplate(ctx context.Context, opts TemplateCreateOptions, source string, clonedFrom *string) (domain.Template, error) {
	name, err := templateName(opts.Name)
	if err != nil {
		return domain.Template{}, err
	}
	questions, err := normalizeQuestions(copyQuestions(opts.Questions))
	if err != nil {
		return domain.Template{}, err
	}
	now := e.timestamp()
	t := domain.Template{
		ID:             ids.NewAt(e.now()),
		Name:           name,
		Description:    strings.TrimSpace(opts.Description),
		Questions:      questions,
		IsDefault:      opts.IsDefault,
		Active:         true,
		OrganizationID: strings.TrimSpace(opts.OrganizationID),
		Source:         source,
		ClonedFrom:     clonedFrom,
		CreatedBy:      opts.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Templates.InsertTemplate(ctx, t); err != nil {
		if errors.Is(err, repo.ErrDefaultConflict) {
			return domain.Template{}, &ConflictError{Message: err.Error()}
		}
		return domain.Template{}, fmt.Errorf("create template: %w", err)
	}
	payload := events.EventPayload{"name": t.Name, "questions": len(t.Questions), "source": source}
	if clonedFrom != nil {
		payload["cloned_from"] = *clonedFrom
	}
	e.publish(ctx, "template.create", "template", t.ID, opts.ActorID, payload)
	return t, nil
}

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	t, err := e.Templates.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, notFound(err, "template", id)
	}
	return t, nil
}

func (e Engine) ListTemplates(ctx context.Context, f repo.TemplateFilter) ([]domain.Template, error) {
	return e.Templates.ListTemplates(ctx, f)
}

// DefaultTemplate returns the organization's default template, or the global one.
func (e Engine) DefaultTemplate(ctx context.Context, orgID string) (domain.Template, error) {
	t, err := e.Templates.DefaultTemplate(ctx, orgID)
	if err != nil {
		return domain.Template{}, notFound(err, "default template for organization", orgID)
	}
	return t, nil
}

func (e Engine) UpdateTemplate(ctx context.Context, id string, patch TemplatePatch) (domain.Template, error) {
	t, err := e.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	changed := []string{}
	if patch.Name != nil {
		name, err := templateName(*patch.Name)
		if err != nil {
			return domain.Template{}, err
		}
		t.Name = name
		changed = append(changed, "name")
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
		changed = append(changed, "description")
	}
	if patch.Questions != nil {
		questions, err := normalizeQuestions(copyQuestions(*patch.Questions))
		if err != nil {
			return domain.Template{}, err
		}
		t.Questions = questions
		changed = append(changed, "questions")
	}
	if patch.IsDefault != nil {
		t.IsDefault = *patch.IsDefault
		changed = append(changed, "is_default")
	}
	if patch.Active != nil {
		t.Active = *patch.Active
		changed = append(changed, "active")
	}
	if len(changed) == 0 {
		return t, nil
	}
	return e.saveTemplate(ctx, t, "template.update", patch.ActorID, events.EventPayload{"fields": changed})
}

func (e Engine) saveTemplate(ctx context.Context, t domain.Template, evtType, actorID string, payload events.EventPayload) (domain.Template, error) {
	t.UpdatedAt = e.timestamp()
	if err := e.Templates.UpdateTemplate(ctx, t); err != nil {
		if errors.Is(err, repo.ErrDefaultConflict) {
			return domain.Template{}, &ConflictError{Message: err.Error()}
		}
		return domain.Template{}, notFound(err, "template", t.ID)
	}
	e.publish(ctx, evtType, "template", t.ID, actorID, payload)
	return t, nil
}

// SetTemplateActive enables or disables a template. Disabled templates stay readable and keep
// their sessions but cannot start new ones.
func (e Engine) SetTemplateActive(ctx context.Context, id string, active bool, actorID string) (domain.Template, error) {
	return e.UpdateTemplate(ctx, id, TemplatePatch{Active: &active, ActorID: actorID})
}

// CloneTemplate copies a template under a new identity. Usage and default flag are not carried
// over and every question gets a fresh id.
func (e Engine) CloneTemplate(ctx context.Context, id, newName, actorID string) (domain.Template, error) {
	src, err := e.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if strings.TrimSpace(newName) == "" {
		newName = src.Name + " (copy)"
	}
	questions := copyQuestions(src.Questions)
	for i := range questions {
		questions[i].ID = ""
	}
	clonedFrom := src.ID
	return e.createTemplate(ctx, TemplateCreateOptions{
		Name:           newName,
		Description:    src.Description,
		Questions:      questions,
		OrganizationID: src.OrganizationID,
		ActorID:        actorID,
	}, domain.TemplateSourceCloned, &clonedFrom)
}

// DeleteTemplate hard-deletes a template no session references. Use SetTemplateActive otherwise.
func (e Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	err := e.Templates.DeleteTemplate(ctx, id)
	if errors.Is(err, repo.ErrTemplateInUse) {
		return &ConflictError{Message: fmt.Sprintf("template %s is referenced by existing sessions; deactivate it instead", id)}
	}
	if err != nil {
		return notFound(err, "template", id)
	}
	e.publish(ctx, "template.delete", "template", id, actorID, nil)
	return nil
}

// InsertQuestion adds q at index (clamped to the list bounds) and renumbers.
func (e Engine) InsertQuestion(ctx context.Context, templateID string, index int, q domain.Question, actorID string) (domain.Template, error) {
	t, err := e.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Template{}, err
	}
	questions := copyQuestions(t.Questions)
	if index < 0 || index > len(questions) {
		index = len(questions)
	}
	questions = append(questions[:index], append([]domain.Question{q}, questions[index:]...)...)
	if t.Questions, err = normalizeQuestions(questions); err != nil {
		return domain.Template{}, err
	}
	return e.saveTemplate(ctx, t, "template.question.insert", actorID, events.EventPayload{"question_id": t.Questions[index].ID, "index": index})
}

func (e Engine) RemoveQuestion(ctx context.Context, templateID, questionID, actorID string) (domain.Template, error) {
	t, err := e.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Template{}, err
	}
	idx := questionIndex(t.Questions, questionID)
	if idx < 0 {
		return domain.Template{}, &NotFoundError{Entity: "question", ID: questionID}
	}
	questions := copyQuestions(t.Questions)
	questions = append(questions[:idx], questions[idx+1:]...)
	if t.Questions, err = normalizeQuestions(questions); err != nil {
		return domain.Template{}, err
	}
	return e.saveTemplate(ctx, t, "template.question.remove", actorID, events.EventPayload{"question_id": questionID})
}

// MoveQuestion moves a question to newIndex (clamped) and renumbers.
func (e Engine) MoveQuestion(ctx context.Context, templateID, questionID string, newIndex int, actorID string) (domain.Template, error) {
	t, err := e.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Template{}, err
	}
	idx := questionIndex(t.Questions, questionID)
	if idx < 0 {
		return domain.Template{}, &NotFoundError{Entity: "question", ID: questionID}
	}
	questions := copyQuestions(t.Questions)
	q := questions[idx]
	questions = append(questions[:idx], questions[idx+1:]...)
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(questions) {
		newIndex = len(questions)
	}
	questions = append(questions[:newIndex], append([]domain.Question{q}, questions[newIndex:]...)...)
	if t.Questions, err = normalizeQuestions(questions); err != nil {
		return domain.Template{}, err
	}
	return e.saveTemplate(ctx, t, "template.question.move", actorID, events.EventPayload{"question_id": questionID, "from": idx, "to": newIndex})
}

func questionIndex(qs []domain.Question, id string) int {
	for i, q := range qs {
		if q.ID == id {
			return i
		}
	}
	return -1
}
