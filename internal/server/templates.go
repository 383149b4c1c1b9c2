package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/repo"
)

type output[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

type templatePath struct {
	ID string `path:"id"`
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create an intake template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body TemplateCreateRequest `json:"body"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			Questions:      questions(input.Body.Questions),
			OrganizationID: input.Body.OrganizationID,
			IsDefault:      input.Body.IsDefault,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, input *struct {
		OrganizationID string `query:"organization_id"`
		IncludeGlobal  bool   `query:"include_global" default:"true"`
		ActiveOnly     bool   `query:"active_only"`
	}) (*output[[]domain.Template], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTemplates(ctx, repo.TemplateFilter{
			OrganizationID: input.OrganizationID,
			IncludeGlobal:  input.IncludeGlobal,
			ActiveOnly:     input.ActiveOnly,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Template{}
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "default-template",
		Method:      http.MethodGet,
		Path:        "/templates/default",
		Summary:     "Resolve the default template for an organization",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrganizationID string `query:"organization_id"`
	}) (*output[domain.Template], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.DefaultTemplate(ctx, input.OrganizationID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-template",
		Method:        http.MethodPost,
		Path:          "/templates/generate",
		Summary:       "Draft a template from a role summary",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body TemplateGenerateRequest `json:"body"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GenerateTemplate(ctx, engine.TemplateGenerateOptions{
			Name:           input.Body.Name,
			RoleSummary:    input.Body.RoleSummary,
			Instructions:   input.Body.Instructions,
			OrganizationID: input.Body.OrganizationID,
			IsDefault:      input.Body.IsDefault,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{id}",
		Summary:     "Get a template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *templatePath) (*output[domain.Template], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTemplate(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{id}",
		Summary:     "Update a template",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		templatePath
		Body TemplatePatchRequest `json:"body"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := engine.TemplatePatch{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			IsDefault:   input.Body.IsDefault,
			Active:      input.Body.Active,
			ActorID:     actorID,
		}
		if input.Body.Questions != nil {
			qs := questions(*input.Body.Questions)
			patch.Questions = &qs
		}
		t, err := e.UpdateTemplate(ctx, input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template",
		Method:        http.MethodDelete,
		Path:          "/templates/{id}",
		Summary:       "Delete a template no session uses",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *templatePath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTemplate(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clone-template",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/clone",
		Summary:       "Clone a template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		templatePath
		Body TemplateCloneRequest `json:"body" required:"false"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CloneTemplate(ctx, input.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "insert-question",
		Method:      http.MethodPost,
		Path:        "/templates/{id}/questions",
		Summary:     "Insert a question",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		templatePath
		Body QuestionInsertRequest `json:"body"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.InsertQuestion(ctx, input.ID, input.Body.Index, input.Body.Question.question(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-question",
		Method:      http.MethodPost,
		Path:        "/templates/{id}/questions/{question_id}/move",
		Summary:     "Move a question",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		templatePath
		QuestionID string              `path:"question_id"`
		Body       QuestionMoveRequest `json:"body"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MoveQuestion(ctx, input.ID, input.QuestionID, input.Body.Index, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-question",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}/questions/{question_id}",
		Summary:     "Remove a question",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		templatePath
		QuestionID string `path:"question_id"`
	}) (*output[domain.Template], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RemoveQuestion(ctx, input.ID, input.QuestionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})
}
