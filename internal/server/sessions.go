package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

type sessionPath struct {
	ID string `path:"id"`
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start an intake session from a template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SessionCreateRequest `json:"body"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conductor := input.Body.ConductorID
		if conductor == "" {
			conductor = actorID
		}
		s, err := e.CreateSession(ctx, engine.SessionCreateOptions{
			TemplateID:      input.Body.TemplateID,
			ClientID:        input.Body.ClientID,
			ConductorID:     conductor,
			ScheduledAt:     input.Body.ScheduledAt,
			DurationMinutes: input.Body.DurationMinutes,
			Notes:           input.Body.Notes,
			Attendees:       input.Body.Attendees,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
	}) (*output[[]domain.Session], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSessions(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Session{}
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*output[domain.Session], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Delete a session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSession(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-response",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/responses/{question_id}",
		Summary:     "Record the answer to one question",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		sessionPath
		QuestionID string          `path:"question_id"`
		Body       ResponseRequest `json:"body"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RecordResponse(ctx, input.ID, input.QuestionID, input.Body.Value, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-responses",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/responses",
		Summary:     "Record several answers",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body ResponsesRequest `json:"body"`
	}) (*output[BatchResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RecordResponses(ctx, input.ID, input.Body.Answers, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		accepted := res.Accepted
		if accepted == nil {
			accepted = []string{}
		}
		return respond(BatchResponse{Session: res.Session, Accepted: accepted, Errors: res.Errors}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/complete",
		Summary:     "Complete a session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CompleteSession(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "follow-up-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/follow-up",
		Summary:     "Mark a session as needing follow-up",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body FollowUpRequest `json:"body"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.MarkFollowUp(ctx, input.ID, input.Body.Actions, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/reopen",
		Summary:     "Return a session to draft",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ReopenSession(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-session",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/schedule",
		Summary:     "Set or clear the meeting time",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body ScheduleRequest `json:"body"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ScheduleSession(ctx, input.ID, input.Body.ScheduledAt, input.Body.DurationMinutes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-notes",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/notes",
		Summary:     "Replace the session notes",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body NotesRequest `json:"body"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateNotes(ctx, input.ID, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})
}
