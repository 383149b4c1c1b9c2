package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

func registerInvitations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-attendee",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/attendees",
		Summary:     "Add an attendee",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body AttendeeRequest `json:"body"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddAttendee(ctx, input.ID, input.Body.Email, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-attendee",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}/attendees/{email}",
		Summary:     "Remove an attendee",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Email string `path:"email"`
	}) (*output[domain.Session], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RemoveAttendee(ctx, input.ID, input.Email, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-invitations",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/invitations",
		Summary:     "Send calendar invitations for a scheduled session",
		Description: "Outcomes are reported per recipient. needs_reauthorization is set when the mail provider refused for lack of authorization.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body InvitationsRequest `json:"body" required:"false"`
	}) (*output[InvitationsResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		results, err := e.SendInvitations(ctx, input.ID, input.Body.Emails, input.Body.MeetingLink, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := InvitationsResponse{
			Results:              make([]InvitationResultResponse, 0, len(results)),
			NeedsReauthorization: engine.NeedsReauthorization(results),
		}
		for _, r := range results {
			resp.Results = append(resp.Results, InvitationResultResponse(r))
		}
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invitations",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/invitations",
		Summary:     "List invitations sent for a session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*output[[]domain.Invitation], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInvitations(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Invitation{}
		}
		return respond(items), nil
	})
}
