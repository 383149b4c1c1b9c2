package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-job-description",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/job-description",
		Summary:     "Generate the job description of a completed session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body JobDescriptionRequest `json:"body" required:"false"`
	}) (*output[domain.JobDescriptionArtifact], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		jd, err := e.GenerateJobDescription(ctx, input.ID, input.Body.Instructions, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(jd), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-interview-template",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/interview-templates/{type}",
		Summary:     "Generate an interview template of one type",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Type string `path:"type"`
	}) (*output[domain.InterviewArtifact], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.GenerateInterviewTemplate(ctx, input.ID, input.Type, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job-description",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/job-description",
		Summary:     "Replace the job description with an edited one",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body ArtifactUpdateRequest `json:"body"`
	}) (*output[domain.Session], error) {
		return updateArtifact(ctx, e, input.ID, domain.ArtifactJobDescription, "", input.Body.Payload)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-interview-template",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/interview-templates/{type}",
		Summary:     "Replace an interview template with an edited one",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Type string                `path:"type"`
		Body ArtifactUpdateRequest `json:"body"`
	}) (*output[domain.Session], error) {
		return updateArtifact(ctx, e, input.ID, domain.ArtifactInterviewTemplate, input.Type, input.Body.Payload)
	})
}

func updateArtifact(ctx context.Context, e engine.Engine, sessionID, kind, interviewType string, payload map[string]any) (*output[domain.Session], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "validation_failed", "payload is not valid JSON", nil)
	}
	s, err := e.UpdateArtifact(ctx, sessionID, engine.ArtifactPatch{
		Kind:          kind,
		InterviewType: interviewType,
		Payload:       raw,
	}, actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(s), nil
}
