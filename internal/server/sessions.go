package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"annoline/internal/domain"
	"annoline/internal/session"
)

const previousMappingsLimit = 10

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type sessionOutput struct {
	Body SessionResponse `json:"body"`
}

// view renders a session with its progress and earlier alignments of the
// staged source tokens.
func (h handlers) view(ctx context.Context, s *session.Session) (*sessionOutput, error) {
	snap := s.Snapshot()
	resp := SessionResponse{Snapshot: snap, Previous: []domain.PreviousMapping{}}
	seen := map[string]bool{}
	for _, m := range snap.Staged {
		if seen[m.SourceToken] {
			continue
		}
		seen[m.SourceToken] = true
		prev, err := h.engine.Repo.ListMappingsBySourceToken(ctx, m.SourceToken, previousMappingsLimit)
		if err != nil {
			return nil, handleError(err)
		}
		resp.Previous = append(resp.Previous, prev...)
	}
	if h.tracker.Config != nil {
		rep, err := h.tracker.Report(ctx, snap.AnnotatorID)
		if err != nil {
			h.log.Warn("progress unavailable", zap.String("session_id", snap.ID), zap.Error(err))
		} else {
			resp.Progress = &rep
		}
	}
	return &sessionOutput{Body: resp}, nil
}

func (h handlers) registerSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start an annotation session",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*sessionOutput, error) {
		s, err := h.sessions.Open(ctx, input.Body.AnnotatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return h.view(ctx, s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Current session view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := h.sessions.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return h.view(ctx, s)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "end-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "End a session, discarding staged mappings",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := h.sessions.End(input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-mapping",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/mappings",
		Summary:     "Stage a token mapping for the current item",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      StageMappingRequest `json:"body"`
	}) (*sessionOutput, error) {
		s, err := h.sessions.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.Stage(session.StageRequest{
			SourceToken:       input.Body.SourceToken,
			TranslationToken:  input.Body.TranslationToken,
			EditedSource:      input.Body.EditedSource,
			EditedTranslation: input.Body.EditedTranslation,
		}); err != nil {
			return nil, handleError(err)
		}
		return h.view(ctx, s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-mappings",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/mappings",
		Summary:     "Clear staged mappings",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := h.sessions.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		s.ClearMappings()
		return h.view(ctx, s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-item",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/process",
		Summary:     "Submit the current item with its staged mappings",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string         `path:"session_id"`
		Body      ProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		s, err := h.sessions.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := s.Process(ctx, input.Body.SelectedTranslation, input.Body.EditedSource, input.Body.EditedTranslation)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := h.view(ctx, s)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Annotation: a, Session: out.Body}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-item",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/skip",
		Summary:     "Skip the current item for this session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := h.sessions.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.Skip(ctx); err != nil {
			return nil, handleError(err)
		}
		return h.view(ctx, s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-item",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/reject",
		Summary:     "Reject the current item permanently",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := h.sessions.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.Reject(ctx); err != nil {
			return nil, handleError(err)
		}
		return h.view(ctx, s)
	})
}
