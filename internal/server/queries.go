package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"annoline/internal/domain"
	"annoline/internal/progress"
	"annoline/internal/repo"
)

func (h handlers) registerProgress(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "annotator-progress",
		Method:      http.MethodGet,
		Path:        "/annotators/{annotator_id}/progress",
		Summary:     "Daily and cumulative progress against schedule",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AnnotatorID string `path:"annotator_id"`
	}) (*struct {
		Body progress.Report `json:"body"`
	}, error) {
		rep, err := h.tracker.Report(ctx, input.AnnotatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body progress.Report `json:"body"`
		}{Body: rep}, nil
	})
}

func (h handlers) registerItems(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		Processed string `query:"processed" enum:"no,skipped,reject,yes"`
		TakenBy   string `query:"taken_by"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedItems `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := h.engine.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
			Processed: input.Processed,
			TakenBy:   input.TakenBy,
			Limit:     limit + 1,
			Cursor:    input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedItems{Items: nonNilSlice(items)}
		if len(items) > limit {
			resp.Items = items[:limit]
			resp.NextCursor = items[limit-1].EntityID
		}
		return &struct {
			Body paginatedItems `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "items-status",
		Method:      http.MethodGet,
		Path:        "/items/status",
		Summary:     "Work item counts by lifecycle status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := h.engine.Repo.CountWorkItemsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		violations, err := h.engine.Repo.CountInvariantViolations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := StatusResponse{Counts: map[string]int{}, Violations: violations, Sessions: h.sessions.Len()}
		for _, st := range []string{domain.ProcessedNo, domain.ProcessedSkipped, domain.ProcessedReject, domain.ProcessedYes} {
			resp.Counts[st] = counts[st]
			resp.Total += counts[st]
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func (h handlers) registerMappings(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "lookup-mappings",
		Method:      http.MethodGet,
		Path:        "/mappings",
		Summary:     "Earlier alignments of a source token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SourceToken string `query:"source_token" required:"true" minLength:"1"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.PreviousMapping `json:"body"`
	}, error) {
		items, err := h.engine.Repo.ListMappingsBySourceToken(ctx, input.SourceToken, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PreviousMapping `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type        string `query:"type"`
		EntityID    string `query:"entity_id"`
		AnnotatorID string `query:"annotator_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := h.engine.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:        input.Type,
			EntityID:    input.EntityID,
			AnnotatorID: input.AnnotatorID,
			Limit:       limit + 1,
			Before:      before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
