package server

import (
	"encoding/json"

	"annoline/internal/domain"
	"annoline/internal/progress"
	"annoline/internal/session"
)

// Request payloads

type StartSessionRequest struct {
	AnnotatorID string `json:"annotator_id" minLength:"1"`
}

type StageMappingRequest struct {
	SourceToken       string `json:"source_token" minLength:"1"`
	TranslationToken  string `json:"translation_token" minLength:"1"`
	EditedSource      string `json:"edited_source,omitempty"`
	EditedTranslation string `json:"edited_translation,omitempty"`
}

type ProcessRequest struct {
	SelectedTranslation string `json:"selected_translation" minLength:"1"`
	EditedSource        string `json:"edited_source,omitempty"`
	EditedTranslation   string `json:"edited_translation,omitempty"`
}

// Response payloads

// SessionResponse is what an annotator's screen renders.
type SessionResponse struct {
	session.Snapshot
	Previous []domain.PreviousMapping `json:"previous_mappings"`
	Progress *progress.Report         `json:"progress,omitempty"`
}

type ProcessResponse struct {
	Annotation domain.Annotation `json:"annotation"`
	Session    SessionResponse   `json:"session"`
}

type paginatedItems struct {
	Items      []domain.WorkItem `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type StatusResponse struct {
	Counts     map[string]int `json:"counts"`
	Total      int            `json:"total"`
	Violations int            `json:"claim_violations"`
	Sessions   int            `json:"open_sessions"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	EntityID    string         `json:"entity_id,omitempty"`
	AnnotatorID string         `json:"annotator_id"`
	Payload     map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		EntityID:    e.EntityID,
		AnnotatorID: e.AnnotatorID,
		Payload:     map[string]any{},
	}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &resp.Payload)
	}
	return resp
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
