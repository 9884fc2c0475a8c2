package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"annoline/internal/domain"
	"annoline/internal/events"
	"annoline/internal/logging"
	"annoline/internal/repo"
	"annoline/internal/tokenize"
)

// Submission is a completed annotation for one work item.
type Submission struct {
	AnnotatorID         string
	EntityID            string
	SelectedTranslation string
	EditedSource        string
	EditedTranslation   string
	Mappings            []domain.TokenMapping
}

// Process records the annotation, marks the item done and stores its token
// mappings in one transaction. Blocked submissions leave every table untouched.
func (e Engine) Process(ctx context.Context, sub Submission) (domain.Annotation, error) {
	if _, err := e.ValidateAnnotator(sub.AnnotatorID); err != nil {
		return domain.Annotation{}, err
	}
	if len(sub.Mappings) == 0 {
		e.Metrics.ValidationFailed("no_mappings")
		return domain.Annotation{}, ErrNoMappings
	}
	for _, m := range sub.Mappings {
		if strings.TrimSpace(m.SourceToken) == "" || strings.TrimSpace(m.TranslationToken) == "" {
			e.Metrics.ValidationFailed("invalid_mapping")
			return domain.Annotation{}, ErrInvalidMapping
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Annotation{}, err
	}
	defer tx.Rollback()

	item, err := e.heldItem(ctx, tx, sub.EntityID, sub.AnnotatorID)
	if err != nil {
		return domain.Annotation{}, err
	}
	key, ok := item.TranslationKey(sub.SelectedTranslation)
	if !ok {
		e.Metrics.ValidationFailed("unmatched_translation")
		return domain.Annotation{}, ErrUnmatchedTranslation
	}

	a := domain.Annotation{
		EntityID:            item.EntityID,
		SelectedTranslation: key,
		EditedSource:        sub.EditedSource,
		EditedTranslation:   sub.EditedTranslation,
		Action:              domain.ActionProcessed,
		AnnotatorID:         sub.AnnotatorID,
		Datestamp:           e.Clock.Timestamp(),
	}
	if a.EditedSource == "" {
		a.EditedSource = item.SourceText
	}
	if a.EditedTranslation == "" {
		a.EditedTranslation = sub.SelectedTranslation
	}
	for _, m := range sub.Mappings {
		switch {
		case !tokenize.Contains(a.EditedSource, m.SourceToken):
			e.Metrics.ValidationFailed("mapping_outside_text")
			return domain.Annotation{}, fmt.Errorf("source %q: %w", m.SourceToken, ErrMappingOutsideText)
		case !tokenize.Contains(a.EditedTranslation, m.TranslationToken):
			e.Metrics.ValidationFailed("mapping_outside_text")
			return domain.Annotation{}, fmt.Errorf("translation %q: %w", m.TranslationToken, ErrMappingOutsideText)
		}
	}
	id, err := e.Repo.InsertAnnotation(ctx, tx, a)
	if err != nil {
		return domain.Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	a.ID = id
	if err := e.Repo.SetProcessed(ctx, tx, item.EntityID, domain.ProcessedYes); err != nil {
		return domain.Annotation{}, err
	}
	for _, m := range sub.Mappings {
		m.EntityID = item.EntityID
		m.AnnotatorID = sub.AnnotatorID
		if err := e.Repo.InsertTokenMapping(ctx, tx, m); err != nil {
			return domain.Annotation{}, fmt.Errorf("insert token mapping: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.ItemProcessed, item.EntityID, sub.AnnotatorID, events.EventPayload{
		"annotation_id":        id,
		"selected_translation": key,
		"mappings":             len(sub.Mappings),
	}); err != nil {
		return domain.Annotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Annotation{}, err
	}
	e.Metrics.Transition(domain.ProcessedYes)
	e.log().Info("work item processed", zap.String("entity_id", item.EntityID), logging.Annotator(sub.AnnotatorID), zap.Int("mappings", len(sub.Mappings)))
	return a, nil
}

// Skip defers the item. It stays claimed by the annotator and is offered
// again in a later session.
func (e Engine) Skip(ctx context.Context, annotatorID, entityID string) error {
	return e.park(ctx, annotatorID, entityID, domain.ProcessedSkipped, events.ItemSkipped)
}

// Reject retires the item permanently without an annotation.
func (e Engine) Reject(ctx context.Context, annotatorID, entityID string) error {
	return e.park(ctx, annotatorID, entityID, domain.ProcessedReject, events.ItemRejected)
}

func (e Engine) park(ctx context.Context, annotatorID, entityID, status, evtType string) error {
	if _, err := e.ValidateAnnotator(annotatorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.heldItem(ctx, tx, entityID, annotatorID); err != nil {
		return err
	}
	if status == domain.ProcessedSkipped {
		err = e.Repo.MarkSkipped(ctx, tx, entityID, annotatorID)
	} else {
		err = e.Repo.SetProcessed(ctx, tx, entityID, status)
	}
	if err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, entityID, annotatorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Metrics.Transition(status)
	e.log().Info("work item "+status, zap.String("entity_id", entityID), logging.Annotator(annotatorID))
	return nil
}

func (e Engine) heldItem(ctx context.Context, tx *sql.Tx, entityID, annotatorID string) (domain.WorkItem, error) {
	item, err := e.Repo.GetWorkItem(ctx, tx, entityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return item, fmt.Errorf("work item %s: %w", entityID, repo.ErrNotFound)
		}
		return item, err
	}
	if item.Terminal() {
		return item, ErrFinalized
	}
	if !item.ClaimedBy(annotatorID) {
		return item, ErrNotClaimed
	}
	return item, nil
}
