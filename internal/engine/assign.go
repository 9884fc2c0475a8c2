package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"annoline/internal/domain"
	"annoline/internal/events"
	"annoline/internal/logging"
	"annoline/internal/repo"
)

// GetAvailableRow hands the annotator their next work item. An item they
// already hold is re-offered first; otherwise a fresh item is claimed. A nil
// item with a nil error means no work is left.
func (e Engine) GetAvailableRow(ctx context.Context, annotatorID string, skipped []string) (*domain.WorkItem, error) {
	if _, err := e.ValidateAnnotator(annotatorID); err != nil {
		return nil, err
	}
	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		item, retry, err := e.tryAssign(ctx, annotatorID, skipped)
		if err != nil {
			return nil, err
		}
		if !retry {
			return item, nil
		}
		e.Metrics.ClaimConflict()
		e.log().Debug("claim lost to concurrent session, retrying", logging.Annotator(annotatorID), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("claim contention: no item secured after %d attempts", maxClaimAttempts)
}

func (e Engine) tryAssign(ctx context.Context, annotatorID string, skipped []string) (*domain.WorkItem, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	own, err := e.Repo.FindOwnClaim(ctx, tx, annotatorID, skipped)
	if err == nil {
		e.Metrics.Assigned("resumed")
		return &own, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, fmt.Errorf("find own claim: %w", err)
	}

	cand, err := e.Repo.FindUnclaimed(ctx, tx, skipped)
	if errors.Is(err, repo.ErrNotFound) {
		e.Metrics.Assigned("exhausted")
		e.log().Info("no work items left", logging.Annotator(annotatorID))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find unclaimed: %w", err)
	}
	ok, err := e.Repo.ClaimWorkItem(ctx, tx, cand.EntityID, annotatorID)
	if err != nil {
		return nil, false, fmt.Errorf("claim %s: %w", cand.EntityID, err)
	}
	if !ok {
		return nil, true, nil
	}
	if err := e.Events.Append(ctx, tx, events.ItemClaimed, cand.EntityID, annotatorID, events.EventPayload{"previous_taken": cand.Taken}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	cand.Taken = domain.TakenYes
	cand.TakenBy = &annotatorID
	e.Metrics.Assigned("claimed")
	e.Metrics.Claimed()
	e.log().Info("work item claimed", zap.String("entity_id", cand.EntityID), logging.Annotator(annotatorID))
	return &cand, false, nil
}
