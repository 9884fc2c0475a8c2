package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"annoline/internal/domain"
)

type EventFilters struct {
	Type        string
	EntityID    string
	AnnotatorID string
	Limit       int
	Before      int64
}

func (f EventFilters) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.AnnotatorID != "" {
		clauses = append(clauses, "annotator_id=?")
		args = append(args, f.AnnotatorID)
	}
	return clauses, args
}

// LatestEvents returns newest-first events, paging backwards from Before.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses, args := f.clauses()
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	return r.queryEvents(ctx, clauses, args, "DESC", f.Limit)
}

// EventsAfter returns oldest-first events with id greater than afterID, for
// following the log forward.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, f EventFilters) ([]domain.Event, error) {
	clauses, args := f.clauses()
	clauses = append(clauses, "id>?")
	args = append(args, afterID)
	return r.queryEvents(ctx, clauses, args, "ASC", f.Limit)
}

func (r Repo) queryEvents(ctx context.Context, clauses []string, args []any, order string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_id,annotator_id,payload_json FROM events WHERE %s ORDER BY id %s LIMIT ?`, strings.Join(clauses, " AND "), order)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &entityID, &e.AnnotatorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountEvents counts events of a type for an annotator.
func (r Repo) CountEvents(ctx context.Context, evtType, annotatorID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE type=? AND annotator_id=?`, evtType, annotatorID).Scan(&n)
	return n, err
}
