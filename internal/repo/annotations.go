package repo

import (
	"context"
	"database/sql"
	"errors"

	"annoline/internal/domain"
)

func (r Repo) InsertAnnotation(ctx context.Context, tx *sql.Tx, a domain.Annotation) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO annotation(entity_id,selected_translation,edited_source,edited_translation,action,annotator_id,datestamp)
VALUES (?,?,?,?,?,?,?)`,
		a.EntityID, a.SelectedTranslation, a.EditedSource, a.EditedTranslation, a.Action, a.AnnotatorID, a.Datestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CountAnnotations counts an annotator's rows, optionally only those whose
// datestamp starts with datePrefix (YYYY-MM-DD).
func (r Repo) CountAnnotations(ctx context.Context, annotatorID, datePrefix string) (int, error) {
	query := `SELECT count(*) FROM annotation WHERE annotator_id=?`
	args := []any{annotatorID}
	if datePrefix != "" {
		query += ` AND datestamp LIKE ?`
		args = append(args, datePrefix+"%")
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type AnnotationFilters struct {
	AnnotatorID string
	EntityID    string
	Limit       int
	AfterID     int64
}

func (r Repo) ListAnnotations(ctx context.Context, f AnnotationFilters) ([]domain.Annotation, error) {
	query := `SELECT id,entity_id,selected_translation,edited_source,edited_translation,action,annotator_id,datestamp FROM annotation WHERE id>?`
	args := []any{f.AfterID}
	if f.AnnotatorID != "" {
		query += ` AND annotator_id=?`
		args = append(args, f.AnnotatorID)
	}
	if f.EntityID != "" {
		query += ` AND entity_id=?`
		args = append(args, f.EntityID)
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Annotation
	for rows.Next() {
		var a domain.Annotation
		if err := rows.Scan(&a.ID, &a.EntityID, &a.SelectedTranslation, &a.EditedSource, &a.EditedTranslation, &a.Action, &a.AnnotatorID, &a.Datestamp); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// EditedSourceFor returns the source sentence as edited in the entity's
// annotation, or ErrNotFound when it was never processed.
func (r Repo) EditedSourceFor(ctx context.Context, entityID string) (string, error) {
	var src string
	err := r.DB.QueryRowContext(ctx, `SELECT edited_source FROM annotation WHERE entity_id=? ORDER BY id ASC LIMIT 1`, entityID).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return src, err
}
