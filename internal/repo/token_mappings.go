package repo

import (
	"context"
	"database/sql"
	"errors"

	"annoline/internal/domain"
)

// InsertTokenMapping appends an alignment. Re-submitting an identical
// alignment is a no-op.
func (r Repo) InsertTokenMapping(ctx context.Context, tx *sql.Tx, m domain.TokenMapping) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO token_mappings(entity_id,annotator_id,source_token,translation_token) VALUES (?,?,?,?)`,
		m.EntityID, m.AnnotatorID, m.SourceToken, m.TranslationToken)
	return err
}

func (r Repo) ListMappingsForEntity(ctx context.Context, entityID string) ([]domain.TokenMapping, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT entity_id,annotator_id,source_token,translation_token FROM token_mappings WHERE entity_id=? ORDER BY id ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TokenMapping
	for rows.Next() {
		var m domain.TokenMapping
		if err := rows.Scan(&m.EntityID, &m.AnnotatorID, &m.SourceToken, &m.TranslationToken); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListMappingsBySourceToken returns earlier alignments of a source token
// together with the edited source of the annotation they belong to.
func (r Repo) ListMappingsBySourceToken(ctx context.Context, sourceToken string, limit int) ([]domain.PreviousMapping, error) {
	query := `SELECT entity_id, source_token, translation_token FROM token_mappings WHERE source_token=? ORDER BY id ASC`
	args := []any{sourceToken}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.PreviousMapping
	for rows.Next() {
		var m domain.PreviousMapping
		if err := rows.Scan(&m.EntityID, &m.SourceToken, &m.TranslationToken); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows are closed before the lookups so a single-connection pool is enough
	sources := map[string]string{}
	for i := range res {
		src, ok := sources[res[i].EntityID]
		if !ok {
			src, err = r.EditedSourceFor(ctx, res[i].EntityID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			sources[res[i].EntityID] = src
		}
		res[i].EditedSource = src
	}
	return res, nil
}
