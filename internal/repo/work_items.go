package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"annoline/internal/domain"
)

const workItemColumns = `entity_id,keyword,source_text,translation_1,translation_2,translation_3,dialect,processed,taken,taken_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (domain.WorkItem, error) {
	var w domain.WorkItem
	var takenBy sql.NullString
	err := row.Scan(&w.EntityID, &w.Keyword, &w.SourceText, &w.Translation1, &w.Translation2, &w.Translation3,
		&w.Dialect, &w.Processed, &w.Taken, &takenBy)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if takenBy.Valid {
		w.TakenBy = &takenBy.String
	}
	return w, nil
}

// InsertWorkItem loads a new item in state (no, no, null) unless the caller
// sets other values.
func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	if w.Processed == "" {
		w.Processed = domain.ProcessedNo
	}
	if w.Taken == "" {
		w.Taken = domain.TakenNo
	}
	var takenBy any
	if w.TakenBy != nil {
		takenBy = nullable(*w.TakenBy)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO original_data(`+workItemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		w.EntityID, w.Keyword, w.SourceText, w.Translation1, w.Translation2, w.Translation3, w.Dialect,
		w.Processed, w.Taken, takenBy)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, tx *sql.Tx, entityID string) (domain.WorkItem, error) {
	return scanWorkItem(r.q(tx).QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM original_data WHERE entity_id=?`, entityID))
}

// FindOwnClaim returns an in-progress item already claimed by annotatorID.
func (r Repo) FindOwnClaim(ctx context.Context, tx *sql.Tx, annotatorID string, exclude []string) (domain.WorkItem, error) {
	clauses := []string{"processed IN ('no','skipped')", "taken='yes'", "taken_by=?"}
	args := []any{annotatorID}
	if len(exclude) > 0 {
		clauses = append(clauses, "entity_id NOT IN ("+placeholders(len(exclude))+")")
		args = append(args, stringArgs(exclude)...)
	}
	query := `SELECT ` + workItemColumns + ` FROM original_data WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY rowid LIMIT 1`
	return scanWorkItem(r.q(tx).QueryRowContext(ctx, query, args...))
}

// FindUnclaimed returns a fresh item nobody holds.
func (r Repo) FindUnclaimed(ctx context.Context, tx *sql.Tx, exclude []string) (domain.WorkItem, error) {
	clauses := []string{"processed='no'", "(taken='no' OR taken_by IS NULL)"}
	var args []any
	if len(exclude) > 0 {
		clauses = append(clauses, "entity_id NOT IN ("+placeholders(len(exclude))+")")
		args = append(args, stringArgs(exclude)...)
	}
	query := `SELECT ` + workItemColumns + ` FROM original_data WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY rowid LIMIT 1`
	return scanWorkItem(r.q(tx).QueryRowContext(ctx, query, args...))
}

// ClaimWorkItem sets the claim only if the item is still unclaimed and
// unprocessed. It reports false when another session won the race.
func (r Repo) ClaimWorkItem(ctx context.Context, tx *sql.Tx, entityID, annotatorID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE original_data SET taken='yes', taken_by=?
WHERE entity_id=? AND processed='no' AND (taken='no' OR taken_by IS NULL)`, annotatorID, entityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetProcessed moves the item to a new lifecycle status.
func (r Repo) SetProcessed(ctx context.Context, tx *sql.Tx, entityID, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE original_data SET processed=? WHERE entity_id=?`, status, entityID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSkipped sets processed=skipped and re-affirms the annotator's claim.
func (r Repo) MarkSkipped(ctx context.Context, tx *sql.Tx, entityID, annotatorID string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE original_data SET processed='skipped', taken='yes', taken_by=? WHERE entity_id=?`,
		annotatorID, entityID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type WorkItemFilters struct {
	Processed string
	TakenBy   string
	Limit     int
	Cursor    string
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Processed != "" {
		clauses = append(clauses, "processed=?")
		args = append(args, f.Processed)
	}
	if f.TakenBy != "" {
		clauses = append(clauses, "taken_by=?")
		args = append(args, f.TakenBy)
	}
	if f.Cursor != "" {
		clauses = append(clauses, "entity_id>?")
		args = append(args, f.Cursor)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workItemColumns + ` FROM original_data ` + where + ` ORDER BY entity_id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// CountWorkItemsByStatus groups items by lifecycle status.
func (r Repo) CountWorkItemsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT processed, count(*) FROM original_data GROUP BY processed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// CountInvariantViolations counts rows claimed without an owner.
func (r Repo) CountInvariantViolations(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM original_data WHERE taken='yes' AND taken_by IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claim violations: %w", err)
	}
	return n, nil
}
