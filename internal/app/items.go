package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"annoline/internal/domain"
	"annoline/internal/events"
	"annoline/internal/repo"
)

var requiredColumns = []string{"entity_id", "source_text", "translation_1", "translation_2", "translation_3"}

// ImportItems loads work items from CSV with a header row. Columns beyond
// the required ones (keyword, dialect, processed, taken, taken_by) are
// optional. The whole file is one transaction.
func ImportItems(ctx context.Context, r repo.Repo, in io.Reader) (int, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("invalid csv: empty file")
		}
		return 0, fmt.Errorf("invalid csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := col[c]; !ok {
			return 0, fmt.Errorf("invalid csv: missing column %s", c)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("invalid csv line %d: %w", line, err)
		}
		w := domain.WorkItem{
			EntityID:     field(rec, "entity_id"),
			Keyword:      field(rec, "keyword"),
			SourceText:   field(rec, "source_text"),
			Translation1: field(rec, "translation_1"),
			Translation2: field(rec, "translation_2"),
			Translation3: field(rec, "translation_3"),
			Dialect:      field(rec, "dialect"),
			Processed:    field(rec, "processed"),
			Taken:        field(rec, "taken"),
		}
		if w.EntityID == "" || w.SourceText == "" {
			return 0, fmt.Errorf("invalid csv line %d: entity_id and source_text are required", line)
		}
		if by := field(rec, "taken_by"); by != "" {
			w.TakenBy = &by
		}
		if w.Taken == domain.TakenYes && w.TakenBy == nil {
			return 0, fmt.Errorf("invalid csv line %d (%s): taken=yes requires taken_by", line, w.EntityID)
		}
		if err := r.InsertWorkItem(ctx, tx, w); err != nil {
			return 0, fmt.Errorf("line %d (%s): %w", line, w.EntityID, err)
		}
		n++
	}
	if err := (events.Writer{}).Append(ctx, tx, events.ItemsImported, "", "", events.EventPayload{"count": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
