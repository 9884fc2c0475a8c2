package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"annoline/internal/domain"
	"annoline/internal/repo"
)

const pageSize = 500

// Record is one exported line: an annotation with the token mappings its
// annotator stored for the same item.
type Record struct {
	domain.Annotation
	Mappings []domain.TokenMapping `json:"mappings"`
}

type Exporter struct {
	Repo repo.Repo
}

// Annotations streams every annotation as JSON lines in id order and returns
// the number written.
func (x Exporter) Annotations(ctx context.Context, w io.Writer, annotatorID string) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	var after int64
	n := 0
	for {
		page, err := x.Repo.ListAnnotations(ctx, repo.AnnotationFilters{AnnotatorID: annotatorID, AfterID: after, Limit: pageSize})
		if err != nil {
			return n, fmt.Errorf("list annotations: %w", err)
		}
		for _, a := range page {
			maps, err := x.Repo.ListMappingsForEntity(ctx, a.EntityID)
			if err != nil {
				return n, fmt.Errorf("mappings for %s: %w", a.EntityID, err)
			}
			rec := Record{Annotation: a, Mappings: []domain.TokenMapping{}}
			for _, m := range maps {
				if m.AnnotatorID == a.AnnotatorID {
					rec.Mappings = append(rec.Mappings, m)
				}
			}
			if err := enc.Encode(rec); err != nil {
				return n, err
			}
			n++
			after = a.ID
		}
		if len(page) < pageSize {
			break
		}
	}
	return n, bw.Flush()
}
