package app

import (
	"context"
	"strings"
	"testing"

	"annoline/internal/db"
	"annoline/internal/domain"
	"annoline/internal/migrate"
	"annoline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return repo.Repo{DB: conn}
}

func TestImportItems(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	data := "entity_id,keyword,source_text,translation_1,translation_2,translation_3,dialect\n" +
		"e1,kw,\"hello, world\",a,b,c,gulf\n" +
		"e2,,good night,d,e,f,\n"
	n, err := ImportItems(ctx, r, strings.NewReader(data))
	if err != nil || n != 2 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	w, err := r.GetWorkItem(ctx, nil, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if w.SourceText != "hello, world" || w.Dialect != "gulf" || w.Processed != domain.ProcessedNo || w.Taken != domain.TakenNo || w.TakenBy != nil {
		t.Fatalf("unexpected item %+v", w)
	}
	if n, _ := r.CountEvents(ctx, "items.imported", ""); n != 1 {
		t.Fatalf("expected import event, got %d", n)
	}
}

func TestImportItemsRejectsBadInput(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := ImportItems(ctx, r, strings.NewReader("entity_id,source_text\ne1,x\n")); err == nil || !strings.Contains(err.Error(), "translation_1") {
		t.Fatalf("expected missing column error, got %v", err)
	}
	dup := "entity_id,source_text,translation_1,translation_2,translation_3\ne1,x,a,b,c\ne1,y,a,b,c\n"
	if _, err := ImportItems(ctx, r, strings.NewReader(dup)); err == nil {
		t.Fatalf("expected duplicate entity error")
	}
	orphan := "entity_id,source_text,translation_1,translation_2,translation_3,taken,taken_by\ne1,x,a,b,c,no,\ne2,y,a,b,c,yes,\n"
	if _, err := ImportItems(ctx, r, strings.NewReader(orphan)); err == nil || !strings.Contains(err.Error(), "taken_by") {
		t.Fatalf("expected taken without owner to be rejected, got %v", err)
	}
	items, _ := r.ListWorkItems(ctx, repo.WorkItemFilters{})
	if len(items) != 0 {
		t.Fatalf("failed import must leave no rows, got %d", len(items))
	}
}
