package annolinesdk_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"annoline/internal/config"
	"annoline/internal/db"
	"annoline/internal/domain"
	"annoline/internal/engine"
	"annoline/internal/migrate"
	"annoline/internal/progress"
	"annoline/internal/server"
	annolinesdk "annoline/sdk/go"
)

func newClient(t *testing.T) *annolinesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Repo.InsertWorkItem(context.Background(), nil, domain.WorkItem{
		EntityID: "e1", SourceText: "green tea", Translation1: "thé vert", Translation2: "té verde", Translation3: "grüner tee",
	}); err != nil {
		t.Fatal(err)
	}
	h, err := server.New(server.Config{Engine: e, Tracker: progress.Tracker{Repo: e.Repo, Config: cfg, Clock: e.Clock}})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return annolinesdk.New(ts.URL)
}

func TestClientSessionRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	s, err := c.StartSession(ctx, "annotator-4")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Current == nil || s.Current.EntityID != "e1" {
		t.Fatalf("unexpected session %+v", s)
	}
	_, _, err = c.Process(ctx, s.ID, "té verde", "", "")
	var apiErr *annolinesdk.APIError
	if !errors.As(err, &apiErr) || !apiErr.Validation() {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s, err = c.StageMapping(ctx, s.ID, "tea", "té"); err != nil || len(s.Staged) != 1 {
		t.Fatalf("stage: %v %+v", err, s)
	}
	if s, err = c.ClearMappings(ctx, s.ID); err != nil || len(s.Staged) != 0 {
		t.Fatalf("clear: %v %+v", err, s)
	}
	if _, err = c.StageMapping(ctx, s.ID, "green", "verde"); err != nil {
		t.Fatal(err)
	}
	a, next, err := c.Process(ctx, s.ID, "té verde", "", "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if a.SelectedTranslation != "translation_2" || !next.Exhausted() {
		t.Fatalf("unexpected result %+v %+v", a, next)
	}
	prev, err := c.PreviousMappings(ctx, "green")
	if err != nil || len(prev) != 1 || prev[0].TranslationToken != "verde" {
		t.Fatalf("previous: %v %+v", err, prev)
	}
	p, err := c.Progress(ctx, "annotator-4")
	if err != nil || p.Total != 1 {
		t.Fatalf("progress: %v %+v", err, p)
	}
	if err := c.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := c.Skip(ctx, s.ID); !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Fatalf("expected 404 after end, got %v", err)
	}
}
