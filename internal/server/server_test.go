package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"annoline/internal/config"
	"annoline/internal/db"
	"annoline/internal/domain"
	"annoline/internal/engine"
	"annoline/internal/metrics"
	"annoline/internal/migrate"
	"annoline/internal/progress"
	"annoline/internal/session"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, ids ...string) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	reg := prometheus.NewRegistry()
	e.Metrics = metrics.New(reg)
	for _, id := range ids {
		if err := e.Repo.InsertWorkItem(context.Background(), nil, domain.WorkItem{
			EntityID:     id,
			SourceText:   "the red house",
			Translation1: "la maison rouge",
			Translation2: "la casa roja",
			Translation3: "das rote haus",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		Sessions: session.NewRegistry(e),
		Tracker:  progress.Tracker{Repo: e.Repo, Config: cfg, Clock: e.Clock},
		Gatherer: reg,
		BasePath: "/v0",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func startSession(t *testing.T, srv *testServer, annotator string) SessionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"annotator_id": annotator})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start session: %d %s", res.StatusCode, string(data))
	}
	var view SessionResponse
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return view
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestAnnotationFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, "e1", "e2")
	defer cleanup()
	client := srv.Client()

	view := startSession(t, srv, "annotator-1")
	if view.State != session.StatePresenting || view.Current == nil || view.Current.EntityID != "e1" {
		t.Fatalf("unexpected session %+v", view)
	}
	if view.Progress == nil || view.Progress.AnnotatorID != "annotator-1" {
		t.Fatalf("expected progress in session view")
	}
	base := srv.URL + "/v0/sessions/" + view.ID

	res, data := doJSON(t, client, http.MethodPost, base+"/process", map[string]any{"selected_translation": "la casa roja"})
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected 422 without mappings, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/mappings", map[string]any{"source_token": "house", "translation_token": "nope"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on unknown token, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/mappings", map[string]any{"source_token": "house", "translation_token": "casa"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stage: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &view)
	if len(view.Staged) != 1 {
		t.Fatalf("expected one staged mapping, got %+v", view.Staged)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/process", map[string]any{"selected_translation": "la casa roja"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("process: %d %s", res.StatusCode, string(data))
	}
	var processed ProcessResponse
	if err := json.Unmarshal(data, &processed); err != nil {
		t.Fatal(err)
	}
	if processed.Annotation.SelectedTranslation != domain.Translation2 {
		t.Fatalf("unexpected annotation %+v", processed.Annotation)
	}
	if processed.Session.Current == nil || processed.Session.Current.EntityID != "e2" || len(processed.Session.Staged) != 0 {
		t.Fatalf("expected e2 with nothing staged, got %+v", processed.Session)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/mappings?source_token=house", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "casa") {
		t.Fatalf("lookup mappings: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/reject", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &view)
	if view.State != session.StateExhausted {
		t.Fatalf("expected exhausted, got %s", view.State)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/skip", nil)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "no_current_item" {
		t.Fatalf("expected conflict on exhausted session, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/status", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, string(data))
	}
	var st StatusResponse
	_ = json.Unmarshal(data, &st)
	if st.Counts["yes"] != 1 || st.Counts["reject"] != 1 || st.Total != 2 || st.Violations != 0 {
		t.Fatalf("unexpected status %+v", st)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts paginatedEvents
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) != 2 || evts.Items[0].Type != "item.rejected" || evts.NextCursor == "" {
		t.Fatalf("unexpected events page %+v", evts)
	}

	res, _ = doJSON(t, client, http.MethodDelete, base, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("end session: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, base, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after end, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnknownAnnotatorForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t, "e1")
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"annotator_id": "guess-me"})
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "invalid_annotator" {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if strings.Contains(string(data), "guess-me") {
		t.Fatalf("rejected identifier leaked in response")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/annotators/guess-me/progress", nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on progress, got %d", res.StatusCode)
	}
}

func TestSkipKeepsClaimAcrossSessions(t *testing.T) {
	srv, cleanup := newTestServer(t, "e1", "e2")
	defer cleanup()
	client := srv.Client()
	first := startSession(t, srv, "annotator-2")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+first.ID+"/skip", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("skip: %d %s", res.StatusCode, string(data))
	}
	var view SessionResponse
	_ = json.Unmarshal(data, &view)
	if view.Current == nil || view.Current.EntityID != "e2" || len(view.Skipped) != 1 {
		t.Fatalf("unexpected view after skip %+v", view)
	}
	other := startSession(t, srv, "annotator-3")
	if other.State != session.StateExhausted {
		t.Fatalf("items held by another annotator must not be offered, got %+v", other.Current)
	}
	if dup := startSession(t, srv, "annotator-2"); dup.ID != first.ID || dup.Current == nil || dup.Current.EntityID != "e2" {
		t.Fatalf("reopening must return the open session, got %+v", dup)
	}
	doJSON(t, client, http.MethodDelete, srv.URL+"/v0/sessions/"+first.ID, nil)
	again := startSession(t, srv, "annotator-2")
	if again.Current == nil || again.Current.EntityID != "e1" {
		t.Fatalf("expected skipped e1 back, got %+v", again.Current)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items?processed=skipped", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list items: %d %s", res.StatusCode, string(data))
	}
	var items paginatedItems
	_ = json.Unmarshal(data, &items)
	if len(items.Items) != 1 || items.Items[0].EntityID != "e1" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestMetricsAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t, "e1")
	defer cleanup()
	startSession(t, srv, "annotator-1")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "annoline_claims_total") {
		t.Fatalf("metrics: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	var oas struct {
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
		Paths map[string]map[string]json.RawMessage `json:"paths"`
	}
	type operation struct {
		Responses map[string]struct {
			Content map[string]struct {
				Schema struct {
					Ref string `json:"$ref"`
				} `json:"schema"`
			} `json:"content"`
		} `json:"responses"`
	}
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	defaults := 0
	for p, ops := range oas.Paths {
		for method, raw := range ops {
			switch method {
			case "get", "post", "put", "patch", "delete":
			default:
				continue
			}
			var op operation
			if err := json.Unmarshal(raw, &op); err != nil {
				t.Fatalf("decode %s %s: %v", method, p, err)
			}
			resp, ok := op.Responses["default"]
			if !ok {
				continue
			}
			defaults++
			ref := resp.Content["application/json"].Schema.Ref
			name := strings.TrimPrefix(ref, "#/components/schemas/")
			if _, ok := oas.Components.Schemas[name]; ref == "" || !ok {
				t.Fatalf("%s %s: default response refers to missing schema %q", method, p, ref)
			}
		}
	}
	if defaults == 0 {
		t.Fatalf("expected default error responses in openapi document")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs: %d", res.StatusCode)
	}
}
