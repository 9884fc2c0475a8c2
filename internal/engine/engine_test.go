package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"annoline/internal/clock"
	"annoline/internal/config"
	"annoline/internal/db"
	"annoline/internal/domain"
	"annoline/internal/engine"
	"annoline/internal/migrate"
	"annoline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, ids ...string) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Clock = clock.Fixed(eng.Clock.Location, time.Date(2024, 9, 26, 9, 30, 0, 0, time.UTC))
	ctx := context.Background()
	for _, id := range ids {
		if err := eng.Repo.InsertWorkItem(ctx, nil, domain.WorkItem{
			EntityID:     id,
			SourceText:   "the cat sat " + id,
			Translation1: "one " + id,
			Translation2: "two " + id,
			Translation3: "three " + id,
		}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) item(t *testing.T, id string) domain.WorkItem {
	t.Helper()
	w, err := env.Engine.Repo.GetWorkItem(env.Ctx, nil, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return w
}

func (env testEnv) assertClaimInvariant(t *testing.T) {
	t.Helper()
	n, err := env.Engine.Repo.CountInvariantViolations(env.Ctx)
	if err != nil {
		t.Fatalf("count violations: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no taken rows without owner, got %d", n)
	}
}

func submission(annotator, id string) engine.Submission {
	return engine.Submission{
		AnnotatorID:         annotator,
		EntityID:            id,
		SelectedTranslation: "two " + id,
		Mappings:            []domain.TokenMapping{{SourceToken: "cat", TranslationToken: "two"}},
	}
}

func TestUnknownAnnotatorRejected(t *testing.T) {
	env := newTestEnv(t, "e1")
	_, err := env.Engine.GetAvailableRow(env.Ctx, "mallory", nil)
	if !errors.Is(err, config.ErrInvalidAnnotator) {
		t.Fatalf("expected invalid annotator, got %v", err)
	}
	if w := env.item(t, "e1"); w.Taken != domain.TakenNo {
		t.Fatalf("unknown annotator must not claim rows")
	}
}

func TestAssignmentClaimsInRowOrder(t *testing.T) {
	env := newTestEnv(t, "e1", "e2")
	got, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err != nil || got == nil {
		t.Fatalf("get row: %v %v", got, err)
	}
	if got.EntityID != "e1" || !got.ClaimedBy("annotator-1") {
		t.Fatalf("unexpected assignment %+v", got)
	}
	if w := env.item(t, "e1"); !w.ClaimedBy("annotator-1") {
		t.Fatalf("claim not persisted: %+v", w)
	}
	env.assertClaimInvariant(t)
}

func TestOwnClaimPreferredOverFreshItem(t *testing.T) {
	env := newTestEnv(t, "e1", "e2")
	first, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	again, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err != nil || again == nil {
		t.Fatalf("get row: %v", err)
	}
	if again.EntityID != first.EntityID {
		t.Fatalf("expected resumed %s, got %s", first.EntityID, again.EntityID)
	}
	if w := env.item(t, "e2"); w.Taken != domain.TakenNo {
		t.Fatalf("fresh item must stay unclaimed")
	}
}

func TestSkippedItemResumedInLaterSession(t *testing.T) {
	env := newTestEnv(t, "e1", "e2")
	first, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err := env.Engine.Skip(env.Ctx, "annotator-1", first.EntityID); err != nil {
		t.Fatalf("skip: %v", err)
	}
	env.assertClaimInvariant(t)
	w := env.item(t, first.EntityID)
	if w.Processed != domain.ProcessedSkipped || !w.ClaimedBy("annotator-1") {
		t.Fatalf("skip must keep claim: %+v", w)
	}
	// new session, empty skip list
	got, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err != nil || got == nil || got.EntityID != first.EntityID {
		t.Fatalf("expected skipped item back, got %+v %v", got, err)
	}
}

func TestSkipListFallsThroughToFreshItem(t *testing.T) {
	env := newTestEnv(t, "e1", "e2")
	first, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	got, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", []string{first.EntityID})
	if err != nil || got == nil {
		t.Fatalf("get row: %v", err)
	}
	if got.EntityID != "e2" {
		t.Fatalf("expected e2, got %s", got.EntityID)
	}
	none, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", []string{"e1", "e2"})
	if err != nil || none != nil {
		t.Fatalf("expected exhaustion, got %+v %v", none, err)
	}
}

func TestOtherAnnotatorsClaimsAreNotOffered(t *testing.T) {
	env := newTestEnv(t, "e1")
	if _, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-2", nil)
	if err != nil || got != nil {
		t.Fatalf("expected nothing for second annotator, got %+v %v", got, err)
	}
	if err := env.Engine.Skip(env.Ctx, "annotator-2", "e1"); !errors.Is(err, engine.ErrNotClaimed) {
		t.Fatalf("expected not claimed, got %v", err)
	}
}

func TestLegacyTakenWithoutOwnerIsReclaimed(t *testing.T) {
	env := newTestEnv(t, "e1")
	if _, err := env.Engine.DB.Exec(`UPDATE original_data SET taken='yes', taken_by=NULL WHERE entity_id='e1'`); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err != nil || got == nil || got.EntityID != "e1" {
		t.Fatalf("expected orphaned claim to be taken over, got %+v %v", got, err)
	}
	env.assertClaimInvariant(t)
}

func TestProcessWithoutMappingsIsBlocked(t *testing.T) {
	env := newTestEnv(t, "e1")
	got, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	sub := submission("annotator-1", got.EntityID)
	sub.Mappings = nil
	if _, err := env.Engine.Process(env.Ctx, sub); !errors.Is(err, engine.ErrNoMappings) || !engine.IsValidation(err) {
		t.Fatalf("expected no-mappings validation, got %v", err)
	}
	if w := env.item(t, "e1"); w.Processed != domain.ProcessedNo {
		t.Fatalf("state changed on blocked process: %+v", w)
	}
	anns, err := env.Engine.Repo.ListAnnotations(env.Ctx, repo.AnnotationFilters{})
	if err != nil || len(anns) != 0 {
		t.Fatalf("expected no annotations, got %d %v", len(anns), err)
	}
}

func TestProcessRecordsAnnotationAndMappings(t *testing.T) {
	env := newTestEnv(t, "e1")
	got, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	sub := submission("annotator-1", got.EntityID)
	sub.Mappings = append(sub.Mappings, domain.TokenMapping{SourceToken: "sat", TranslationToken: "e1"})
	a, err := env.Engine.Process(env.Ctx, sub)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if a.SelectedTranslation != domain.Translation2 || a.Action != domain.ActionProcessed {
		t.Fatalf("unexpected annotation %+v", a)
	}
	if a.EditedSource != got.SourceText || a.EditedTranslation != "two e1" {
		t.Fatalf("edited fields should default to originals: %+v", a)
	}
	if a.Datestamp != "2024-09-26 12:30:00" {
		t.Fatalf("datestamp should be in schedule zone, got %s", a.Datestamp)
	}
	anns, _ := env.Engine.Repo.ListAnnotations(env.Ctx, repo.AnnotationFilters{EntityID: "e1"})
	if len(anns) != 1 {
		t.Fatalf("expected exactly one annotation, got %d", len(anns))
	}
	if w := env.item(t, "e1"); w.Processed != domain.ProcessedYes {
		t.Fatalf("expected processed=yes, got %s", w.Processed)
	}
	maps, err := env.Engine.Repo.ListMappingsForEntity(env.Ctx, "e1")
	if err != nil || len(maps) != 2 {
		t.Fatalf("expected 2 mappings, got %d %v", len(maps), err)
	}
	for _, m := range maps {
		if m.AnnotatorID != "annotator-1" {
			t.Fatalf("mapping not attributed: %+v", m)
		}
	}
	if _, err := env.Engine.Process(env.Ctx, sub); !errors.Is(err, engine.ErrFinalized) {
		t.Fatalf("expected finalized on resubmit, got %v", err)
	}
	next, err := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err != nil || next != nil {
		t.Fatalf("processed item offered again: %+v %v", next, err)
	}
}

func TestProcessUnmatchedTranslationIsError(t *testing.T) {
	env := newTestEnv(t, "e1")
	got, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	sub := submission("annotator-1", got.EntityID)
	sub.SelectedTranslation = "something else entirely"
	if _, err := env.Engine.Process(env.Ctx, sub); !errors.Is(err, engine.ErrUnmatchedTranslation) {
		t.Fatalf("expected unmatched translation, got %v", err)
	}
	if w := env.item(t, "e1"); w.Processed != domain.ProcessedNo {
		t.Fatalf("state changed: %+v", w)
	}
	if maps, _ := env.Engine.Repo.ListMappingsForEntity(env.Ctx, "e1"); len(maps) != 0 {
		t.Fatalf("mappings leaked from rolled back process")
	}
}

func TestProcessMappingMustBeInSubmittedText(t *testing.T) {
	env := newTestEnv(t, "e1")
	got, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)

	sub := submission("annotator-1", got.EntityID)
	sub.Mappings = []domain.TokenMapping{{SourceToken: "cat", TranslationToken: "one"}}
	if _, err := env.Engine.Process(env.Ctx, sub); !errors.Is(err, engine.ErrMappingOutsideText) || !engine.IsValidation(err) {
		t.Fatalf("expected translation token outside chosen text, got %v", err)
	}

	sub = submission("annotator-1", got.EntityID)
	sub.EditedSource = "the dog sat e1"
	if _, err := env.Engine.Process(env.Ctx, sub); !errors.Is(err, engine.ErrMappingOutsideText) {
		t.Fatalf("expected source token outside edited source, got %v", err)
	}

	if w := env.item(t, "e1"); w.Processed != domain.ProcessedNo || !w.ClaimedBy("annotator-1") {
		t.Fatalf("state changed on blocked process: %+v", w)
	}
	if maps, _ := env.Engine.Repo.ListMappingsForEntity(env.Ctx, "e1"); len(maps) != 0 {
		t.Fatalf("mappings stored for blocked process: %+v", maps)
	}

	sub = submission("annotator-1", got.EntityID)
	sub.EditedTranslation = "deux e1"
	sub.Mappings = []domain.TokenMapping{{SourceToken: "cat", TranslationToken: "deux"}}
	if _, err := env.Engine.Process(env.Ctx, sub); err != nil {
		t.Fatalf("mapping against edited translation: %v", err)
	}
}

func TestRejectNeverOfferedAgain(t *testing.T) {
	env := newTestEnv(t, "k", "e2")
	got, _ := env.Engine.GetAvailableRow(env.Ctx, "annotator-1", nil)
	if err := env.Engine.Reject(env.Ctx, "annotator-1", got.EntityID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if w := env.item(t, "k"); w.Processed != domain.ProcessedReject {
		t.Fatalf("expected reject, got %s", w.Processed)
	}
	for _, who := range []string{"annotator-1", "annotator-2", "annotator-1"} {
		next, err := env.Engine.GetAvailableRow(env.Ctx, who, nil)
		if err != nil {
			t.Fatal(err)
		}
		if next != nil && next.EntityID == "k" {
			t.Fatalf("rejected item offered to %s", who)
		}
	}
	if err := env.Engine.Skip(env.Ctx, "annotator-1", "k"); !errors.Is(err, engine.ErrFinalized) {
		t.Fatalf("expected finalized, got %v", err)
	}
}

func TestConcurrentAssignmentNeverDoubleClaims(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("e%02d", i)
	}
	env := newTestEnv(t, ids...)
	annotators := []string{"annotator-1", "annotator-2", "annotator-3", "annotator-4", "annotator-5"}

	var mu sync.Mutex
	owner := map[string]string{}
	var wg sync.WaitGroup
	errs := make(chan error, len(annotators))
	for _, who := range annotators {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			var skip []string
			for {
				got, err := env.Engine.GetAvailableRow(env.Ctx, who, skip)
				if err != nil {
					errs <- err
					return
				}
				if got == nil {
					return
				}
				mu.Lock()
				if prev, ok := owner[got.EntityID]; ok && prev != who {
					mu.Unlock()
					errs <- fmt.Errorf("%s handed to %s and %s", got.EntityID, prev, who)
					return
				}
				owner[got.EntityID] = who
				mu.Unlock()
				skip = append(skip, got.EntityID)
			}
		}(who)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if len(owner) != len(ids) {
		t.Fatalf("expected all %d items claimed, got %d", len(ids), len(owner))
	}
	env.assertClaimInvariant(t)
}
