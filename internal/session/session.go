package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"annoline/internal/domain"
	"annoline/internal/engine"
	"annoline/internal/logging"
	"annoline/internal/tokenize"
)

type State string

const (
	StateAwaitingAssignment State = "awaiting_assignment"
	StatePresenting         State = "presenting"
	StateExhausted          State = "exhausted"
)

var (
	// ErrNoCurrentItem is returned when a transition needs an item and the
	// session has none.
	ErrNoCurrentItem = errors.New("no work item is being presented")
	// ErrTokenNotFound rejects a staged token absent from its sentence.
	ErrTokenNotFound = errors.New("validation failed: token not found in sentence")
)

// Session is one annotator's sitting. Staged mappings and the skip list live
// only here and vanish when the session ends.
type Session struct {
	ID          string
	AnnotatorID string

	eng    engine.Engine
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	current *domain.WorkItem
	staged  []domain.TokenMapping
	skipped []string
	warning string
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	ID          string                `json:"id"`
	AnnotatorID string                `json:"annotator_id"`
	State       State                 `json:"state" enum:"awaiting_assignment,presenting,exhausted"`
	Current     *domain.WorkItem      `json:"current,omitempty"`
	Staged      []domain.TokenMapping `json:"staged_mappings"`
	Skipped     []string              `json:"skipped"`
	Warning     string                `json:"warning,omitempty"`
}

// Start validates the annotator and presents their first item.
func Start(ctx context.Context, eng engine.Engine, annotatorID string) (*Session, error) {
	if _, err := eng.ValidateAnnotator(annotatorID); err != nil {
		return nil, err
	}
	s := &Session{
		ID:          uuid.NewString(),
		AnnotatorID: annotatorID,
		eng:         eng,
		logger:      logging.OrNop(eng.Logger),
		state:       StateAwaitingAssignment,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.advance(ctx); err != nil {
		return nil, err
	}
	eng.Metrics.SessionOpened()
	s.logger.Info("session started", zap.String("session_id", s.ID), logging.Annotator(annotatorID))
	return s, nil
}

// advance asks the engine for the next item. Caller holds mu.
func (s *Session) advance(ctx context.Context) error {
	s.state = StateAwaitingAssignment
	s.current = nil
	s.staged = nil
	item, err := s.eng.GetAvailableRow(ctx, s.AnnotatorID, s.skipped)
	if err != nil {
		return err
	}
	if item == nil {
		s.state = StateExhausted
		return nil
	}
	s.current = item
	s.state = StatePresenting
	return nil
}

// Resume re-presents the session. A current item that was finished or taken
// over elsewhere is replaced by the next assignment.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		w, err := s.eng.Repo.GetWorkItem(ctx, nil, s.current.EntityID)
		if err != nil {
			return err
		}
		if !w.Terminal() && w.ClaimedBy(s.AnnotatorID) {
			s.current = &w
			return nil
		}
	}
	return s.advance(ctx)
}

// dropStale moves past a current item the engine no longer lets this
// annotator act on. err is returned unchanged. Caller holds mu.
func (s *Session) dropStale(ctx context.Context, err error) error {
	if !errors.Is(err, engine.ErrFinalized) && !errors.Is(err, engine.ErrNotClaimed) {
		return err
	}
	id := s.current.EntityID
	s.logger.Info("current item closed elsewhere, reassigning", zap.String("session_id", s.ID), zap.String("entity_id", id))
	if aerr := s.advance(ctx); aerr != nil {
		return aerr
	}
	s.warning = fmt.Sprintf("item %s was closed elsewhere", id)
	return err
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:          s.ID,
		AnnotatorID: s.AnnotatorID,
		State:       s.state,
		Staged:      append([]domain.TokenMapping{}, s.staged...),
		Skipped:     append([]string{}, s.skipped...),
		Warning:     s.warning,
	}
	if s.current != nil {
		item := *s.current
		snap.Current = &item
	}
	return snap
}

// StageRequest pairs a source token with its translation token. The edited
// sentences, when given, are what the tokens are checked against; otherwise
// the stored source and the candidate translations are used.
type StageRequest struct {
	SourceToken       string
	TranslationToken  string
	EditedSource      string
	EditedTranslation string
}

// Stage adds a token mapping for the current item.
func (s *Session) Stage(req StageRequest) error {
	req.SourceToken = strings.TrimSpace(req.SourceToken)
	req.TranslationToken = strings.TrimSpace(req.TranslationToken)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoCurrentItem
	}
	source := req.EditedSource
	if source == "" {
		source = s.current.SourceText
	}
	if !tokenize.Contains(source, req.SourceToken) {
		s.warning = fmt.Sprintf("source token %q is not in the sentence", req.SourceToken)
		return fmt.Errorf("source %q: %w", req.SourceToken, ErrTokenNotFound)
	}
	targets := s.current.Translations()
	if req.EditedTranslation != "" {
		targets = []string{req.EditedTranslation}
	}
	found := false
	for _, t := range targets {
		if tokenize.Contains(t, req.TranslationToken) {
			found = true
			break
		}
	}
	if !found {
		s.warning = fmt.Sprintf("translation token %q is not in the translation", req.TranslationToken)
		return fmt.Errorf("translation %q: %w", req.TranslationToken, ErrTokenNotFound)
	}
	m := domain.TokenMapping{
		EntityID:         s.current.EntityID,
		AnnotatorID:      s.AnnotatorID,
		SourceToken:      req.SourceToken,
		TranslationToken: req.TranslationToken,
	}
	for _, have := range s.staged {
		if have == m {
			s.warning = ""
			return nil
		}
	}
	s.staged = append(s.staged, m)
	s.warning = ""
	return nil
}

// ClearMappings drops everything staged for the current item.
func (s *Session) ClearMappings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
}

// Process submits the current item with the staged mappings and moves on.
// A blocked submission keeps the item and the staged list and records a
// warning.
func (s *Session) Process(ctx context.Context, selected, editedSource, editedTranslation string) (domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Annotation{}, ErrNoCurrentItem
	}
	a, err := s.eng.Process(ctx, engine.Submission{
		AnnotatorID:         s.AnnotatorID,
		EntityID:            s.current.EntityID,
		SelectedTranslation: selected,
		EditedSource:        editedSource,
		EditedTranslation:   editedTranslation,
		Mappings:            append([]domain.TokenMapping{}, s.staged...),
	})
	if err != nil {
		if engine.IsValidation(err) {
			s.warning = err.Error()
			return domain.Annotation{}, err
		}
		return domain.Annotation{}, s.dropStale(ctx, err)
	}
	s.warning = ""
	return a, s.advance(ctx)
}

// Skip defers the current item for the rest of this session.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoCurrentItem
	}
	id := s.current.EntityID
	if err := s.eng.Skip(ctx, s.AnnotatorID, id); err != nil {
		return s.dropStale(ctx, err)
	}
	s.skipped = append(s.skipped, id)
	s.warning = ""
	return s.advance(ctx)
}

// Reject retires the current item.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoCurrentItem
	}
	if err := s.eng.Reject(ctx, s.AnnotatorID, s.current.EntityID); err != nil {
		return s.dropStale(ctx, err)
	}
	s.warning = ""
	return s.advance(ctx)
}

// End discards staged work. The claim on the current item is kept so the
// annotator resumes it next time.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) > 0 {
		s.logger.Info("discarding staged mappings", zap.String("session_id", s.ID), zap.Int("count", len(s.staged)))
	}
	s.staged = nil
	s.current = nil
	s.state = StateAwaitingAssignment
	s.eng.Metrics.SessionClosed()
}
