package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"annoline/internal/engine"
	"annoline/internal/logging"
)

var ErrUnknownSession = errors.New("session not found")

// Registry holds the open sessions of a server, at most one per annotator.
type Registry struct {
	Engine engine.Engine
	// Now defaults to time.Now.
	Now func() time.Time

	mu          sync.Mutex
	sessions    map[string]*Session
	byAnnotator map[string]string
	seen        map[string]time.Time
}

func NewRegistry(eng engine.Engine) *Registry {
	return &Registry{
		Engine:      eng,
		sessions:    map[string]*Session{},
		byAnnotator: map[string]string{},
		seen:        map[string]time.Time{},
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Open returns the annotator's session, starting one when none is open.
func (r *Registry) Open(ctx context.Context, annotatorID string) (*Session, error) {
	if _, err := r.Engine.ValidateAnnotator(annotatorID); err != nil {
		return nil, err
	}
	if s := r.existing(annotatorID); s != nil {
		if err := s.Resume(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := Start(ctx, r.Engine, annotatorID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if id, ok := r.byAnnotator[annotatorID]; ok {
		// lost a concurrent open
		other := r.sessions[id]
		r.seen[id] = r.now()
		r.mu.Unlock()
		s.End()
		return other, nil
	}
	r.sessions[s.ID] = s
	r.byAnnotator[annotatorID] = s.ID
	r.seen[s.ID] = r.now()
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) existing(annotatorID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byAnnotator[annotatorID]
	if !ok {
		return nil
	}
	r.seen[id] = r.now()
	return r.sessions[id]
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	r.seen[id] = r.now()
	return s, nil
}

// End removes the session and discards its staged mappings.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s := r.remove(id)
	r.mu.Unlock()
	if s == nil {
		return ErrUnknownSession
	}
	s.End()
	return nil
}

// remove drops id from every index. Caller holds mu.
func (r *Registry) remove(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	delete(r.seen, id)
	if r.byAnnotator[s.AnnotatorID] == id {
		delete(r.byAnnotator, s.AnnotatorID)
	}
	return s
}

// Sweep ends sessions untouched for longer than idle and returns how many
// were closed. Their claims stay with the annotator.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var stale []*Session
	for id, at := range r.seen {
		if at.Before(cutoff) {
			stale = append(stale, r.remove(id))
		}
	}
	r.mu.Unlock()
	log := logging.OrNop(r.Engine.Logger)
	for _, s := range stale {
		log.Info("idle session closed", zap.String("session_id", s.ID))
		s.End()
	}
	return len(stale)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
