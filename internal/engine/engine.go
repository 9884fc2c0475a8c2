package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"annoline/internal/clock"
	"annoline/internal/config"
	"annoline/internal/events"
	"annoline/internal/logging"
	"annoline/internal/metrics"
	"annoline/internal/repo"
)

var (
	// ErrNoMappings blocks a process transition with nothing staged.
	ErrNoMappings = errors.New("validation failed: at least one token mapping is required")
	// ErrUnmatchedTranslation is returned when the selected text equals none of the candidates.
	ErrUnmatchedTranslation = errors.New("validation failed: selected translation matches no candidate")
	// ErrInvalidMapping rejects empty source or translation tokens.
	ErrInvalidMapping = errors.New("validation failed: token mapping needs both tokens")
	// ErrMappingOutsideText rejects a mapping whose tokens are not words of the
	// submitted source or of the chosen translation.
	ErrMappingOutsideText = errors.New("validation failed: mapped token not in submitted text")
	// ErrNotClaimed is returned when acting on an item held by someone else.
	ErrNotClaimed = errors.New("work item not claimed by annotator")
	// ErrFinalized is returned when acting on a processed or rejected item.
	ErrFinalized = errors.New("work item already finalized")
)

// IsValidation reports whether err is a blocked transition that left state unchanged.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoMappings) || errors.Is(err, ErrUnmatchedTranslation) || errors.Is(err, ErrInvalidMapping) ||
		errors.Is(err, ErrMappingOutsideText)
}

const maxClaimAttempts = 5

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// New wires an engine over db using the schedule clock from cfg.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	clk, err := cfg.Clock()
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Config: cfg,
		Clock:  clk,
		Logger: zap.NewNop(),
	}, nil
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

// ValidateAnnotator resolves the annotator's schedule. Unknown identifiers
// fail with config.ErrInvalidAnnotator before any store access.
func (e Engine) ValidateAnnotator(annotatorID string) (config.Schedule, error) {
	if e.Config == nil {
		return config.Schedule{}, errors.New("config not loaded")
	}
	s, err := e.Config.ScheduleFor(annotatorID)
	if err != nil {
		return s, fmt.Errorf("annotator rejected: %w", err)
	}
	return s, nil
}
