package app

import (
	"context"
	"errors"
	"fmt"

	"annoline/internal/config"
	"annoline/internal/events"
	"annoline/internal/repo"
)

// ResolveConfig returns the roster stored in the database. On first use it is
// seeded from annoline.yml in the workspace, or from the built-in default.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	source := "file"
	if seed == nil {
		seed = config.Default()
		source = "default"
	}
	if err := StoreConfig(ctx, r, seed, source); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}

// StoreConfig validates cfg and replaces the stored roster, recording a
// config.updated event.
func StoreConfig(ctx context.Context, r repo.Repo, cfg *config.Config, source string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertConfig(ctx, tx, cfg); err != nil {
		return err
	}
	w := events.Writer{}
	if err := w.Append(ctx, tx, events.ConfigUpdated, "", "", events.EventPayload{
		"source":     source,
		"annotators": len(cfg.Annotators),
		"cohorts":    len(cfg.Cohorts),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
