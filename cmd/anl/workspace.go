package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"annoline/internal/app"
	"annoline/internal/config"
	"annoline/internal/db"
	"annoline/internal/engine"
	"annoline/internal/migrate"
	"annoline/internal/repo"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a starter annoline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Apply(cmd.Context(), conn)
			if err != nil {
				return err
			}
			path := config.Path(workspace)
			wrote := false
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
					return err
				}
				wrote = true
			}
			if _, err := app.ResolveConfig(cmd.Context(), workspace, repo.Repo{DB: conn}); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"db": db.Path(workspace), "migrations": applied, "config_written": wrote})
			}
			fmt.Printf("Workspace ready: %s (%d migrations applied)\n", db.Path(workspace), len(applied))
			if wrote {
				fmt.Printf("Wrote %s; edit the roster, then run: anl config import --file %s\n", path, path)
			}
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Annotator roster and schedules"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configImportCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show cohorts and resolved schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				fmt.Printf("Timezone: %s\n", e.Clock.Location)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Annotator", "Cohort", "Daily", "Total", "Start"})
				for _, id := range e.Config.AnnotatorIDs() {
					s, err := e.Config.ScheduleFor(id)
					if err != nil {
						return err
					}
					tw.AppendRow(table.Row{maskID(id), s.Cohort, s.DailyTarget, s.TotalTarget, s.StartDate.Format("2006-01-02")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored roster from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.StoreConfig(ctx, r, cfg, "import"); err != nil {
					return err
				}
				fmt.Printf("Imported %d annotators in %d cohorts\n", len(cfg.Annotators), len(cfg.Cohorts))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "annoline.yml", "config file")
	return cmd
}

func itemsCmd() *cobra.Command {
	c := &cobra.Command{Use: "items", Short: "Work items"}
	c.AddCommand(itemsImportCmd())
	c.AddCommand(itemsListCmd())
	return c
}

func itemsImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load work items from CSV",
		Long:  "CSV header must include entity_id, source_text, translation_1, translation_2, translation_3. keyword, dialect, processed, taken and taken_by are optional.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				n, err := app.ImportItems(ctx, r, f)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d work items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func itemsListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Entity", "Source", "Processed", "Taken", "Taken By"})
				for _, w := range items {
					by := ""
					if w.TakenBy != nil {
						by = maskID(*w.TakenBy)
					}
					tw.AppendRow(table.Row{w.EntityID, truncate(w.SourceText, 48), w.Processed, w.Taken, by})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Processed, "processed", "", "status filter (no, skipped, reject, yes)")
	cmd.Flags().StringVar(&f.TakenBy, "taken-by", "", "annotator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show work item counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountWorkItemsByStatus(ctx)
				if err != nil {
					return err
				}
				violations, err := r.CountInvariantViolations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"counts": counts, "claim_violations": violations})
				}
				keys := make([]string, 0, len(counts))
				for k := range counts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Println("Work items:")
				for _, k := range keys {
					fmt.Printf("  %s: %d\n", k, counts[k])
				}
				if violations > 0 {
					fmt.Printf("Warning: %d items claimed without an owner; they are reclaimed on next assignment\n", violations)
				}
				return nil
			})
		},
	}
}

// maskID keeps annotator identifiers out of terminal scrollback.
func maskID(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:2] + "…" + id[len(id)-2:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
