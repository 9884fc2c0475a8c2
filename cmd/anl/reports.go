package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"annoline/internal/domain"
	"annoline/internal/engine"
	"annoline/internal/export"
	"annoline/internal/progress"
	"annoline/internal/repo"
)

func tracker(e engine.Engine) progress.Tracker {
	return progress.Tracker{Repo: e.Repo, Config: e.Config, Clock: e.Clock, Logger: e.Logger}
}

func progressCmd() *cobra.Command {
	var annotatorID string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show progress against schedule",
		Long:  "Without --annotator-id, reports on the whole roster.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t := tracker(e)
				if annotatorID != "" {
					rep, err := t.Report(ctx, annotatorID)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(rep)
					}
					printReport(rep)
					return nil
				}
				reports, err := t.All(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Annotator", "Cohort", "Today", "Total", "Expected", "Status"})
				for _, r := range reports {
					tw.AppendRow(table.Row{maskID(r.AnnotatorID), r.Cohort, fmt.Sprintf("%d/%d", r.Daily, r.DailyTarget), r.Total, r.Expected, r.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&annotatorID, "annotator-id", "", "annotator identifier")
	return cmd
}

func printReport(r progress.Report) {
	fmt.Printf("Today (%s): %d of %d (%.0f%%)\n", r.Date, r.Daily, r.DailyTarget, r.DailyFraction*100)
	fmt.Printf("Total: %d of %d, expected by now %d\n", r.Total, r.TotalTarget, r.Expected)
	fmt.Println(r.Message)
}

func mappingsCmd() *cobra.Command {
	c := &cobra.Command{Use: "mappings", Short: "Token alignments"}
	var limit int
	lookup := &cobra.Command{
		Use:   "lookup <source-token>",
		Short: "Show earlier alignments of a source token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMappingsBySourceToken(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Entity", "Source", "Translation", "Sentence"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.EntityID, m.SourceToken, m.TranslationToken, truncate(m.EditedSource, 48)})
				}
				tw.Render()
				return nil
			})
		},
	}
	lookup.Flags().IntVar(&limit, "limit", 20, "max rows")
	c.AddCommand(lookup)
	return c
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every claim, process, skip and reject, plus config and import changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var after int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		Long:  "Newest events first. With --after, events following that id in log order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var events []domain.Event
				var err error
				if after > 0 {
					events, err = r.EventsAfter(ctx, after, f)
				} else {
					events, err = r.LatestEvents(ctx, f)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.AnnotatorID, "annotator-id", "", "annotator filter")
	cmd.Flags().Int64Var(&after, "after", 0, "page forward from this event id")
	return cmd
}

func exportCmd() *cobra.Command {
	var out, annotatorID string
	var toS3 bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump annotations with their token mappings as JSON lines",
		Long: `Writes to --out (default stdout). With --s3 the dump is uploaded using
ANNOLINE_S3_ENDPOINT, ANNOLINE_S3_REGION, ANNOLINE_S3_BUCKET,
ANNOLINE_S3_ACCESS_KEY and ANNOLINE_S3_SECRET_KEY (read from the workspace .env too).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var buf bytes.Buffer
				n, err := export.Exporter{Repo: e.Repo}.Annotations(ctx, &buf, annotatorID)
				if err != nil {
					return err
				}
				if toS3 {
					up, err := export.NewS3Uploader(ctx, s3ConfigFromEnv())
					if err != nil {
						return err
					}
					link, err := up.Upload(ctx, export.ObjectKey(e.Clock.Today()), buf.Bytes())
					if err != nil {
						return err
					}
					e.Logger.Info("export uploaded", zap.String("url", link), zap.Int("annotations", n))
					fmt.Printf("Uploaded %d annotations to %s\n", n, link)
					return nil
				}
				if out == "" || out == "-" {
					_, err := os.Stdout.Write(buf.Bytes())
					return err
				}
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %d annotations to %s\n", n, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file")
	cmd.Flags().StringVar(&annotatorID, "annotator-id", "", "only this annotator's work")
	cmd.Flags().BoolVar(&toS3, "s3", false, "upload to S3-compatible storage")
	return cmd
}

func s3ConfigFromEnv() export.S3Config {
	return export.S3Config{
		Endpoint:  viper.GetString("s3_endpoint"),
		Region:    viper.GetString("s3_region"),
		Bucket:    viper.GetString("s3_bucket"),
		AccessKey: viper.GetString("s3_access_key"),
		SecretKey: viper.GetString("s3_secret_key"),
	}
}
