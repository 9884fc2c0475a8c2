package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"annoline/internal/engine"
	"annoline/internal/export"
	"annoline/internal/metrics"
	"annoline/internal/server"
	"annoline/internal/session"
)

func serveCmd() *cobra.Command {
	var addr, basePath, reportSpec, exportSpec string
	var sessionIdle time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves the annotation API, /metrics, and Swagger UI at /docs.
A daily progress report is logged on --report-schedule (cron, schedule
timezone). With --export-schedule the annotation dump is also pushed to S3.
Sessions untouched for --session-idle are closed; their claims are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("export-schedule") {
				exportSpec = viper.GetString("export_schedule")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				log := e.Logger
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				e.Metrics = metrics.New(reg)
				t := tracker(e)

				sessions := session.NewRegistry(e)
				scheduler := cron.New(cron.WithLocation(e.Clock.Location))
				if sessionIdle > 0 {
					if _, err := scheduler.AddFunc("@every 1m", func() { sessions.Sweep(sessionIdle) }); err != nil {
						return err
					}
				}
				if reportSpec != "" {
					if _, err := scheduler.AddFunc(reportSpec, func() { t.DailyReport(context.Background()) }); err != nil {
						return fmt.Errorf("invalid --report-schedule: %w", err)
					}
				}
				if exportSpec != "" {
					up, err := export.NewS3Uploader(ctx, s3ConfigFromEnv())
					if err != nil {
						return err
					}
					if _, err := scheduler.AddFunc(exportSpec, func() { scheduledExport(e, up) }); err != nil {
						return fmt.Errorf("invalid --export-schedule: %w", err)
					}
				}
				scheduler.Start()
				defer scheduler.Stop()

				handler, err := server.New(server.Config{
					Engine:   e,
					Sessions: sessions,
					Tracker:  t,
					Gatherer: reg,
					BasePath: basePath,
					Logger:   log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           handler,
					ReadHeaderTimeout: 15 * time.Second,
				}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				log.Info("serving annotation API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("timezone", e.Clock.Location.String()),
				)
				fmt.Printf("Serving Annoline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&reportSpec, "report-schedule", "0 0 * * *", "cron spec for the daily progress report (empty disables)")
	cmd.Flags().DurationVar(&sessionIdle, "session-idle", 30*time.Minute, "close sessions idle this long (0 disables)")
	cmd.Flags().StringVar(&exportSpec, "export-schedule", "", "cron spec for S3 exports, or ANNOLINE_EXPORT_SCHEDULE (empty disables)")
	return cmd
}

func scheduledExport(e engine.Engine, up export.Uploader) {
	ctx := context.Background()
	var buf bytes.Buffer
	n, err := export.Exporter{Repo: e.Repo}.Annotations(ctx, &buf, "")
	if err != nil {
		e.Logger.Error("scheduled export failed", zap.Error(err))
		return
	}
	link, err := up.Upload(ctx, export.ObjectKey(e.Clock.Today()), buf.Bytes())
	if err != nil {
		e.Logger.Error("scheduled export upload failed", zap.Error(err))
		return
	}
	e.Logger.Info("scheduled export uploaded", zap.String("url", link), zap.Int("annotations", n))
}
