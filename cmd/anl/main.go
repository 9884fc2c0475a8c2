package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"annoline/internal/app"
	"annoline/internal/db"
	"annoline/internal/engine"
	"annoline/internal/logging"
	"annoline/internal/migrate"
	"annoline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "anl",
	Short: "Annoline CLI",
	Long: `Annoline hands out translation pairs to annotators one at a time and records
their choices.
- Work items: a source sentence with three candidate translations. Each item is
  claimed by exactly one annotator and moves no -> skipped -> yes, or to reject.
- Sessions: one annotator's sitting. Skipped items stay yours and come back in
  your next session; rejected items never come back.
- Token mappings: source word to translation word alignments, staged while you
  work and stored only when the item is processed.
- Progress: daily and cumulative counts against your cohort's schedule.
- Workspace: the .annoline directory holding the database. The annotator roster
  lives in the database and is imported from annoline.yml.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// .env in the workspace supplies S3 credentials and the like; real
	// environment variables win.
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("ANNOLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	rootCmd.PersistentFlags().Int("busy-timeout-ms", 5000, "how long writers wait on a locked database")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("busy-timeout-ms", rootCmd.PersistentFlags().Lookup("busy-timeout-ms"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(itemsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(mappingsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(annotateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *zap.Logger {
	l, err := logging.New(viper.GetBool("debug"))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func openDB() (*repo.Repo, func(), error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace"), BusyTimeoutMS: viper.GetInt("busy-timeout-ms")})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return &repo.Repo{DB: conn}, func() { conn.Close() }, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	r, closeFn, err := openDB()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, *r)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	r, closeFn, err := openDB()
	if err != nil {
		return err
	}
	defer closeFn()
	cfg, err := app.ResolveConfig(ctx, viper.GetString("workspace"), *r)
	if err != nil {
		return err
	}
	e, err := engine.New(r.DB, cfg)
	if err != nil {
		return err
	}
	e.Logger = newLogger()
	defer e.Logger.Sync()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
