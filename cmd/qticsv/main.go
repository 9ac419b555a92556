package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/qticsv/internal/convert"
	"github.com/pavelanni/qticsv/internal/handler"
	appI18n "github.com/pavelanni/qticsv/internal/i18n"
	"github.com/pavelanni/qticsv/internal/model"
	"github.com/pavelanni/qticsv/internal/store"
)

const (
	defaultExportName = "quiz_export.csv"
	defaultImportName = "qti_output.zip"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qticsv",
		Short:         "Convert QTI 1.2 quiz packages to and from editable CSV tables",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("db", "", "SQLite conversion history path (empty disables history)")
	pf.StringP("lang", "l", "en", "Language of CSV header rows and messages (en, ru)")

	root.AddCommand(exportCmd(), importCmd(), serveCmd(), historyCmd())
	return root
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <input.zip> [output.csv]",
		Short: "Convert a QTI package to a CSV table",
		Long: "Reads the assessment document of a QTI 1.2 zip package and writes one CSV row per\n" +
			"multiple-choice or multiple-response question. The output defaults to " + defaultExportName + "\n" +
			"next to the input file.",
		Args: cobra.RangeArgs(1, 2),
		RunE: runExport,
	}
	f := cmd.Flags()
	f.Bool("bom", true, "Prefix the CSV with a UTF-8 byte order mark for spreadsheet software")
	f.Bool("plain-text", false, "Strip HTML markup from question, answer and feedback text")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <input.csv> [output.zip]",
		Short: "Build a QTI package from a CSV table",
		Long: "Reads a CSV table in the export layout and writes an LMS-importable QTI 1.2 zip.\n" +
			"The output defaults to " + defaultImportName + ".",
		Args: cobra.RangeArgs(1, 2),
		RunE: runImport,
	}
	f := cmd.Flags()
	f.String("title", "", "Quiz title (defaults to the input file name)")
	f.String("quiz-type", "assignment", "Canvas quiz type (assignment, practice_quiz, graded_survey, survey)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP conversion service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Bool("bom", true, "Prefix exported CSV with a UTF-8 byte order mark")
	f.Bool("plain-text", false, "Strip HTML markup on export")
	f.String("quiz-type", "assignment", "Canvas quiz type written on import")
	f.Int64("max-upload", 32<<20, "Largest accepted upload in bytes")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded conversions, or show one run with its skipped items",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to list (0 = all)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())

	v.SetEnvPrefix("QTICSV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("qticsv")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/qticsv")
	v.AddConfigPath("/etc/qticsv")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup configures logging and i18n and returns the command's settings.
func setup(cmd *cobra.Command) (*viper.Viper, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	return v, nil
}

func convertConfig(v *viper.Viper) model.ConvertConfig {
	return model.ConvertConfig{
		Lang:      v.GetString("lang"),
		BOM:       v.GetBool("bom"),
		PlainText: v.GetBool("plain-text"),
		QuizType:  v.GetString("quiz-type"),
		MaxUpload: v.GetInt64("max-upload"),
	}
}

// openHistory opens the history database, or returns nil when none is configured.
func openHistory(v *viper.Viper) (*store.Store, error) {
	path := v.GetString("db")
	if path == "" {
		return nil, nil
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return db, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg := convertConfig(v)

	input := args[0]
	output := filepath.Join(filepath.Dir(input), defaultExportName)
	if len(args) > 1 {
		output = args[1]
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}
	res, err := convert.Export(cmd.Context(), data, convert.ExportOptions{
		Lang:      cfg.Lang,
		BOM:       cfg.BOM,
		PlainText: cfg.PlainText,
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", input, err)
	}
	if err := writeFileAtomic(output, res.CSV); err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s -> %s\n", input, output)
	fmt.Fprintln(out, appI18n.Tp(ctx, "QuestionsConverted", len(res.Rows)))
	if len(res.Skipped) > 0 {
		fmt.Fprintln(out, appI18n.Tp(ctx, "ItemsSkipped", len(res.Skipped)))
		for _, s := range res.Skipped {
			fmt.Fprintf(out, "  - %v\n", s)
		}
	}

	return recordRun(v, model.ConversionRun{
		Direction:   model.DirectionExport,
		Source:      input,
		SourceHash:  sha256sum(data),
		Output:      output,
		OutputSize:  int64(len(res.CSV)),
		Questions:   len(res.Rows),
		TotalPoints: res.TotalPoints(),
		Skipped:     res.SkippedItems(),
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg := convertConfig(v)

	input := args[0]
	output := defaultImportName
	if len(args) > 1 {
		output = args[1]
	}
	title := v.GetString("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}
	res, err := convert.Import(cmd.Context(), bytes.NewReader(data), convert.ImportOptions{
		Title:    title,
		QuizType: cfg.QuizType,
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", input, err)
	}
	if err := writeFileAtomic(output, res.Zip); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s -> %s\n", input, output)
	fmt.Fprintln(out, appI18n.Tp(cmd.Context(), "QuestionsConverted", len(res.Rows)))

	return recordRun(v, model.ConversionRun{
		Direction:   model.DirectionImport,
		Source:      input,
		SourceHash:  sha256sum(data),
		Output:      output,
		OutputSize:  int64(len(res.Zip)),
		Questions:   len(res.Rows),
		TotalPoints: res.Package.TotalPoints,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	db, err := openHistory(v)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	cfg := convertConfig(v)
	h := handler.New(db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.Lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", cfg.Lang,
		"history", db != nil,
		"max_upload", humanize.IBytes(uint64(cfg.MaxUpload)),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func runHistory(cmd *cobra.Command, args []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	db, err := openHistory(v)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("no history database: set --db or QTICSV_DB")
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		var id int64
		if _, err := fmt.Sscan(args[0], &id); err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		run, err := db.GetRun(id)
		if err != nil {
			return fmt.Errorf("get run %d: %w", id, err)
		}
		printRun(out, run)
		return nil
	}

	runs, err := db.ListRuns(v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	total, err := db.RunCount()
	if err != nil {
		return fmt.Errorf("count runs: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tDIRECTION\tSOURCE\tQUESTIONS\tPOINTS\tOUTPUT\tSIZE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, humanize.Time(r.CreatedAt), r.Direction, r.Source, r.Questions,
			humanize.Ftoa(r.TotalPoints), r.Output, humanize.Bytes(uint64(r.OutputSize)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d runs\n", len(runs), total)
	return nil
}

func printRun(w io.Writer, r model.ConversionRun) {
	fmt.Fprintf(w, "run %d (%s, %s)\n", r.ID, r.Direction, humanize.Time(r.CreatedAt))
	fmt.Fprintf(w, "  source:    %s (sha256 %s)\n", r.Source, r.SourceHash)
	fmt.Fprintf(w, "  output:    %s (%s)\n", r.Output, humanize.Bytes(uint64(r.OutputSize)))
	fmt.Fprintf(w, "  questions: %d, %s points\n", r.Questions, humanize.Ftoa(r.TotalPoints))
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  skipped item %d %s %q: %s\n", s.Position, s.Ident, s.Title, s.Reason)
	}
}

// recordRun stores a finished conversion when history is enabled. A history
// failure is logged, not returned: the output file is already written.
func recordRun(v *viper.Viper, run model.ConversionRun) error {
	db, err := openHistory(v)
	if err != nil {
		slog.Warn("conversion history unavailable", "error", err)
		return nil
	}
	if db == nil {
		return nil
	}
	defer db.Close()

	if prev, err := db.LastRunForSource(run.Direction, run.SourceHash); err == nil && prev != nil {
		slog.Info("input converted before", "run", prev.ID, "when", humanize.Time(prev.CreatedAt))
	}
	if _, err := db.RecordRun(run); err != nil {
		slog.Warn("failed to record conversion", "error", err)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place, so a
// failed write never leaves a partial output file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write output: %w", err)
	}
	// CreateTemp opens with 0600; outputs are shared files.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
