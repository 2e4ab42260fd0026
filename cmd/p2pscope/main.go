package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"p2pscope/internal/config"
	"p2pscope/internal/engine"
	"p2pscope/internal/logdir"
	"p2pscope/internal/metrics"
	"p2pscope/internal/report"
	"p2pscope/internal/store"
)

const usage = `p2pscope - offline analyzer for P2P test network logs

Usage:
  p2pscope analyze [--config <path>] [--logs <dir>] [--out <dir>] [--format text|json|yaml] [--no-color]
  p2pscope report --snapshot <file> [--top N] [--no-color]
  p2pscope export csv --snapshot <file> --out <dir>
  p2pscope export prom --snapshot <file> --out <file>
  p2pscope config init --config <path> [--force]
`

// skipArtifact disables an export entry in the config.
const skipArtifact = "-"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "analyze":
		handleAnalyze(os.Args[2:])
	case "report":
		handleReport(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	logsDir := fs.String("logs", "", "directory holding node-N.log files")
	outDir := fs.String("out", "", "directory for report artifacts")
	format := fs.String("format", "text", "stdout format: text|json|yaml")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	noColor := fs.Bool("no-color", false, "disable colored output")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrideAnalyzer(cfg.Analyzer, *logsDir, *outDir, *logLevel)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	logger := newLogger(cfg.Analyzer)
	ns := cfg.Analyzer.Namespace()

	sources, err := logdir.Discover(cfg.Analyzer.LogsDir, ns)
	if err != nil {
		logger.Warn("log discovery failed", "dir", cfg.Analyzer.LogsDir, "err", err)
	}
	logger.Info("discovered log sources", "dir", cfg.Analyzer.LogsDir, "count", len(sources))

	ctx, cancel := signalContext()
	defer cancel()

	st, err := engine.New(ns, logger).Run(ctx, sources)
	if err != nil {
		if errors.Is(err, engine.ErrNoUsableSources) {
			fatal(fmt.Errorf("%w in %s", err, cfg.Analyzer.LogsDir))
		}
		fatal(err)
	}

	snap := metrics.Compute(st, metrics.Options{
		RunID:          uuid.NewString(),
		GeneratedAt:    time.Now().UTC(),
		LogsDir:        cfg.Analyzer.LogsDir,
		TopStableLinks: cfg.Analyzer.TopStableLinks,
	})

	if err := writeArtifacts(cfg, snap, logger); err != nil {
		fatal(err)
	}

	opts := report.FormatOptions{
		Color:        *cfg.Export.Color && !*noColor,
		RankingLimit: cfg.Analyzer.RankingLimit,
	}
	if err := printSnapshot(os.Stdout, snap, *format, opts); err != nil {
		fatal(err)
	}
}

func writeArtifacts(cfg config.Config, snap report.Snapshot, logger *slog.Logger) error {
	out := cfg.Analyzer.OutputDir
	exp := cfg.Export

	if exp.Report != skipArtifact {
		path := filepath.Join(out, exp.Report)
		err := metrics.WriteFile(path, func(w io.Writer) error {
			return report.Format(w, snap, report.FormatOptions{RankingLimit: cfg.Analyzer.RankingLimit})
		})
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("wrote report", "path", path)
	}
	if exp.Snapshot != skipArtifact {
		path := filepath.Join(out, exp.Snapshot)
		if err := store.SaveSnapshot(path, snap); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		logger.Info("wrote snapshot", "path", path)
	}
	if err := writeCSVs(out, exp.NodeCSV, exp.MessageCSV, snap); err != nil {
		return err
	}
	if exp.Textfile != skipArtifact {
		path := filepath.Join(out, exp.Textfile)
		if err := metrics.WriteTextfile(path, snap); err != nil {
			return fmt.Errorf("write textfile: %w", err)
		}
		logger.Info("wrote prometheus textfile", "path", path)
	}
	return nil
}

func writeCSVs(dir, nodeName, messageName string, snap report.Snapshot) error {
	if nodeName != skipArtifact {
		err := metrics.WriteFile(filepath.Join(dir, nodeName), func(w io.Writer) error {
			return metrics.WriteNodeCSV(w, snap.Nodes)
		})
		if err != nil {
			return fmt.Errorf("write node csv: %w", err)
		}
	}
	if messageName != skipArtifact {
		err := metrics.WriteFile(filepath.Join(dir, messageName), func(w io.Writer) error {
			return metrics.WriteMessageCSV(w, snap.MessageSummaries)
		})
		if err != nil {
			return fmt.Errorf("write message csv: %w", err)
		}
	}
	return nil
}

func printSnapshot(w io.Writer, snap report.Snapshot, format string, opts report.FormatOptions) error {
	switch format {
	case "text":
		return report.Format(w, snap, opts)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		data, err := yaml.Marshal(&snap)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func handleReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	snapshotPath := fs.String("snapshot", "", "path to snapshot YAML")
	format := fs.String("format", "text", "output format: text|json|yaml")
	top := fs.Int("top", config.DefaultRankingLimit, "nodes shown in the ranking, 0 for all")
	noColor := fs.Bool("no-color", false, "disable colored output")
	_ = fs.Parse(args)

	if *snapshotPath == "" {
		fatal(errors.New("--snapshot is required"))
	}
	snap, err := store.LoadSnapshot(*snapshotPath)
	if err != nil {
		fatal(err)
	}
	opts := report.FormatOptions{Color: !*noColor, RankingLimit: *top}
	if err := printSnapshot(os.Stdout, snap, *format, opts); err != nil {
		fatal(err)
	}
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	kind := args[0]
	if kind != "csv" && kind != "prom" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", kind)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export "+kind, flag.ExitOnError)
	snapshotPath := fs.String("snapshot", "", "path to snapshot YAML")
	out := fs.String("out", "", "output directory (csv) or file (prom)")
	_ = fs.Parse(args[1:])

	if *snapshotPath == "" {
		fatal(errors.New("--snapshot is required"))
	}
	if *out == "" {
		fatal(errors.New("--out is required"))
	}

	snap, err := store.LoadSnapshot(*snapshotPath)
	if err != nil {
		fatal(err)
	}

	switch kind {
	case "csv":
		if err := writeCSVs(*out, config.DefaultNodeCSVFile, config.DefaultMessageCSVFile, snap); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "wrote %s and %s to %s\n", config.DefaultNodeCSVFile, config.DefaultMessageCSVFile, *out)
	case "prom":
		if err := metrics.WriteTextfile(*out, snap); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", *out)
	}
}

func handleConfig(args []string) {
	if len(args) == 0 || args[0] != "init" {
		fmt.Fprint(os.Stderr, "config subcommand required: init\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	logsDir := fs.String("logs", "", "directory holding node-N.log files")
	outDir := fs.String("out", "", "directory for report artifacts")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args[1:])

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		fatal(fmt.Errorf("%s exists, use --force to overwrite", *configPath))
	}

	var cfg config.Config
	config.ApplyDefaults(&cfg)
	overrideAnalyzer(cfg.Analyzer, *logsDir, *outDir, "")
	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		var cfg config.Config
		config.ApplyDefaults(&cfg)
		return cfg, nil
	}
	return config.Load(path)
}

func overrideAnalyzer(cfg *config.AnalyzerConfig, logsDir, outDir, logLevel string) {
	if logsDir != "" {
		cfg.LogsDir = logsDir
	}
	if outDir != "" {
		cfg.OutputDir = outDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func newLogger(cfg *config.AnalyzerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
