package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chemflow/chemflow/internal/pipeline"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
	"github.com/chemflow/chemflow/pkg/extract/sources"
	"github.com/chemflow/chemflow/pkg/logger"
	"github.com/chemflow/chemflow/pkg/validate"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "chemflow",
		Short: "Chemflow - bioactivity data acquisition and enrichment",
		Long: `Chemflow pulls publication and bioactivity records from public REST APIs,
merges them by precedence into one enriched table, and publishes a
deterministic, reproducible artifact per run.`,
	}

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Chemflow v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	// Sources command to show the built-in source catalogs
	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List built-in source catalogs",
		Run: func(cmd *cobra.Command, args []string) {
			names := make([]string, 0)
			for name := range sources.Builtin() {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println("Built-in sources:")
			for _, name := range names {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	// Init command to write a starter configuration
	var initOut string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(initOut); err == nil {
				return fmt.Errorf("%s already exists", initOut)
			}
			if err := config.Save(initOut, defaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", initOut)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&initOut, "output", "o", "chemflow.yaml", "Path for the generated configuration")
	root.AddCommand(initCmd)

	// Main run command
	var configFile string
	var workers int
	var deadline time.Duration

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an acquisition pipeline",
		Long: `Run one pipeline: extract from every configured source, merge by
precedence, validate, and publish a deterministic artifact with its manifest.

Example:
  chemflow run --config chemflow.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(configFile, workers, deadline)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline configuration YAML file (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Override the configured per-source worker count")
	runCmd.Flags().DurationVar(&deadline, "deadline", 0, "Override the configured run deadline (e.g. 30m)")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runPipeline loads configuration, wires the extractor registry, and executes
// one run under signal-driven cancellation.
func runPipeline(configFile string, workers int, deadline time.Duration) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if workers > 0 {
		cfg.Pipeline.Workers = workers
	}
	if deadline > 0 {
		cfg.Pipeline.RunDeadline = deadline
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(
		zap.String("component", "chemflow-cli"),
		zap.String("pipeline", cfg.Pipeline.Name),
	)

	registry := extract.NewRegistry(logger.Get())
	if err := sources.RegisterBuiltin(registry); err != nil {
		return fmt.Errorf("registry error: %w", err)
	}
	for _, name := range cfg.SourceNames() {
		if _, ok := sources.Builtin()[name]; !ok {
			return fmt.Errorf("source %s has no extractor", name)
		}
	}

	validator := validate.NewSchemaValidator(nil)
	orchestrator := pipeline.NewOrchestrator(cfg, registry, validator, logger.Get())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting run",
		zap.String("config", configFile),
		zap.Strings("sources", cfg.SourceNames()),
		zap.Int("workers", cfg.Pipeline.Workers))

	startTime := time.Now()
	run, err := orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	rows := 0
	for _, artifact := range run.Artifacts {
		rows += artifact.RowCount
		fmt.Printf("published %s (%d rows, %s)\n", artifact.Path, artifact.RowCount, artifact.FileChecksum)
	}

	log.Info("run completed",
		zap.String("run_id", run.RunID),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("rows", rows))
	return nil
}

// defaultConfig is the starter configuration written by the init command. It
// enables all three built-in sources with polite defaults and a precedence
// order favoring curated sources for bibliographic fields.
func defaultConfig() *config.Config {
	cfg := config.NewDefault("bioactivity")
	cfg.Sources = map[string]config.SourceConfig{
		"chembl":    sourceWithBase("https://www.ebi.ac.uk/chembl/api/data/"),
		"europepmc": sourceWithBase("https://www.ebi.ac.uk/europepmc/webservices/rest/"),
		"openalex":  sourceWithBase("https://api.openalex.org/"),
	}
	cfg.Merge.BusinessKeyField = "doi"
	cfg.Merge.DefaultPriority = []string{"europepmc", "chembl", "openalex"}
	cfg.Merge.Priority = map[string][]string{
		"title":   {"europepmc", "chembl", "openalex"},
		"journal": {"chembl", "europepmc"},
		"year":    {"chembl", "europepmc", "openalex"},
	}
	cfg.Writer.Columns = []string{"doi", "title", "journal", "year", "authors", "cited_by_count"}
	cfg.Writer.SortKeys = []string{"doi"}
	return cfg
}

func sourceWithBase(baseURL string) config.SourceConfig {
	src := config.NewDefaultSourceConfig()
	src.BaseURL = baseURL
	return src
}
