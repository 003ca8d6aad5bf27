package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/controller"
	"github.com/lexpipe/lexpipe/internal/observability"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

var (
	cfgFile string
	verbose bool

	indexURL     string
	resume       bool
	workers      int
	skipRetry    bool
	maxRetry     int
	skipMulti    bool
	skipRecon    bool
	outputDir    string
	sectionIDFmt string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexpipe",
		Short: "lexpipe — California statutory code scraping pipeline",
		Long: `lexpipe discovers, extracts, and reconciles the text of a California
statutory code from the Legislative Information site.

Stages:
  1. Discovery  — crawl the code's table-of-contents tree
  2. Extraction — concurrently fetch and parse every section, checkpointed
  3. Multi-version — resolve sections with multiple pending-bill versions
  4. Reconciliation — adaptive-concurrency re-pass over still-missing sections
  5. Failure retry — replay the failure log for retryable errors`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// processCmd creates the "process" subcommand, implementing spec.md's
// `process_code <CODE> [--resume] [--workers N] [--skip-retry] [--max-retry K]`
// surface.
func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <CODE>",
		Short: "Run the pipeline for a single code (e.g. CCP, PEN, CIV)",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcess,
	}

	cmd.Flags().StringVar(&indexURL, "index-url", "", "table-of-contents URL to discover from (required unless --resume)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from existing architecture/checkpoints instead of re-discovering")
	cmd.Flags().IntVar(&workers, "workers", 0, "override extractor.worker_count (0 = use config)")
	cmd.Flags().BoolVar(&skipRetry, "skip-retry", false, "skip the failure-log retry sweep")
	cmd.Flags().IntVar(&maxRetry, "max-retry", -1, "override reconcile.max_passes, the cap on reconciliation attempts (-1 = use config default)")
	cmd.Flags().BoolVar(&skipMulti, "skip-multi-version", false, "skip the multi-version resolution stage")
	cmd.Flags().BoolVar(&skipRecon, "skip-reconcile", false, "skip the reconciliation pass")
	cmd.Flags().StringVar(&outputDir, "output", "./output", "directory for the final JSON report")
	cmd.Flags().StringVar(&sectionIDFmt, "section-id-format", "", "regular expression every section id must match (empty = no check)")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	code := args[0]
	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if indexURL != "" {
		if err := config.ValidateURL(indexURL); err != nil {
			return fmt.Errorf("invalid --index-url: %w", err)
		}
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	logger.Info("starting run", "code", code, "resume", resume,
		"workers", cfg.Extractor.WorkerCount, "index_url", indexURL)

	var metricsServer *observability.Server
	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(logger)
		srv, err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		if err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		} else {
			metricsServer = srv
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}()
		}
	}

	staticScraper, err := scraper.NewStaticScraper(&cfg.Scraper, logger)
	if err != nil {
		return fmt.Errorf("create static scraper: %w", err)
	}
	defer staticScraper.Close()

	var renderedScraper scraper.Scraper
	if cfg.Scraper.Type == "rendered" {
		rs, err := scraper.NewRenderedScraper(&cfg.Scraper, logger)
		if err != nil {
			return fmt.Errorf("create rendered scraper: %w", err)
		}
		defer rs.Close()
		renderedScraper = rs
	}

	st, err := store.NewMongoStore(&cfg.Mongo, logger)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer st.Close(context.Background())

	pipe, err := buildPipeline(logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctl := controller.New(cfg, staticScraper, renderedScraper, st, pipe, logger)

	go func() {
		<-ctx.Done()
		logger.Info("signal received, canceling the run")
		ctl.Stop()
	}()

	opts := controller.Options{
		ResumeOnly:       resume,
		SkipMultiVersion: skipMulti,
		SkipReconcile:    skipRecon,
		SkipFailureRetry: skipRetry,
		IndexURL:         indexURL,
	}

	report, err := ctl.Run(ctx, code, opts)
	if err != nil {
		logger.Error("run failed", "code", code, "error", err)
		if ctx.Err() != nil {
			os.Exit(130)
		}
		return err
	}

	writer, err := store.NewReportWriter(outputDir, logger)
	if err != nil {
		return fmt.Errorf("create report writer: %w", err)
	}
	storeReport, err := store.BuildReport(context.Background(), st, code)
	if err != nil {
		logger.Warn("could not build final report", "error", err)
	} else if err := writer.Write(storeReport); err != nil {
		logger.Warn("could not write final report", "error", err)
	}

	completion := 0.0
	if storeReport != nil && storeReport.TotalSections > 0 {
		completion = float64(storeReport.HasContentCount) / float64(storeReport.TotalSections)
	}

	logger.Info("run finished", "code", code,
		"indexed", report.TotalIndexed, "extracted", report.TotalExtracted,
		"failed", report.TotalFailed, "completion", completion)

	if ctx.Err() != nil {
		os.Exit(130)
	}
	if completion < 0.99 {
		os.Exit(1)
	}
	return nil
}

// buildPipeline wires the same normalization chain every stage shares:
// entity decoding, whitespace cleanup, boilerplate stripping, legislative
// history validation, section ID format checking, and content-based dedup.
func buildPipeline(logger *slog.Logger) (*pipeline.Pipeline, error) {
	pipe := pipeline.New(logger)
	pipe.Use(&pipeline.HTMLEntityDecodeMiddleware{})
	pipe.Use(&pipeline.TrimMiddleware{})
	pipe.Use(&pipeline.CollapseWhitespaceMiddleware{})
	pipe.Use(&pipeline.BoilerplateStripMiddleware{})
	pipe.Use(&pipeline.LegislativeHistoryValidateMiddleware{})

	if sectionIDFmt != "" {
		mw, err := pipeline.NewSectionIDFormatMiddleware(sectionIDFmt)
		if err != nil {
			return nil, err
		}
		pipe.Use(mw)
	}

	pipe.Use(&pipeline.RequiredContentMiddleware{})
	pipe.Use(pipeline.NewDedupMiddleware())
	return pipe, nil
}

// reportCmd creates the "report" subcommand, rendering the current store
// state for a code to JSON without running any pipeline stage.
func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report <CODE>",
		Short: "Build and write a JSON report from the current store state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			logger := setupLogger()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.NewMongoStore(&cfg.Mongo, logger)
			if err != nil {
				return fmt.Errorf("create store: %w", err)
			}
			defer st.Close(context.Background())

			rep, err := store.BuildReport(context.Background(), st, code)
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}

			writer, err := store.NewReportWriter(out, logger)
			if err != nil {
				return fmt.Errorf("create report writer: %w", err)
			}
			if err := writer.Write(rep); err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			fmt.Printf("Code:             %s\n", rep.Code)
			fmt.Printf("Total sections:   %d\n", rep.TotalSections)
			fmt.Printf("Has content:      %d\n", rep.HasContentCount)
			fmt.Printf("Multi-version:    %d\n", rep.MultiVersionCount)
			fmt.Printf("Failures:         %d (%d abandoned)\n", rep.FailureCount, rep.AbandonedCount)
			fmt.Printf("Stages done:      discovery=%v extraction=%v multi_version=%v\n",
				rep.Stage1Done, rep.Stage2Done, rep.Stage3Done)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "output", "./output", "directory for the JSON report")
	return cmd
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lexpipe %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Scraper:\n")
			fmt.Printf("  Type:              %s\n", cfg.Scraper.Type)
			fmt.Printf("  Request Timeout:   %s\n", cfg.Scraper.RequestTimeout)
			fmt.Printf("  Max Body Size:     %d bytes\n", cfg.Scraper.MaxBodySize)
			fmt.Printf("\nExtractor:\n")
			fmt.Printf("  Worker Count:      %d\n", cfg.Extractor.WorkerCount)
			fmt.Printf("  Batch Size:        %d\n", cfg.Extractor.BatchSize)
			fmt.Printf("  Max Retries:       %d\n", cfg.Extractor.MaxRetries)
			fmt.Printf("\nMulti-Version:\n")
			fmt.Printf("  Navigation Timeout: %s\n", cfg.MultiVersion.NavigationTimeout)
			fmt.Printf("  Max Versions:      %d\n", cfg.MultiVersion.MaxVersions)
			fmt.Printf("\nReconcile:\n")
			fmt.Printf("  Max Passes:        %d\n", cfg.Reconcile.MaxPasses)
			fmt.Printf("  Min Worker Count:  %d\n", cfg.Reconcile.MinWorkerCount)
			fmt.Printf("\nMongo:\n")
			fmt.Printf("  URI:               %s\n", cfg.Mongo.URI)
			fmt.Printf("  Database:          %s\n", cfg.Mongo.Database)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

// setupLogger creates a structured logger honoring the --verbose flag,
// for commands that run before config.Load (or don't need its logging
// section).
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if workers > 0 {
		cfg.Extractor.WorkerCount = workers
	}
	if maxRetry >= 0 {
		cfg.Reconcile.MaxPasses = maxRetry
	}
}
