// Package lexpipe provides a public SDK for embedding the statutory-code
// scraping pipeline as a library, rather than driving it through the CLI.
//
// Example usage:
//
//	pipe, err := lexpipe.New(
//	    lexpipe.WithMongoURI("mongodb://localhost:27017"),
//	    lexpipe.WithWorkerCount(20),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pipe.Close(context.Background())
//
//	report, err := pipe.Process(ctx, "CCP", lexpipe.ProcessOptions{
//	    IndexURL: "https://leginfo.legislature.ca.gov/faces/codesTOCSelected.xhtml?tocCode=CCP",
//	})
package lexpipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/controller"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// Pipeline is the high-level API for embedding lexpipe as a library.
type Pipeline struct {
	cfg             *config.Config
	logger          *slog.Logger
	staticScraper   scraper.Scraper
	renderedScraper scraper.Scraper
	store           store.Store
	ctl             *controller.Controller
}

// Option configures a Pipeline before it is opened.
type Option func(*config.Config)

// WithWorkerCount overrides the extraction worker pool size.
func WithWorkerCount(n int) Option {
	return func(c *config.Config) { c.Extractor.WorkerCount = n }
}

// WithMongoURI sets the MongoDB connection string.
func WithMongoURI(uri string) Option {
	return func(c *config.Config) { c.Mongo.URI = uri }
}

// WithMongoDatabase sets the MongoDB database name.
func WithMongoDatabase(db string) Option {
	return func(c *config.Config) { c.Mongo.Database = db }
}

// WithRenderedScraper enables the headless-browser scraper, required for
// multi-version resolution.
func WithRenderedScraper() Option {
	return func(c *config.Config) { c.Scraper.Type = "rendered" }
}

// WithMaxRetries overrides the extractor's retry ceiling per section.
func WithMaxRetries(n int) Option {
	return func(c *config.Config) { c.Extractor.MaxRetries = n }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// WithMetrics enables the Prometheus metrics endpoint on port.
func WithMetrics(port int) Option {
	return func(c *config.Config) {
		c.Metrics.Enabled = true
		c.Metrics.Port = port
	}
}

// New builds a Pipeline from defaults plus the given options, then opens
// its scraper and store connections.
func New(opts ...Option) (*Pipeline, error) {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	staticScraper, err := scraper.NewStaticScraper(&cfg.Scraper, logger)
	if err != nil {
		return nil, fmt.Errorf("create static scraper: %w", err)
	}

	var renderedScraper scraper.Scraper
	if cfg.Scraper.Type == "rendered" {
		rs, err := scraper.NewRenderedScraper(&cfg.Scraper, logger)
		if err != nil {
			staticScraper.Close()
			return nil, fmt.Errorf("create rendered scraper: %w", err)
		}
		renderedScraper = rs
	}

	st, err := store.NewMongoStore(&cfg.Mongo, logger)
	if err != nil {
		staticScraper.Close()
		if renderedScraper != nil {
			renderedScraper.Close()
		}
		return nil, fmt.Errorf("create store: %w", err)
	}

	pipe := pipeline.New(logger)
	pipe.Use(&pipeline.HTMLEntityDecodeMiddleware{})
	pipe.Use(&pipeline.TrimMiddleware{})
	pipe.Use(&pipeline.CollapseWhitespaceMiddleware{})
	pipe.Use(&pipeline.BoilerplateStripMiddleware{})
	pipe.Use(&pipeline.LegislativeHistoryValidateMiddleware{})
	pipe.Use(&pipeline.RequiredContentMiddleware{})
	pipe.Use(pipeline.NewDedupMiddleware())

	ctl := controller.New(cfg, staticScraper, renderedScraper, st, pipe, logger)

	return &Pipeline{
		cfg:             cfg,
		logger:          logger,
		staticScraper:   staticScraper,
		renderedScraper: renderedScraper,
		store:           st,
		ctl:             ctl,
	}, nil
}

// ProcessOptions mirrors controller.Options for callers who don't want to
// import the internal package directly.
type ProcessOptions struct {
	IndexURL         string
	Resume           bool
	SkipMultiVersion bool
	SkipReconcile    bool
	SkipFailureRetry bool
}

// Process runs every pipeline stage for code and returns the run report.
func (p *Pipeline) Process(ctx context.Context, code string, opts ProcessOptions) (*controller.Report, error) {
	return p.ctl.Run(ctx, code, controller.Options{
		IndexURL:         opts.IndexURL,
		ResumeOnly:       opts.Resume,
		SkipMultiVersion: opts.SkipMultiVersion,
		SkipReconcile:    opts.SkipReconcile,
		SkipFailureRetry: opts.SkipFailureRetry,
	})
}

// Report builds the current store-backed report for code without running
// any stage.
func (p *Pipeline) Report(ctx context.Context, code string) (*store.Report, error) {
	return store.BuildReport(ctx, p.store, code)
}

// Stop requests that the in-flight run stop; the run's context is
// canceled, so the stage in progress is interrupted.
func (p *Pipeline) Stop() {
	p.ctl.Stop()
}

// State returns the controller's current run state.
func (p *Pipeline) State() controller.State {
	return p.ctl.State()
}

// Close releases the scraper and store connections.
func (p *Pipeline) Close(ctx context.Context) error {
	p.staticScraper.Close()
	if p.renderedScraper != nil {
		p.renderedScraper.Close()
	}
	return p.store.Close(ctx)
}
