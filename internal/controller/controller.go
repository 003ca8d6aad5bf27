// Package controller sequences the pipeline's stages (C9) — discovery,
// extraction, multi-version resolution, reconciliation, and an optional
// failure retry sweep — against one statutory code, propagating
// cancellation through every stage and producing a final run report.
// See §4.9.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/discovery"
	"github.com/lexpipe/lexpipe/internal/extractor"
	"github.com/lexpipe/lexpipe/internal/failurelog"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/multiversion"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/reconcile"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// State represents the controller's current lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StageReport summarizes one stage's contribution to a Report.
type StageReport struct {
	Stage    string
	Skipped  bool
	Error    string
	Detail   any
	Started  time.Time
	Finished time.Time
}

// Report is the final summary a Run produces, regardless of whether it
// completed all stages or was stopped partway through.
type Report struct {
	Code        string
	StartedAt   time.Time
	FinishedAt  time.Time
	Stages      []StageReport
	TotalIndexed int
	TotalExtracted int
	TotalFailed  int
}

// Options controls which stages a Run executes.
type Options struct {
	ResumeOnly       bool // skip discovery if architecture already exists
	SkipMultiVersion bool
	SkipReconcile    bool
	SkipFailureRetry bool
	IndexURL         string // seed URL for discovery; required unless ResumeOnly
}

// Controller drives the five-stage run for a single code end to end.
type Controller struct {
	cfg              *config.Config
	staticScraper    scraper.Scraper
	renderedScraper  scraper.Scraper // may be nil if rendering isn't configured
	store            store.Store
	pipeline         *pipeline.Pipeline
	logger           *slog.Logger

	state atomic.Int32
}

// New creates a Controller. renderedScraper may be nil; in that case the
// multi-version stage is skipped automatically with a report note.
func New(cfg *config.Config, staticScraper, renderedScraper scraper.Scraper, st store.Store, pl *pipeline.Pipeline, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:             cfg,
		staticScraper:   staticScraper,
		renderedScraper: renderedScraper,
		store:           st,
		pipeline:        pl,
		logger:          logger.With("component", "controller"),
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stop requests cancellation of an in-flight Run. It has no effect if
// the controller is not currently running.
func (c *Controller) Stop() {
	c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Run sequences discovery through failure retry for code, honoring ctx
// cancellation (and any call to Stop) between stages. Once the run has
// started it returns a Report, even on error or early cancellation, so
// the caller can inspect how far the run got; if the controller is not
// idle it returns a nil Report and an error.
func (c *Controller) Run(ctx context.Context, code string, opts Options) (*Report, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, fmt.Errorf("controller is in state %s, cannot start a run", State(c.state.Load()))
	}
	defer c.state.Store(int32(StateStopped))

	report := &Report{Code: code, StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.watchStop(runCtx, cancel)

	arch, err := c.store.GetCodeArchitecture(runCtx, code)
	if err != nil {
		return report, fmt.Errorf("load architecture for %s: %w", code, err)
	}

	if arch == nil || !opts.ResumeOnly {
		if opts.IndexURL == "" {
			return report, fmt.Errorf("discovery required but no index URL given for %s", code)
		}
		if err := c.runStage(report, "discovery", func() (any, error) {
			disc := discovery.NewDiscoverer(c.staticScraper, c.store, &c.cfg.Scraper, c.logger)
			newArch, err := disc.Discover(runCtx, code, opts.IndexURL)
			if err != nil {
				return nil, err
			}
			report.TotalIndexed = newArch.Statistics.TotalSections
			return newArch.Statistics, nil
		}); err != nil {
			return report, fmt.Errorf("discovery failed for %s: %w", code, err)
		}
	} else {
		c.skipStage(report, "discovery", "resuming from existing architecture")
		report.TotalIndexed = arch.Statistics.TotalSections
	}

	if runCtx.Err() != nil {
		return report, runCtx.Err()
	}

	c.runStage(report, "extraction", func() (any, error) {
		ex := extractor.New(c.staticScraper, c.store, c.pipeline, &c.cfg.Extractor, c.logger)
		result, err := ex.Run(runCtx, code)
		if result != nil {
			report.TotalExtracted += result.SucceededCount
			report.TotalFailed += result.FailedCount
		}
		return result, err
	})

	if runCtx.Err() != nil {
		return report, runCtx.Err()
	}

	if opts.SkipMultiVersion {
		c.skipStage(report, "multi_version", "skipped by request")
	} else if c.renderedScraper == nil {
		c.skipStage(report, "multi_version", "no rendered scraper configured")
	} else {
		c.runStage(report, "multi_version", func() (any, error) {
			mv, err := multiversion.New(c.renderedScraper, c.store, &c.cfg.MultiVersion, c.cfg.Scraper.PagePoolSize, c.logger)
			if err != nil {
				return nil, err
			}
			result, err := mv.Run(runCtx, code)
			if result != nil {
				report.TotalExtracted += result.ResolvedCount
				report.TotalFailed += result.FailedCount
			}
			return result, err
		})
	}

	if runCtx.Err() != nil {
		return report, runCtx.Err()
	}

	if opts.SkipReconcile {
		c.skipStage(report, "reconcile", "skipped by request")
	} else {
		c.runStage(report, "reconcile", func() (any, error) {
			rec := reconcile.New(c.staticScraper, c.renderedScraper, c.store, c.pipeline, &c.cfg.Extractor, &c.cfg.MultiVersion, &c.cfg.Reconcile, c.logger)
			result, err := rec.Run(runCtx, code)
			if result != nil {
				report.TotalExtracted += result.TotalResolved
				report.TotalFailed = result.RemainingCount
			}
			return result, err
		})
	}

	if runCtx.Err() != nil {
		return report, runCtx.Err()
	}

	if opts.SkipFailureRetry {
		c.skipStage(report, "failure_retry", "skipped by request")
	} else {
		c.runStage(report, "failure_retry", func() (any, error) {
			svc := failurelog.New(c.staticScraper, c.store, c.pipeline, c.cfg.Extractor.WorkerCount, c.cfg.Extractor.RequestTimeout, c.logger)
			return svc.RetryAll(runCtx, code, store.FailureFilter{RetryStatus: model.RetryPending})
		})
	}

	c.logger.Info("run complete", "code", code, "indexed", report.TotalIndexed, "extracted", report.TotalExtracted, "failed", report.TotalFailed)
	return report, nil
}

// runStage executes fn, appending its outcome to report.Stages. It
// returns fn's error (nil on success) so callers can decide whether a
// failure is fatal to the overall run.
func (c *Controller) runStage(report *Report, name string, fn func() (any, error)) error {
	sr := StageReport{Stage: name, Started: time.Now()}
	detail, err := fn()
	sr.Finished = time.Now()
	sr.Detail = detail
	if err != nil {
		sr.Error = err.Error()
		c.logger.Error("stage failed", "stage", name, "error", err)
	}
	report.Stages = append(report.Stages, sr)
	return err
}

func (c *Controller) skipStage(report *Report, name, reason string) {
	report.Stages = append(report.Stages, StageReport{Stage: name, Skipped: true, Detail: reason, Started: time.Now(), Finished: time.Now()})
	c.logger.Info("stage skipped", "stage", name, "reason", reason)
}

// watchStop cancels runCtx (via cancel) as soon as the controller's
// state moves to stopping, or the parent context is done.
func (c *Controller) watchStop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() == StateStopping {
				cancel()
				return
			}
		}
	}
}
