// Package reconcile implements the reconciliation pass (C7): repeated
// gap scans over a code's still-pending sections and still-unresolved
// multi-version sections — a fresh Stage 2/3 execution restricted to
// what's missing — with concurrency halved each pass to ease off a
// source that may be struggling under load, bounded by a maximum pass
// count. See §4.7.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/extractor"
	"github.com/lexpipe/lexpipe/internal/multiversion"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Pass                 int
	WorkerCount          int
	Processed            int
	Succeeded            int
	Failed               int
	MultiVersionResolved int
	MultiVersionFailed   int
}

// Result summarizes a full reconciliation run.
type Result struct {
	Passes         []PassResult
	RemainingCount int
	TotalResolved  int
}

// Reconciler repeatedly re-runs Stage 2 extraction over whatever
// sections are still pending, and — when a rendered scraper is
// available — Stage 3 multi-version resolution over whatever
// multi-version sections are still unresolved, reducing concurrency
// each pass.
type Reconciler struct {
	scraper         scraper.Scraper
	renderedScraper scraper.Scraper // may be nil; multi-version re-pass is skipped without it
	store           store.Store
	pipeline        *pipeline.Pipeline
	extractorCfg    *config.ExtractorConfig
	mvCfg           *config.MultiVersionConfig
	cfg             *config.ReconcileConfig
	logger          *slog.Logger
}

// New creates a Reconciler. extractorCfg supplies the base settings
// (batch size, timeouts, retry ladder) that every pass starts from;
// only WorkerCount is adjusted pass to pass. renderedScraper may be nil,
// in which case each pass only re-runs Stage 2 extraction, not Stage 3
// multi-version resolution.
func New(s, renderedScraper scraper.Scraper, st store.Store, pl *pipeline.Pipeline, extractorCfg *config.ExtractorConfig, mvCfg *config.MultiVersionConfig, cfg *config.ReconcileConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		scraper:         s,
		renderedScraper: renderedScraper,
		store:           st,
		pipeline:        pl,
		extractorCfg:    extractorCfg,
		mvCfg:           mvCfg,
		cfg:             cfg,
		logger:          logger.With("component", "reconcile"),
	}
}

// Run performs up to cfg.MaxPasses reconciliation passes over code,
// stopping early once a pass finds no pending sections left.
func (r *Reconciler) Run(ctx context.Context, code string) (*Result, error) {
	result := &Result{}
	workerCount := r.extractorCfg.WorkerCount

	for pass := 1; pass <= r.cfg.MaxPasses; pass++ {
		if ctx.Err() != nil {
			break
		}

		passCfg := *r.extractorCfg
		passCfg.WorkerCount = workerCount

		ex := extractor.New(r.scraper, r.store, r.pipeline, &passCfg, r.logger)
		passResult, err := ex.Run(ctx, code)
		if err != nil {
			return result, err
		}

		pr := PassResult{
			Pass:        pass,
			WorkerCount: workerCount,
			Processed:   passResult.ProcessedCount,
			Succeeded:   passResult.SucceededCount,
			Failed:      passResult.FailedCount,
		}
		result.TotalResolved += passResult.SucceededCount

		mvProcessed := 0
		if r.renderedScraper != nil && ctx.Err() == nil {
			mv, err := multiversion.New(r.renderedScraper, r.store, r.mvCfg, workerCount, r.logger)
			if err != nil {
				return result, err
			}
			mvResult, err := mv.Run(ctx, code)
			if err != nil {
				return result, err
			}
			pr.MultiVersionResolved = mvResult.ResolvedCount
			pr.MultiVersionFailed = mvResult.FailedCount
			result.TotalResolved += mvResult.ResolvedCount
			mvProcessed = mvResult.ResolvedCount + mvResult.FailedCount
		}

		result.Passes = append(result.Passes, pr)

		r.logger.Info("reconciliation pass complete", "code", code, "pass", pass, "worker_count", workerCount,
			"processed", passResult.ProcessedCount, "succeeded", passResult.SucceededCount,
			"multi_version_resolved", pr.MultiVersionResolved, "multi_version_failed", pr.MultiVersionFailed)

		if passResult.ProcessedCount == 0 && mvProcessed == 0 {
			break
		}

		workerCount = nextWorkerCount(workerCount, r.cfg.MinWorkerCount)
	}

	remaining := 0
	for range r.store.IterPendingSections(ctx, code) {
		remaining++
	}
	result.RemainingCount = remaining

	return result, nil
}

// nextWorkerCount halves the concurrency for the next pass, never
// dropping below minWorkerCount.
func nextWorkerCount(current, minWorkerCount int) int {
	if minWorkerCount < 1 {
		minWorkerCount = 1
	}
	next := current / 2
	if next < minWorkerCount {
		return minWorkerCount
	}
	return next
}
