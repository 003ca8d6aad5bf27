// Package extractor implements Stage 2 (C5): the concurrent content
// extraction pass over a code's non-multi-version leaves, with
// checkpointing so a run can be paused and resumed without re-fetching
// completed batches. See §4.5.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/contentparser"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// Result summarizes one Run.
type Result struct {
	TotalPending      int
	ProcessedCount    int
	SucceededCount    int
	FailedCount       int
	MultiVersionCount int
	BatchesRun        int
}

// Extractor drives Stage 2: it drains a code's pending leaves in batches,
// fetches each batch concurrently through the Scraper, parses and
// normalizes every response, and persists the result through the Store.
type Extractor struct {
	scraper  scraper.Scraper
	store    store.Store
	pipeline *pipeline.Pipeline
	cfg      *config.ExtractorConfig
	logger   *slog.Logger
}

// New creates an Extractor.
func New(s scraper.Scraper, st store.Store, pl *pipeline.Pipeline, cfg *config.ExtractorConfig, logger *slog.Logger) *Extractor {
	return &Extractor{
		scraper:  s,
		store:    st,
		pipeline: pl,
		cfg:      cfg,
		logger:   logger.With("component", "extractor"),
	}
}

// Run processes code's pending (non-multi-version, not-yet-extracted)
// leaves, resuming from any existing Stage 2 checkpoint. It returns once
// every batch has been attempted or ctx is canceled, in which case the
// checkpoint is left in the paused state for a later resume.
func (e *Extractor) Run(ctx context.Context, code string) (*Result, error) {
	arch, err := e.store.GetCodeArchitecture(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load architecture for %s: %w", code, err)
	}
	if arch == nil {
		return nil, fmt.Errorf("no architecture found for %s — run discovery first", code)
	}

	byURL := make(map[string]model.ManifestEntry, len(arch.URLManifest))
	for _, entry := range arch.URLManifest {
		byURL[entry.URL] = entry
	}

	var pendingURLs []string
	for url := range e.store.IterPendingSections(ctx, code) {
		pendingURLs = append(pendingURLs, url)
	}

	batches := chunk(pendingURLs, e.cfg.BatchSize)
	result := &Result{TotalPending: len(pendingURLs)}

	cp, err := e.store.LoadCheckpoint(ctx, code, model.StageExtraction)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil || cp.Status == model.CheckpointCompleted {
		cp = model.NewCheckpoint(code, model.StageExtraction, len(batches), e.cfg.WorkerCount)
	} else {
		cp.TotalBatches = len(batches)
		cp.Status = model.CheckpointInProgress
	}

	startIdx := cp.StartBatch() - 1
	e.logger.Info("extraction starting", "code", code, "total_batches", len(batches), "start_batch", startIdx+1, "pending", len(pendingURLs))

	for batchIdx := startIdx; batchIdx < len(batches); batchIdx++ {
		select {
		case <-ctx.Done():
			cp.Status = model.CheckpointPaused
			cp.UpdatedAt = time.Now()
			_ = e.store.SaveCheckpoint(ctx, cp)
			return result, ctx.Err()
		default:
		}

		batch := batches[batchIdx]
		patches, failedIDs, multiVersionCount := e.processBatch(ctx, code, batchIdx+1, batch, byURL)

		if len(patches) > 0 {
			if err := e.store.BulkUpsertSections(ctx, patches); err != nil {
				e.logger.Error("bulk upsert failed", "batch", batchIdx+1, "error", err)
			}
		}

		result.BatchesRun++
		result.ProcessedCount += len(batch)
		result.SucceededCount += len(patches)
		result.FailedCount += len(failedIDs)
		result.MultiVersionCount += multiVersionCount

		cp.CurrentBatch = batchIdx + 1
		cp.ProcessedCount += len(batch)
		cp.AddFailedSectionIDs(failedIDs...)
		cp.UpdatedAt = time.Now()

		if e.cfg.CheckpointEvery <= 0 || (batchIdx+1)%e.cfg.CheckpointEvery == 0 || batchIdx == len(batches)-1 {
			if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
				e.logger.Error("checkpoint save failed", "batch", batchIdx+1, "error", err)
			}
		}
	}

	cp.Status = model.CheckpointCompleted
	cp.UpdatedAt = time.Now()
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		e.logger.Error("final checkpoint save failed", "error", err)
	}

	e.logger.Info("extraction complete", "code", code, "processed", result.ProcessedCount, "succeeded", result.SucceededCount, "failed", result.FailedCount)
	return result, nil
}

// processBatch fetches and parses one batch, returning the patches ready
// for persistence and the section ids that failed outright.
func (e *Extractor) processBatch(ctx context.Context, code string, batchNumber int, urls []string, byURL map[string]model.ManifestEntry) ([]store.SectionPatch, []string, int) {
	outcomes := e.scraper.FetchBatch(ctx, urls, e.cfg.WorkerCount, e.cfg.RequestTimeout)

	var patches []store.SectionPatch
	var failedIDs []string
	multiVersionCount := 0

	for _, url := range urls {
		entry, known := byURL[url]
		sectionID := entry.SectionID
		if !known {
			sectionID = url
		}

		html := ""
		outcome := outcomes[url]
		if outcome.Err != nil {
			retried, ok := e.retryFetchFailure(ctx, code, sectionID, url, batchNumber, outcome.Err)
			if !ok {
				failedIDs = append(failedIDs, sectionID)
				continue
			}
			html = retried.HTML
		} else {
			html = outcome.Result.HTML
		}

		patch, failureType, ok := e.buildPatch(code, sectionID, entry, url, html)
		if !ok && failureType == model.FailureEmptyContent {
			if retried, retriedOK := e.retryEmptyContent(ctx, url); retriedOK {
				patch, failureType, ok = e.buildPatch(code, sectionID, entry, url, retried.HTML)
			}
		}
		if !ok {
			msg := "parsed content was empty after retry"
			if failureType == model.FailureRepealed {
				msg = "section body indicates it has been repealed"
			}
			e.logFailure(ctx, code, sectionID, url, batchNumber, failureType, msg)
			failedIDs = append(failedIDs, sectionID)
			continue
		}
		if patch.IsMultiVersion != nil && *patch.IsMultiVersion {
			multiVersionCount++
		}

		processed, err := e.pipeline.Process(&patch)
		if err != nil {
			e.logFailure(ctx, code, sectionID, url, batchNumber, model.FailureParseError, err.Error())
			failedIDs = append(failedIDs, sectionID)
			continue
		}
		if processed == nil {
			e.logFailure(ctx, code, sectionID, url, batchNumber, model.FailureEmptyContent, "dropped by normalization pipeline")
			failedIDs = append(failedIDs, sectionID)
			continue
		}
		patches = append(patches, *processed)
	}

	return patches, failedIDs, multiVersionCount
}

// buildPatch parses raw HTML into a SectionPatch. ok is false when the
// section should be treated as a failure instead of persisted.
func (e *Extractor) buildPatch(code, sectionID string, entry model.ManifestEntry, url, html string) (store.SectionPatch, model.FailureType, bool) {
	parsed := contentparser.Parse(html, url)

	patch := store.SectionPatch{
		Code:      code,
		SectionID: sectionID,
		URL:       strPtr(url),
		Division:  nonEmptyPtr(entry.Division),
		Part:      nonEmptyPtr(entry.Part),
		Title:     nonEmptyPtr(entry.Title),
		Chapter:   nonEmptyPtr(entry.Chapter),
		Article:   nonEmptyPtr(entry.Article),
	}

	if parsed.IsMultiVersion {
		patch.IsMultiVersion = boolPtr(true)
		return patch, "", true
	}

	if strings.TrimSpace(parsed.Content) == "" {
		if isRepealedContent(html) {
			return patch, model.FailureRepealed, false
		}
		return patch, model.FailureEmptyContent, false
	}

	patch.Content = strPtr(parsed.Content)
	patch.RawContent = strPtr(html)
	if parsed.LegislativeHistory != "" {
		patch.LegislativeHistory = strPtr(parsed.LegislativeHistory)
	}
	patch.IsMultiVersion = boolPtr(false)
	return patch, "", true
}

func chunk(urls []string, size int) [][]string {
	if size <= 0 {
		size = len(urls)
	}
	if size <= 0 {
		return nil
	}
	var batches [][]string
	for i := 0; i < len(urls); i += size {
		end := i + size
		if end > len(urls) {
			end = len(urls)
		}
		batches = append(batches, urls[i:end])
	}
	return batches
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
