// Package failurelog implements the failure-log retry service (C8): a
// thin layer over Store's failure records that lets an operator retry
// one section, sweep every retryable failure for a code, or give up on
// a section explicitly. See §4.8.
package failurelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lexpipe/lexpipe/internal/contentparser"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// RetryResult reports the outcome of retrying a single failure record.
type RetryResult struct {
	Code      string
	SectionID string
	Succeeded bool
	Err       error
}

// SweepResult summarizes a RetryAll run.
type SweepResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Results   []RetryResult
}

// FailureService replays failed extractions on demand and lets an
// operator mark a section abandoned instead of retrying it further.
type FailureService struct {
	scraper        scraper.Scraper
	store          store.Store
	pipeline       *pipeline.Pipeline
	concurrency    int
	requestTimeout time.Duration
	logger         *slog.Logger
}

// New creates a FailureService. concurrency bounds how many sections
// RetryAll fetches at once; requestTimeout bounds each individual retry
// fetch, typically the same value as the extractor's request_timeout.
func New(s scraper.Scraper, st store.Store, pl *pipeline.Pipeline, concurrency int, requestTimeout time.Duration, logger *slog.Logger) *FailureService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &FailureService{
		scraper:        s,
		store:          st,
		pipeline:       pl,
		concurrency:    concurrency,
		requestTimeout: requestTimeout,
		logger:         logger.With("component", "failurelog"),
	}
}

// Retry re-fetches and re-parses the URL behind one failed section,
// persisting the result and updating the failure record's retry_status
// on success or failure. Every error, whether a missing failure record,
// a store error or an ordinary re-fetch failure, is reported via
// RetryResult.Err.
func (svc *FailureService) Retry(ctx context.Context, code, sectionID string) RetryResult {
	rec, err := svc.findFailure(ctx, code, sectionID)
	if err != nil {
		return RetryResult{Code: code, SectionID: sectionID, Err: err}
	}
	if rec == nil {
		return RetryResult{Code: code, SectionID: sectionID, Err: fmt.Errorf("no failure record for %s/%s", code, sectionID)}
	}
	return svc.retryRecord(ctx, rec)
}

// RetryAll retries every failure matching filter for code, concurrently
// up to svc.concurrency at a time. Non-retryable records (abandoned, or
// whose FailureType.Retryable() is false) are skipped rather than
// attempted.
func (svc *FailureService) RetryAll(ctx context.Context, code string, filter store.FailureFilter) (*SweepResult, error) {
	records, err := svc.store.ListFailures(ctx, code, filter)
	if err != nil {
		return nil, fmt.Errorf("list failures for %s: %w", code, err)
	}

	result := &SweepResult{}
	var mu sync.Mutex
	sem := make(chan struct{}, svc.concurrency)
	var wg sync.WaitGroup

	for _, rec := range records {
		if !rec.FailureType.Retryable() || rec.RetryStatus == model.RetryAbandoned {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(r *model.FailureRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			rr := svc.retryRecord(ctx, r)

			mu.Lock()
			defer mu.Unlock()
			result.Attempted++
			result.Results = append(result.Results, rr)
			if rr.Succeeded {
				result.Succeeded++
			} else {
				result.Failed++
			}
		}(rec)
	}
	wg.Wait()

	svc.logger.Info("retry sweep complete", "code", code, "attempted", result.Attempted, "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

// Abandon marks a failure record as abandoned so it is skipped by future
// RetryAll sweeps, without attempting a re-fetch.
func (svc *FailureService) Abandon(ctx context.Context, code, sectionID string) error {
	if err := svc.store.UpdateRetryStatus(ctx, code, sectionID, model.RetryAbandoned); err != nil {
		return fmt.Errorf("abandon %s/%s: %w", code, sectionID, err)
	}
	svc.logger.Info("failure abandoned", "code", code, "section_id", sectionID)
	return nil
}

func (svc *FailureService) findFailure(ctx context.Context, code, sectionID string) (*model.FailureRecord, error) {
	records, err := svc.store.ListFailures(ctx, code, store.FailureFilter{})
	if err != nil {
		return nil, fmt.Errorf("list failures for %s: %w", code, err)
	}
	for _, rec := range records {
		if rec.SectionID == sectionID {
			return rec, nil
		}
	}
	return nil, nil
}

// retryRecord performs one re-fetch+re-parse attempt for rec's URL and
// persists the outcome, whichever way it goes.
func (svc *FailureService) retryRecord(ctx context.Context, rec *model.FailureRecord) RetryResult {
	base := RetryResult{Code: rec.Code, SectionID: rec.SectionID}

	result, err := svc.scraper.Fetch(ctx, rec.URL, svc.requestTimeout)
	if err != nil {
		rec.RecordAttempt(err)
		_ = svc.store.LogFailure(ctx, rec)
		base.Err = err
		return base
	}

	parsed := contentparser.Parse(result.HTML, rec.URL)
	if strings.TrimSpace(parsed.Content) == "" && !parsed.IsMultiVersion {
		retryErr := fmt.Errorf("retry produced empty content")
		rec.RecordAttempt(retryErr)
		_ = svc.store.LogFailure(ctx, rec)
		base.Err = retryErr
		return base
	}

	patch := store.SectionPatch{Code: rec.Code, SectionID: rec.SectionID, URL: strPtr(rec.URL)}
	if parsed.IsMultiVersion {
		patch.IsMultiVersion = boolPtr(true)
	} else {
		patch.Content = strPtr(parsed.Content)
		patch.RawContent = strPtr(result.HTML)
		if parsed.LegislativeHistory != "" {
			patch.LegislativeHistory = strPtr(parsed.LegislativeHistory)
		}
		patch.IsMultiVersion = boolPtr(false)
	}

	processed, err := svc.pipeline.Process(&patch)
	if err != nil {
		rec.RecordAttempt(err)
		_ = svc.store.LogFailure(ctx, rec)
		base.Err = err
		return base
	}
	if processed == nil {
		dropErr := fmt.Errorf("retry dropped by normalization pipeline")
		rec.RecordAttempt(dropErr)
		_ = svc.store.LogFailure(ctx, rec)
		base.Err = dropErr
		return base
	}

	if err := svc.store.UpsertSection(ctx, rec.Code, rec.SectionID, *processed); err != nil {
		rec.RecordAttempt(err)
		_ = svc.store.LogFailure(ctx, rec)
		base.Err = err
		return base
	}

	rec.RecordAttempt(nil)
	_ = svc.store.LogFailure(ctx, rec)
	base.Succeeded = true
	return base
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
