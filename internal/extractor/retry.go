package extractor

import (
	"context"
	"regexp"
	"time"

	"github.com/lexpipe/lexpipe/internal/model"
)

// repealedPattern flags a section whose body explicitly states it has
// been repealed rather than simply failing to render content. Sections
// matching this are logged as a non-retryable failure instead of an
// empty_content failure that reconciliation would keep re-attempting.
var repealedPattern = regexp.MustCompile(`(?i)this section (has been|was) repealed|repealed by its own terms`)

func isRepealedContent(html string) bool {
	return repealedPattern.MatchString(html)
}

// retryFetchFailure classifies a fetch error and, if retryable, runs it
// through the 2s/4s/8s backoff ladder up to MaxRetries attempts. On
// eventual success it returns the successful fetch result so the caller
// can still build a patch from it; on exhaustion it logs the full retry
// history as a FailureRecord and returns ok=false.
func (e *Extractor) retryFetchFailure(ctx context.Context, code, sectionID, url string, batchNumber int, firstErr error) (*model.FetchResult, bool) {
	ft := model.ClassifyError(firstErr)
	rec := model.NewFailureRecord(code, sectionID, url, ft, model.StageExtraction, batchNumber, firstErr.Error())

	if !ft.Retryable() {
		rec.RecordAttempt(firstErr)
		rec.RetryStatus = model.RetryAbandoned
		_ = e.store.LogFailure(ctx, rec)
		return nil, false
	}

	rec.RecordAttempt(firstErr)

	for attempt := 2; attempt <= e.cfg.MaxRetries; attempt++ {
		delay := backoffDelay(attempt-1, e.cfg.RetryBaseDelay)
		select {
		case <-ctx.Done():
			_ = e.store.LogFailure(ctx, rec)
			return nil, false
		case <-time.After(delay):
		}

		result, err := e.scraper.Fetch(ctx, url, e.cfg.RequestTimeout)
		if err == nil && result != nil {
			rec.RecordAttempt(nil)
			_ = e.store.LogFailure(ctx, rec)
			return result, true
		}
		if err == nil {
			err = model.ErrTimeout
		}
		rec.RecordAttempt(err)
	}

	_ = e.store.LogFailure(ctx, rec)
	return nil, false
}

// retryEmptyContent performs the single immediate re-fetch the
// empty_content failure class gets before being logged as a standing
// failure, per the classification table's retry-once rule.
func (e *Extractor) retryEmptyContent(ctx context.Context, url string) (*model.FetchResult, bool) {
	result, err := e.scraper.Fetch(ctx, url, e.cfg.RequestTimeout)
	if err != nil || result == nil {
		return nil, false
	}
	return result, true
}

// logFailure records a failure whose fetch itself succeeded — empty
// content (after the one retry above has already been tried), a parse
// error, or a pipeline-level rejection.
func (e *Extractor) logFailure(ctx context.Context, code, sectionID, url string, batchNumber int, ft model.FailureType, message string) {
	rec := model.NewFailureRecord(code, sectionID, url, ft, model.StageExtraction, batchNumber, message)
	_ = e.store.LogFailure(ctx, rec)
}

// backoffDelay implements the 2s/4s/8s ladder: attempt 1 -> base, attempt
// 2 -> 2*base, attempt 3 -> 4*base, matching the spec's named constants
// when base is the default 2s.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(uint(1)<<uint(attempt-1))
}
