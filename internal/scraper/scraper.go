// Package scraper implements the external Scraper contract (C1): two
// capability variants, static (HTTP + HTML parse) and rendered (headless
// browser), both satisfying the same interface so the extractor and
// discovery stages can depend on it polymorphically.
package scraper

import (
	"context"
	"time"

	"github.com/lexpipe/lexpipe/internal/model"
)

// Scraper fetches a URL and produces markdown/HTML/links, or fails with
// a classifiable error. See §4.1.
type Scraper interface {
	// Fetch retrieves a single URL. Idempotent from the caller's view;
	// implementations are free to cache.
	Fetch(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error)

	// FetchBatch fetches many URLs concurrently, internally bounded by
	// batchSize in flight at once. Completes when every URL has a result
	// or has timed out. In-flight requests exceeding 2x timeout are
	// canceled and recorded as a timeout error rather than left hanging.
	FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]FetchOutcome

	// Close releases scraper-held resources (idle connections, a
	// browser process).
	Close() error

	// Type identifies the scraper implementation ("static", "rendered").
	Type() string
}

// FetchOutcome is one entry of a FetchBatch result map.
type FetchOutcome struct {
	Result *model.FetchResult
	Err    error
}

// Interactive is implemented only by scrapers capable of
// fetch_interactive (the RenderedScraper), used to resolve session-gated
// links on text pages and version-selector pages.
type Interactive interface {
	FetchInteractive(ctx context.Context, url string, actions []model.FetchAction) (*model.InteractiveResult, error)

	// FetchIsolated fetches url in a fresh, throwaway browser context
	// (its own cookie jar/session state), rather than reusing the
	// scraper's shared pooled pages. Stage 3 uses this for each
	// multi-version target so one version's session state can't bleed
	// into the next.
	FetchIsolated(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error)
}
