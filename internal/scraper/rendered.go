package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/model"
)

// RenderedScraper implements Scraper and Interactive using a headless
// Chromium instance via go-rod, with go-rod/stealth patches applied to
// each page. It is the only variant capable of fetch_interactive,
// needed to resolve session-gated links on text pages and
// version-selector pages (Stage 3, C6).
type RenderedScraper struct {
	browser  *rod.Browser
	cfg      *config.ScraperConfig
	logger   *slog.Logger
	pagePool chan *rod.Page
	maxPages int
}

// NewRenderedScraper launches a headless Chromium instance and returns a
// ready RenderedScraper.
func NewRenderedScraper(cfg *config.ScraperConfig, logger *slog.Logger) (*RenderedScraper, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox")

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	maxPages := cfg.PagePoolSize
	if maxPages <= 0 {
		maxPages = 4
	}

	rs := &RenderedScraper{
		browser:  browser,
		cfg:      cfg,
		logger:   logger.With("component", "rendered_scraper"),
		pagePool: make(chan *rod.Page, maxPages),
		maxPages: maxPages,
	}
	rs.logger.Info("rendered scraper ready", "page_pool_size", maxPages)
	return rs, nil
}

// Type identifies this scraper implementation.
func (rs *RenderedScraper) Type() string { return "rendered" }

// Close shuts down the browser and any pooled pages.
func (rs *RenderedScraper) Close() error {
	close(rs.pagePool)
	for page := range rs.pagePool {
		_ = page.Close()
	}
	return rs.browser.Close()
}

func (rs *RenderedScraper) getStealthPage() (*rod.Page, error) {
	select {
	case page := <-rs.pagePool:
		return page, nil
	default:
		return stealth.Page(rs.browser)
	}
}

func (rs *RenderedScraper) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case rs.pagePool <- page:
	default:
		_ = page.Close()
	}
}

// Fetch navigates to url and returns the rendered page HTML.
func (rs *RenderedScraper) Fetch(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error) {
	start := time.Now()

	page, err := rs.getStealthPage()
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	defer rs.putPage(page)

	page = page.Context(ctx)

	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		rs.logger.Warn("page stability timeout, continuing", "url", url, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}

	links := extractOnclickAndHref(page)

	duration := time.Since(start)
	rs.logger.Debug("rendered fetch complete", "url", url, "size", len(html), "duration", duration)

	return &model.FetchResult{
		URL:      url,
		HTML:     html,
		Links:    links,
		Status:   200,
		Duration: duration,
	}, nil
}

// FetchBatch fetches urls with up to batchSize browser pages in flight,
// sharing the same hang-timeout cancellation semantics as StaticScraper.
func (rs *RenderedScraper) FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]FetchOutcome {
	if batchSize > rs.maxPages {
		batchSize = rs.maxPages
	}
	return fetchBatchGeneric(ctx, rs, urls, batchSize, timeout)
}

// FetchIsolated fetches url in a fresh incognito browser context with
// its own stealth page, discarded afterward, rather than a pooled page
// on the shared default context — see §4.6's "fresh context per
// version" requirement, needed because the constituent version pages
// for one section otherwise share session/cookie state through the
// pooled context.
func (rs *RenderedScraper) FetchIsolated(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error) {
	start := time.Now()

	browserCtx, err := rs.browser.Incognito()
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	defer browserCtx.Close()

	page, err := stealth.Page(browserCtx)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	defer page.Close()

	page = page.Context(ctx)

	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		rs.logger.Warn("page stability timeout, continuing", "url", url, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}

	duration := time.Since(start)
	rs.logger.Debug("isolated fetch complete", "url", url, "size", len(html), "duration", duration)

	return &model.FetchResult{
		URL:      url,
		HTML:     html,
		Status:   200,
		Duration: duration,
	}, nil
}

// FetchInteractive runs a wait/click/extract_onclick_targets action
// sequence against url, used by Stage 3 to drive a version-selector page.
func (rs *RenderedScraper) FetchInteractive(ctx context.Context, url string, actions []model.FetchAction) (*model.InteractiveResult, error) {
	page, err := rs.getStealthPage()
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	defer rs.putPage(page)

	page = page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}
	_ = page.WaitStable(300 * time.Millisecond)

	var onclickTargets []string
	for _, action := range actions {
		switch action.Kind {
		case model.ActionWait:
			to := action.Timeout
			if to <= 0 {
				to = 10 * time.Second
			}
			if action.Selector != "" {
				if err := page.Timeout(to).MustElement(action.Selector).WaitVisible(); err != nil {
					rs.logger.Warn("wait selector timeout", "selector", action.Selector, "error", err)
				}
			} else {
				time.Sleep(to)
			}
		case model.ActionClick:
			el, err := page.Timeout(5 * time.Second).Element(action.Selector)
			if err != nil {
				rs.logger.Warn("click target not found", "selector", action.Selector, "error", err)
				continue
			}
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				rs.logger.Warn("click failed", "selector", action.Selector, "error", err)
			}
			_ = page.WaitStable(300 * time.Millisecond)
		case model.ActionExtractOnclickTarget:
			onclickTargets = append(onclickTargets, extractOnclickTargets(page)...)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}

	return &model.InteractiveResult{HTML: html, OnclickTargets: onclickTargets}, nil
}

// extractOnclickAndHref harvests both normal href links and onclick
// navigation targets from the current page, since version-selector pages
// commonly navigate via onclick rather than anchors.
func extractOnclickAndHref(page *rod.Page) []string {
	var links []string
	elements, err := page.Elements("a")
	if err != nil {
		return links
	}
	for _, el := range elements {
		if href, err := el.Attribute("href"); err == nil && href != nil && *href != "" {
			links = append(links, *href)
		}
	}
	links = append(links, extractOnclickTargets(page)...)
	return links
}

// extractOnclickTargets pulls navigable targets out of onclick handlers,
// the mechanism California's version-selector pages use instead of plain
// anchors.
func extractOnclickTargets(page *rod.Page) []string {
	result, err := page.Eval(`() => {
		const out = [];
		document.querySelectorAll('[onclick]').forEach(el => {
			const m = /location\.href\s*=\s*['"]([^'"]+)['"]/.exec(el.getAttribute('onclick') || '');
			if (m) out.push(m[1]);
		});
		return out;
	}`)
	if err != nil || result == nil {
		return nil
	}
	var targets []string
	if err := result.Value.Unmarshal(&targets); err != nil {
		return nil
	}
	return targets
}
