package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// Discoverer runs Stage 1 (C3): walking a code's index page down through
// its text pages to build the hierarchy tree and the leaf section
// manifest. See §4.3.
type Discoverer struct {
	scraper scraper.Scraper
	store   store.Store
	cfg     *config.ScraperConfig
	logger  *slog.Logger
}

// NewDiscoverer builds a Discoverer. The scraper passed in should be a
// StaticScraper — tree discovery is lightweight, text pages do not
// require JavaScript rendering.
func NewDiscoverer(s scraper.Scraper, st store.Store, cfg *config.ScraperConfig, logger *slog.Logger) *Discoverer {
	return &Discoverer{scraper: s, store: st, cfg: cfg, logger: logger.With("component", "discoverer")}
}

// Discover walks code's tree starting at indexURL, persists the resulting
// CodeArchitecture, and bulk-creates leaf section records (URL only).
// A text page that fails after retries is logged but does not abort the
// walk — missing leaves surface in reconciliation (§4.3's failure
// semantics).
func (d *Discoverer) Discover(ctx context.Context, code, indexURL string) (*model.CodeArchitecture, error) {
	queue := NewPageQueue()
	dedup := NewDeduplicator()
	builder := NewTreeBuilder(code)

	queue.Push(indexURL, 0)
	dedup.MarkSeen(indexURL)

	var failedPages []string

	for {
		pageURL, ok := queue.TryPop()
		if !ok {
			break
		}

		headings, children, err := d.fetchAndParsePage(ctx, pageURL)
		if err != nil {
			d.logger.Warn("text page fetch failed after retries", "url", pageURL, "error", err)
			failedPages = append(failedPages, pageURL)
			continue
		}

		for _, h := range headings {
			builder.Add(h)
		}
		for _, child := range children {
			if !dedup.IsSeen(child.url) {
				dedup.MarkSeen(child.url)
				queue.Push(child.url, child.depth)
			}
		}
	}

	tree, stats := builder.Build()
	manifest := builder.Manifest()

	arch := &model.CodeArchitecture{
		Code:        code,
		Tree:        tree,
		URLManifest: manifest,
		Statistics:  stats,
		StageFlags: model.StageFlags{
			Stage1Done: true,
			Stage1At:   timePtr(time.Now()),
		},
	}
	if err := arch.ValidateInvariants(); err != nil {
		return nil, fmt.Errorf("discovered architecture fails invariants: %w", err)
	}

	if err := d.store.PutCodeArchitecture(ctx, arch); err != nil {
		return nil, fmt.Errorf("persist architecture: %w", err)
	}

	patches := make([]store.SectionPatch, 0, len(manifest))
	for _, m := range manifest {
		url := m.URL
		patches = append(patches, store.SectionPatch{
			Code: code, SectionID: m.SectionID, URL: &url,
			Division: nonEmptyPtr(m.Division), Part: nonEmptyPtr(m.Part),
			Title: nonEmptyPtr(m.Title), Chapter: nonEmptyPtr(m.Chapter),
			Article: nonEmptyPtr(m.Article),
		})
	}
	if err := d.store.BulkUpsertSections(ctx, patches); err != nil {
		return nil, fmt.Errorf("bulk-create leaf sections: %w", err)
	}

	if len(failedPages) > 0 {
		d.logger.Warn("discovery finished with unreachable text pages", "code", code, "count", len(failedPages))
	}

	return arch, nil
}

type childPage struct {
	url   string
	depth int
}

// fetchAndParsePage fetches one text page with retry/backoff (§7) and
// extracts its headings (structural + leaf) and the child text pages it
// links to.
func (d *Discoverer) fetchAndParsePage(ctx context.Context, pageURL string) ([]Heading, []childPage, error) {
	const maxAttempts = 3
	var lastErr error
	backoff := 2 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := d.scraper.Fetch(ctx, pageURL, d.cfg.RequestTimeout)
		if err == nil {
			return parseTextPage(result.HTML, pageURL)
		}
		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, nil, lastErr
}

// parseTextPage walks every anchor on a text page in document order,
// classifying each as a structural heading (which also queues its linked
// page for traversal) or a leaf section (recorded with its href as the
// section URL).
func parseTextPage(html, pageURL string) ([]Heading, []childPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, err
	}

	var headings []Heading
	var children []childPage
	depth := 1

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}

		number, title := splitNumberAndTitle(text)
		nodeType := ClassifyHeading(text)

		if nodeType == model.NodeSection && IsSectionID(number) {
			headings = append(headings, Heading{Type: model.NodeSection, Number: number, Title: title, URL: resolveURL(pageURL, href)})
			return
		}
		if nodeType != model.NodeSection {
			headings = append(headings, Heading{Type: nodeType, Number: number, Title: title})
			children = append(children, childPage{url: resolveURL(pageURL, href), depth: depth})
		}
	})

	return headings, children, nil
}

// splitNumberAndTitle picks a heading's number/token out of its text and
// returns the full heading text as the title, e.g. "ARTICLE 3. Remedies"
// -> ("3", "ARTICLE 3. Remedies").
func splitNumberAndTitle(text string) (number, title string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], fields[0]
	}
	// Second field is conventionally the number for structural headings
	// ("ARTICLE 3."), the first field for bare section links ("1202.").
	if IsSectionID(strings.TrimSuffix(fields[0], ".")) {
		return strings.TrimSuffix(fields[0], "."), text
	}
	if len(fields) > 1 {
		return strings.TrimSuffix(fields[1], "."), text
	}
	return fields[0], text
}

func resolveURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		return base[:idx+1] + strings.TrimPrefix(href, "/")
	}
	return href
}

func timePtr(t time.Time) *time.Time { return &t }

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
