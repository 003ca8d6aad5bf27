// Package multiversion implements Stage 3 (C6): resolving a
// multi-version section's selector page into its individual version
// texts through a headless browser, since California's version picker
// navigates via onclick handlers rather than plain anchors. See §4.6.
package multiversion

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/contentparser"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

// Result summarizes one Run.
type Result struct {
	TotalSections  int
	ResolvedCount  int
	FailedCount    int
	VersionsFound  int
}

// MultiVersioner resolves every multi-version section flagged for a code
// into its constituent Version entries.
type MultiVersioner struct {
	interactive scraper.Interactive
	store       store.Store
	cfg         *config.MultiVersionConfig
	concurrency int
	logger      *slog.Logger
}

// New creates a MultiVersioner. scraper must also implement
// scraper.Interactive (the RenderedScraper does); concurrency bounds how
// many sections are resolved at once, typically the scraper's page pool
// size.
func New(s scraper.Scraper, st store.Store, cfg *config.MultiVersionConfig, concurrency int, logger *slog.Logger) (*MultiVersioner, error) {
	interactive, ok := s.(scraper.Interactive)
	if !ok {
		return nil, fmt.Errorf("multiversion stage requires an interactive scraper (rendered), got %s", s.Type())
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MultiVersioner{
		interactive: interactive,
		store:       st,
		cfg:         cfg,
		concurrency: concurrency,
		logger:      logger.With("component", "multiversion"),
	}, nil
}

// Run resolves every multi-version section flagged for code.
func (m *MultiVersioner) Run(ctx context.Context, code string) (*Result, error) {
	var sectionIDs []string
	for id := range m.store.IterMultiVersionSections(ctx, code) {
		sectionIDs = append(sectionIDs, id)
	}

	result := &Result{TotalSections: len(sectionIDs)}
	if len(sectionIDs) == 0 {
		return result, nil
	}

	cp := model.NewCheckpoint(code, model.StageMultiVersion, len(sectionIDs), m.concurrency)

	var mu sync.Mutex
	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup

	for i, sectionID := range sectionIDs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			versions, err := m.resolveSection(ctx, code, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedCount++
				cp.AddFailedSectionIDs(id)
				m.logFailure(ctx, code, id, idx, err)
				return
			}
			result.ResolvedCount++
			result.VersionsFound += len(versions)
			cp.ProcessedCount++
		}(i, sectionID)
	}
	wg.Wait()

	cp.CurrentBatch = cp.TotalBatches
	cp.Status = model.CheckpointCompleted
	cp.UpdatedAt = time.Now()
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		m.logger.Error("checkpoint save failed", "error", err)
	}

	m.logger.Info("multiversion resolution complete", "code", code, "resolved", result.ResolvedCount, "failed", result.FailedCount, "versions", result.VersionsFound)
	return result, nil
}

// resolveSection navigates to the section's selector page, harvests the
// individual version targets, fetches and parses each, then persists the
// resulting Version slice.
func (m *MultiVersioner) resolveSection(ctx context.Context, code, sectionID string) ([]model.Version, error) {
	section, err := m.store.GetSection(ctx, code, sectionID)
	if err != nil {
		return nil, fmt.Errorf("load section: %w", err)
	}
	if section == nil {
		return nil, fmt.Errorf("no stored section for %s/%s", code, sectionID)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()

	selectorPage, err := m.interactive.FetchInteractive(navCtx, section.URL, []model.FetchAction{
		{Kind: model.ActionExtractOnclickTarget},
	})
	if err != nil {
		return nil, &model.FetchError{URL: section.URL, Err: err, Retryable: true}
	}

	targets := selectorPage.OnclickTargets
	if len(targets) == 0 {
		return nil, fmt.Errorf("no version targets found on selector page")
	}
	if m.cfg.MaxVersions > 0 && len(targets) > m.cfg.MaxVersions {
		targets = targets[:m.cfg.MaxVersions]
	}

	versions := make([]model.Version, 0, len(targets))
	for idx, target := range targets {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
		fetchResult, err := m.interactive.FetchIsolated(fetchCtx, target, m.cfg.NavigationTimeout)
		fetchCancel()
		if err != nil {
			m.logger.Warn("version fetch failed", "section_id", sectionID, "url", target, "error", err)
			continue
		}

		parsed := contentparser.Parse(fetchResult.HTML, target)
		version := model.Version{
			SourceURL: target,
			Status:    classifyVersionStatus(idx, fetchResult.HTML),
		}
		if parsed.Content != "" {
			version.Content = strPtr(parsed.Content)
		}
		if parsed.LegislativeHistory != "" {
			version.LegislativeHistory = strPtr(parsed.LegislativeHistory)
		}
		if date, ok := extractOperativeDate(fetchResult.HTML); ok {
			version.OperativeDate = &date
		}
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("no version content resolved for %d target(s)", len(targets))
	}

	patch := store.SectionPatch{
		Code:      code,
		SectionID: sectionID,
		Versions:  versions,
	}
	if err := m.store.UpsertSection(ctx, code, sectionID, patch); err != nil {
		return nil, fmt.Errorf("persist versions: %w", err)
	}
	return versions, nil
}

func (m *MultiVersioner) logFailure(ctx context.Context, code, sectionID string, batchNumber int, err error) {
	ft := model.FailureMultiVersionTimeout
	rec := model.NewFailureRecord(code, sectionID, "", ft, model.StageMultiVersion, batchNumber, err.Error())
	rec.IsMultiVersion = true
	_ = m.store.LogFailure(ctx, rec)
}

// operativeDatePattern matches "(Operative January 1, 2027)" style
// annotations California uses to mark a future version.
var operativeDatePattern = regexp.MustCompile(`(?i)Operative\s+([A-Z][a-z]+ \d{1,2}, \d{4})`)

const operativeDateLayout = "January 2, 2006"

func extractOperativeDate(html string) (time.Time, bool) {
	m := operativeDatePattern.FindStringSubmatch(html)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(operativeDateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// classifyVersionStatus labels the first resolved version current and
// later ones historical, unless the body carries an Operative date in
// the future, in which case it is a scheduled future version. California
// orders its version selector current-first, so position alone is a
// reasonable default in the absence of a parseable date.
func classifyVersionStatus(idx int, html string) model.VersionStatus {
	if date, ok := extractOperativeDate(html); ok && date.After(time.Now()) {
		return model.VersionFuture
	}
	if idx == 0 {
		return model.VersionCurrent
	}
	return model.VersionHistorical
}

func strPtr(s string) *string { return &s }
