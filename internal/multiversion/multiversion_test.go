package multiversion

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeInteractiveScraper implements scraper.Scraper + scraper.Interactive
// with canned selector-page targets and version bodies.
type fakeInteractiveScraper struct {
	selectorTargets map[string][]string
	versionHTML     map[string]string
}

func (f *fakeInteractiveScraper) Fetch(_ context.Context, url string, _ time.Duration) (*model.FetchResult, error) {
	html, ok := f.versionHTML[url]
	if !ok {
		return nil, &model.FetchError{URL: url, Err: model.ErrTimeout, Retryable: true}
	}
	return &model.FetchResult{URL: url, HTML: html}, nil
}

func (f *fakeInteractiveScraper) FetchBatch(ctx context.Context, urls []string, _ int, timeout time.Duration) map[string]scraper.FetchOutcome {
	out := make(map[string]scraper.FetchOutcome, len(urls))
	for _, u := range urls {
		r, err := f.Fetch(ctx, u, timeout)
		out[u] = scraper.FetchOutcome{Result: r, Err: err}
	}
	return out
}

func (f *fakeInteractiveScraper) Close() error { return nil }
func (f *fakeInteractiveScraper) Type() string { return "rendered" }

func (f *fakeInteractiveScraper) FetchInteractive(_ context.Context, url string, _ []model.FetchAction) (*model.InteractiveResult, error) {
	return &model.InteractiveResult{OnclickTargets: f.selectorTargets[url]}, nil
}

func (f *fakeInteractiveScraper) FetchIsolated(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error) {
	return f.Fetch(ctx, url, timeout)
}

type fakeMVStore struct {
	sections map[string]*model.Section
	ids      []string
	failures []*model.FailureRecord
}

func (s *fakeMVStore) UpsertSection(_ context.Context, code, sectionID string, patch store.SectionPatch) error {
	key := code + "/" + sectionID
	sec := s.sections[key]
	if sec == nil {
		sec = &model.Section{Code: code, SectionID: sectionID}
	}
	if patch.Versions != nil {
		sec.Versions = patch.Versions
	}
	s.sections[key] = sec
	return nil
}
func (s *fakeMVStore) BulkUpsertSections(context.Context, []store.SectionPatch) error { return nil }
func (s *fakeMVStore) GetSection(_ context.Context, code, sectionID string) (*model.Section, error) {
	return s.sections[code+"/"+sectionID], nil
}
func (s *fakeMVStore) PutCodeArchitecture(context.Context, *model.CodeArchitecture) error { return nil }
func (s *fakeMVStore) GetCodeArchitecture(context.Context, string) (*model.CodeArchitecture, error) {
	return nil, nil
}
func (s *fakeMVStore) SaveCheckpoint(context.Context, *model.Checkpoint) error { return nil }
func (s *fakeMVStore) LoadCheckpoint(context.Context, string, model.Stage) (*model.Checkpoint, error) {
	return nil, nil
}
func (s *fakeMVStore) LogFailure(_ context.Context, rec *model.FailureRecord) error {
	s.failures = append(s.failures, rec)
	return nil
}
func (s *fakeMVStore) ListFailures(context.Context, string, store.FailureFilter) ([]*model.FailureRecord, error) {
	return s.failures, nil
}
func (s *fakeMVStore) UpdateRetryStatus(context.Context, string, string, model.RetryStatus) error {
	return nil
}
func (s *fakeMVStore) IterMultiVersionSections(_ context.Context, _ string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, id := range s.ids {
			if !yield(id) {
				return
			}
		}
	}
}
func (s *fakeMVStore) IterPendingSections(context.Context, string) iter.Seq[string] {
	return func(func(string) bool) {}
}
func (s *fakeMVStore) CountHasContent(context.Context, string) (int, error) { return 0, nil }
func (s *fakeMVStore) Close(context.Context) error                         { return nil }

func testMVConfig() *config.MultiVersionConfig {
	return &config.MultiVersionConfig{
		NavigationTimeout: time.Second,
		SelectorSentinel:  "selectfrommultiples",
		MaxVersions:       5,
	}
}

func TestRunResolvesVersionsForEachSection(t *testing.T) {
	st := &fakeMVStore{
		sections: map[string]*model.Section{
			"CCP/100": {Code: "CCP", SectionID: "100", URL: "https://example.com/100/selector"},
		},
		ids: []string{"100"},
	}
	sc := &fakeInteractiveScraper{
		selectorTargets: map[string][]string{
			"https://example.com/100/selector": {"https://example.com/100/v1", "https://example.com/100/v2"},
		},
		versionHTML: map[string]string{
			"https://example.com/100/v1": `<html><body><div id="main">Current text.</div></body></html>`,
			"https://example.com/100/v2": `<html><body><div id="main">Operative January 1, 2099 future text.</div></body></html>`,
		},
	}

	mv, err := New(sc, st, testMVConfig(), 2, testLogger)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	result, err := mv.Run(context.Background(), "CCP")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if result.ResolvedCount != 1 {
		t.Errorf("expected 1 resolved section, got %d", result.ResolvedCount)
	}
	if result.VersionsFound != 2 {
		t.Errorf("expected 2 versions found, got %d", result.VersionsFound)
	}

	sec := st.sections["CCP/100"]
	if len(sec.Versions) != 2 {
		t.Fatalf("expected 2 persisted versions, got %d", len(sec.Versions))
	}
	if sec.Versions[0].Status != model.VersionCurrent {
		t.Errorf("expected first version current, got %s", sec.Versions[0].Status)
	}
	if sec.Versions[1].Status != model.VersionFuture {
		t.Errorf("expected second version future (operative date in 2099), got %s", sec.Versions[1].Status)
	}
}

func TestRunLogsFailureWhenNoTargetsFound(t *testing.T) {
	st := &fakeMVStore{
		sections: map[string]*model.Section{
			"CCP/200": {Code: "CCP", SectionID: "200", URL: "https://example.com/200/selector"},
		},
		ids: []string{"200"},
	}
	sc := &fakeInteractiveScraper{selectorTargets: map[string][]string{}}

	mv, err := New(sc, st, testMVConfig(), 1, testLogger)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	result, err := mv.Run(context.Background(), "CCP")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if result.FailedCount != 1 {
		t.Errorf("expected 1 failure, got %d", result.FailedCount)
	}
	if len(st.failures) != 1 {
		t.Fatalf("expected 1 logged failure, got %d", len(st.failures))
	}
	if st.failures[0].FailureType != model.FailureMultiVersionTimeout {
		t.Errorf("expected multi_version_timeout classification, got %s", st.failures[0].FailureType)
	}
}

func TestNewRejectsNonInteractiveScraper(t *testing.T) {
	plain := &nonInteractiveScraper{}
	_, err := New(plain, &fakeMVStore{}, testMVConfig(), 1, testLogger)
	if err == nil {
		t.Fatal("expected error constructing MultiVersioner with a non-interactive scraper")
	}
}

type nonInteractiveScraper struct{}

func (nonInteractiveScraper) Fetch(context.Context, string, time.Duration) (*model.FetchResult, error) {
	return nil, nil
}
func (nonInteractiveScraper) FetchBatch(context.Context, []string, int, time.Duration) map[string]scraper.FetchOutcome {
	return nil
}
func (nonInteractiveScraper) Close() error { return nil }
func (nonInteractiveScraper) Type() string { return "static" }
