package controller

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const indexHTML = `<html><body>
<a href="https://example.com/ccp/100">100. First section text.</a>
<a href="https://example.com/ccp/200">200. Second section text.</a>
</body></html>`

type fakeCScraper struct {
	html map[string]string
}

func (f *fakeCScraper) Fetch(_ context.Context, url string, _ time.Duration) (*model.FetchResult, error) {
	html, ok := f.html[url]
	if !ok {
		return &model.FetchResult{URL: url, HTML: `<html><body><div id="main">section text</div></body></html>`}, nil
	}
	return &model.FetchResult{URL: url, HTML: html}, nil
}
func (f *fakeCScraper) FetchBatch(ctx context.Context, urls []string, _ int, timeout time.Duration) map[string]scraper.FetchOutcome {
	out := make(map[string]scraper.FetchOutcome, len(urls))
	for _, u := range urls {
		r, err := f.Fetch(ctx, u, timeout)
		out[u] = scraper.FetchOutcome{Result: r, Err: err}
	}
	return out
}
func (f *fakeCScraper) Close() error { return nil }
func (f *fakeCScraper) Type() string { return "fake" }

type fakeCStore struct {
	arch        *model.CodeArchitecture
	sections    map[string]model.Section
	checkpoints map[string]*model.Checkpoint
	failures    []*model.FailureRecord
}

func newFakeCStore() *fakeCStore {
	return &fakeCStore{sections: make(map[string]model.Section), checkpoints: make(map[string]*model.Checkpoint)}
}

func (s *fakeCStore) UpsertSection(_ context.Context, code, sectionID string, patch store.SectionPatch) error {
	key := code + "/" + sectionID
	sec := s.sections[key]
	sec.Code, sec.SectionID = code, sectionID
	if patch.Content != nil {
		sec.Content = patch.Content
	}
	if patch.IsMultiVersion != nil {
		sec.IsMultiVersion = *patch.IsMultiVersion
	}
	s.sections[key] = sec
	return nil
}
func (s *fakeCStore) BulkUpsertSections(ctx context.Context, patches []store.SectionPatch) error {
	for _, p := range patches {
		if err := s.UpsertSection(ctx, p.Code, p.SectionID, p); err != nil {
			return err
		}
	}
	return nil
}
func (s *fakeCStore) GetSection(_ context.Context, code, sectionID string) (*model.Section, error) {
	sec, ok := s.sections[code+"/"+sectionID]
	if !ok {
		return nil, nil
	}
	return &sec, nil
}
func (s *fakeCStore) PutCodeArchitecture(_ context.Context, arch *model.CodeArchitecture) error {
	s.arch = arch
	return nil
}
func (s *fakeCStore) GetCodeArchitecture(_ context.Context, _ string) (*model.CodeArchitecture, error) {
	return s.arch, nil
}
func (s *fakeCStore) SaveCheckpoint(_ context.Context, cp *model.Checkpoint) error {
	s.checkpoints[cp.Key()] = cp
	return nil
}
func (s *fakeCStore) LoadCheckpoint(_ context.Context, code string, stage model.Stage) (*model.Checkpoint, error) {
	return s.checkpoints[code+"/"+string(stage)], nil
}
func (s *fakeCStore) LogFailure(_ context.Context, rec *model.FailureRecord) error {
	s.failures = append(s.failures, rec)
	return nil
}
func (s *fakeCStore) ListFailures(_ context.Context, _ string, _ store.FailureFilter) ([]*model.FailureRecord, error) {
	return s.failures, nil
}
func (s *fakeCStore) UpdateRetryStatus(context.Context, string, string, model.RetryStatus) error {
	return nil
}
func (s *fakeCStore) IterPendingSections(_ context.Context, _ string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if s.arch == nil {
			return
		}
		for _, entry := range s.arch.URLManifest {
			if sec, ok := s.sections[s.arch.Code+"/"+entry.SectionID]; ok && sec.HasContent() {
				continue
			}
			if !yield(entry.URL) {
				return
			}
		}
	}
}
func (s *fakeCStore) IterMultiVersionSections(_ context.Context, _ string) iter.Seq[string] {
	return func(func(string) bool) {}
}
func (s *fakeCStore) CountHasContent(_ context.Context, _ string) (int, error) { return 0, nil }
func (s *fakeCStore) Close(context.Context) error                             { return nil }

func testCfg() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Extractor.RetryBaseDelay = time.Millisecond
	cfg.Extractor.RequestTimeout = time.Second
	cfg.Reconcile.MaxPasses = 1
	return cfg
}

func TestRunCompletesAllStagesWithoutRenderedScraper(t *testing.T) {
	st := newFakeCStore()
	sc := &fakeCScraper{html: map[string]string{
		"https://example.com/ccp/index": indexHTML,
	}}

	ctl := New(testCfg(), sc, nil, st, pipeline.New(testLogger), testLogger)
	report, err := ctl.Run(context.Background(), "CCP", Options{IndexURL: "https://example.com/ccp/index"})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if report.TotalIndexed == 0 {
		t.Error("expected discovery to index at least one section")
	}

	var sawMultiVersionSkip bool
	for _, stage := range report.Stages {
		if stage.Stage == "multi_version" && stage.Skipped {
			sawMultiVersionSkip = true
		}
	}
	if !sawMultiVersionSkip {
		t.Error("expected multi_version stage skipped when no rendered scraper is configured")
	}
}

func TestRunFailsWithoutIndexURLAndNoExistingArchitecture(t *testing.T) {
	st := newFakeCStore()
	sc := &fakeCScraper{}

	ctl := New(testCfg(), sc, nil, st, pipeline.New(testLogger), testLogger)
	_, err := ctl.Run(context.Background(), "CCP", Options{})
	if err == nil {
		t.Fatal("expected error when no index URL is given and no architecture exists")
	}
}

func TestRunRejectsStartWhenNotIdle(t *testing.T) {
	st := newFakeCStore()
	sc := &fakeCScraper{html: map[string]string{"https://example.com/ccp/index": indexHTML}}

	ctl := New(testCfg(), sc, nil, st, pipeline.New(testLogger), testLogger)
	ctl.state.Store(int32(StateStopping))

	_, err := ctl.Run(context.Background(), "CCP", Options{IndexURL: "https://example.com/ccp/index"})
	if err == nil {
		t.Fatal("expected error starting a run while already in a non-idle state")
	}
}

func TestStopTransitionsRunningToStopping(t *testing.T) {
	ctl := New(testCfg(), &fakeCScraper{}, nil, newFakeCStore(), pipeline.New(testLogger), testLogger)
	ctl.state.Store(int32(StateRunning))
	ctl.Stop()
	if ctl.State() != StateStopping {
		t.Errorf("expected state stopping, got %s", ctl.State())
	}
}
