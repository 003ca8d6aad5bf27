package failurelog

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lexpipe/lexpipe/internal/model"
	"github.com/lexpipe/lexpipe/internal/pipeline"
	"github.com/lexpipe/lexpipe/internal/scraper"
	"github.com/lexpipe/lexpipe/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeFLScraper struct {
	html map[string]string
	errs map[string]error
}

func (f *fakeFLScraper) Fetch(_ context.Context, url string, _ time.Duration) (*model.FetchResult, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return &model.FetchResult{URL: url, HTML: f.html[url]}, nil
}
func (f *fakeFLScraper) FetchBatch(ctx context.Context, urls []string, _ int, timeout time.Duration) map[string]scraper.FetchOutcome {
	out := make(map[string]scraper.FetchOutcome, len(urls))
	for _, u := range urls {
		r, err := f.Fetch(ctx, u, timeout)
		out[u] = scraper.FetchOutcome{Result: r, Err: err}
	}
	return out
}
func (f *fakeFLScraper) Close() error { return nil }
func (f *fakeFLScraper) Type() string { return "fake" }

type fakeFLStore struct {
	sections map[string]model.Section
	failures []*model.FailureRecord
}

func newFakeFLStore() *fakeFLStore {
	return &fakeFLStore{sections: make(map[string]model.Section)}
}

func (s *fakeFLStore) UpsertSection(_ context.Context, code, sectionID string, patch store.SectionPatch) error {
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
func (s *fakeFLStore) BulkUpsertSections(context.Context, []store.SectionPatch) error { return nil }
func (s *fakeFLStore) GetSection(_ context.Context, code, sectionID string) (*model.Section, error) {
	sec, ok := s.sections[code+"/"+sectionID]
	if !ok {
		return nil, nil
	}
	return &sec, nil
}
func (s *fakeFLStore) PutCodeArchitecture(context.Context, *model.CodeArchitecture) error { return nil }
func (s *fakeFLStore) GetCodeArchitecture(context.Context, string) (*model.CodeArchitecture, error) {
	return nil, nil
}
func (s *fakeFLStore) SaveCheckpoint(context.Context, *model.Checkpoint) error { return nil }
func (s *fakeFLStore) LoadCheckpoint(context.Context, string, model.Stage) (*model.Checkpoint, error) {
	return nil, nil
}
func (s *fakeFLStore) LogFailure(_ context.Context, rec *model.FailureRecord) error {
	for i, existing := range s.failures {
		if existing.Code == rec.Code && existing.SectionID == rec.SectionID {
			s.failures[i] = rec
			return nil
		}
	}
	s.failures = append(s.failures, rec)
	return nil
}
func (s *fakeFLStore) ListFailures(_ context.Context, code string, filter store.FailureFilter) ([]*model.FailureRecord, error) {
	var out []*model.FailureRecord
	for _, f := range s.failures {
		if f.Code != code {
			continue
		}
		if filter.RetryStatus != "" && f.RetryStatus != filter.RetryStatus {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
func (s *fakeFLStore) UpdateRetryStatus(_ context.Context, code, sectionID string, status model.RetryStatus) error {
	for _, f := range s.failures {
		if f.Code == code && f.SectionID == sectionID {
			f.RetryStatus = status
		}
	}
	return nil
}
func (s *fakeFLStore) IterPendingSections(context.Context, string) iter.Seq[string] {
	return func(func(string) bool) {}
}
func (s *fakeFLStore) IterMultiVersionSections(context.Context, string) iter.Seq[string] {
	return func(func(string) bool) {}
}
func (s *fakeFLStore) CountHasContent(context.Context, string) (int, error) { return 0, nil }
func (s *fakeFLStore) Close(context.Context) error                         { return nil }

func TestRetrySucceedsAndUpdatesSection(t *testing.T) {
	st := newFakeFLStore()
	rec := model.NewFailureRecord("CCP", "100", "https://example.com/100", model.FailureTimeout, model.StageExtraction, 1, "timed out")
	st.failures = append(st.failures, rec)

	sc := &fakeFLScraper{html: map[string]string{
		"https://example.com/100": `<html><body><div id="main">Resolved text.</div></body></html>`,
	}}

	svc := New(sc, st, pipeline.New(testLogger), 2, time.Second, testLogger)
	result := svc.Retry(context.Background(), "CCP", "100")
	if !result.Succeeded {
		t.Fatalf("expected retry to succeed, got err: %v", result.Err)
	}

	sec, _ := st.GetSection(context.Background(), "CCP", "100")
	if sec == nil || sec.Content == nil {
		t.Fatal("expected section content persisted after retry")
	}
	if st.failures[0].RetryStatus != model.RetrySucceeded {
		t.Errorf("expected retry_status succeeded, got %s", st.failures[0].RetryStatus)
	}
}

func TestRetryReportsErrorWithoutPanickingOnPersistentFailure(t *testing.T) {
	st := newFakeFLStore()
	rec := model.NewFailureRecord("CCP", "200", "https://example.com/200", model.FailureTimeout, model.StageExtraction, 1, "timed out")
	st.failures = append(st.failures, rec)

	sc := &fakeFLScraper{errs: map[string]error{
		"https://example.com/200": &model.FetchError{URL: "https://example.com/200", Err: model.ErrTimeout, Retryable: true},
	}}

	svc := New(sc, st, pipeline.New(testLogger), 2, time.Second, testLogger)
	result := svc.Retry(context.Background(), "CCP", "200")
	if result.Succeeded {
		t.Fatal("expected retry to fail")
	}
	if st.failures[0].RetryStatus != model.RetryFailed {
		t.Errorf("expected retry_status failed, got %s", st.failures[0].RetryStatus)
	}
}

func TestRetryUnknownSectionReturnsError(t *testing.T) {
	st := newFakeFLStore()
	svc := New(&fakeFLScraper{}, st, pipeline.New(testLogger), 1, time.Second, testLogger)
	result := svc.Retry(context.Background(), "CCP", "missing")
	if result.Err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestRetryAllSkipsAbandonedAndNonRetryable(t *testing.T) {
	st := newFakeFLStore()
	retryable := model.NewFailureRecord("CCP", "100", "https://example.com/100", model.FailureTimeout, model.StageExtraction, 1, "timed out")
	repealed := model.NewFailureRecord("CCP", "300", "https://example.com/300", model.FailureRepealed, model.StageExtraction, 1, "repealed")
	abandoned := model.NewFailureRecord("CCP", "400", "https://example.com/400", model.FailureTimeout, model.StageExtraction, 1, "timed out")
	abandoned.RetryStatus = model.RetryAbandoned
	st.failures = append(st.failures, retryable, repealed, abandoned)

	sc := &fakeFLScraper{html: map[string]string{
		"https://example.com/100": `<html><body><div id="main">Resolved text.</div></body></html>`,
	}}

	svc := New(sc, st, pipeline.New(testLogger), 2, time.Second, testLogger)
	result, err := svc.RetryAll(context.Background(), "CCP", store.FailureFilter{})
	if err != nil {
		t.Fatalf("RetryAll error: %v", err)
	}
	if result.Attempted != 1 {
		t.Errorf("expected only the retryable, non-abandoned record attempted, got %d", result.Attempted)
	}
	if result.Succeeded != 1 {
		t.Errorf("expected 1 success, got %d", result.Succeeded)
	}
}

func TestAbandonMarksRetryStatus(t *testing.T) {
	st := newFakeFLStore()
	rec := model.NewFailureRecord("CCP", "500", "https://example.com/500", model.FailureTimeout, model.StageExtraction, 1, "timed out")
	st.failures = append(st.failures, rec)

	svc := New(&fakeFLScraper{}, st, pipeline.New(testLogger), 1, time.Second, testLogger)
	if err := svc.Abandon(context.Background(), "CCP", "500"); err != nil {
		t.Fatalf("Abandon error: %v", err)
	}
	if st.failures[0].RetryStatus != model.RetryAbandoned {
		t.Errorf("expected retry_status abandoned, got %s", st.failures[0].RetryStatus)
	}
}
