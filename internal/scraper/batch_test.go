package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexpipe/lexpipe/internal/model"
)

// fakeScraper lets tests control per-URL latency without a real network
// call, mirroring the engine package's hand-rolled fakes.
type fakeScraper struct {
	delay map[string]time.Duration
}

func (f *fakeScraper) Fetch(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error) {
	d := f.delay[url]
	select {
	case <-time.After(d):
		return &model.FetchResult{URL: url, HTML: "<html></html>", Status: 200}, nil
	case <-ctx.Done():
		return nil, &model.FetchError{URL: url, Err: model.ErrTimeout, Retryable: true}
	}
}

func (f *fakeScraper) FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]FetchOutcome {
	return fetchBatchGeneric(ctx, f, urls, batchSize, timeout)
}

func (f *fakeScraper) Close() error { return nil }
func (f *fakeScraper) Type() string { return "fake" }

func TestFetchBatchAllSucceed(t *testing.T) {
	f := &fakeScraper{delay: map[string]time.Duration{
		"a": 10 * time.Millisecond,
		"b": 20 * time.Millisecond,
	}}
	results := f.FetchBatch(context.Background(), []string{"a", "b"}, 2, time.Second)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for u, out := range results {
		if out.Err != nil {
			t.Errorf("%s: unexpected error %v", u, out.Err)
		}
	}
}

func TestFetchBatchHangTimeoutCancelsSlowRequest(t *testing.T) {
	f := &fakeScraper{delay: map[string]time.Duration{
		"slow": 5 * time.Second,
	}}
	timeout := 10 * time.Millisecond
	results := f.FetchBatch(context.Background(), []string{"slow"}, 1, timeout)

	out, ok := results["slow"]
	if !ok {
		t.Fatal("expected a result for the slow URL")
	}
	if out.Err == nil {
		t.Fatal("expected a timeout error for the slow URL")
	}
	var fetchErr *model.FetchError
	if !errors.As(out.Err, &fetchErr) {
		t.Fatalf("expected a *model.FetchError, got %T", out.Err)
	}
}
