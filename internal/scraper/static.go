package scraper

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/model"
)

// StaticScraper implements Scraper using net/http plus a goquery HTML
// parse. It is the lightweight variant used for tree discovery (Stage 1)
// and most of Stage 2's extraction.
type StaticScraper struct {
	client *http.Client
	cfg    *config.ScraperConfig
	logger *slog.Logger
}

// NewStaticScraper builds a StaticScraper from configuration.
func NewStaticScraper(cfg *config.ScraperConfig, logger *slog.Logger) (*StaticScraper, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
		DisableCompression:  true, // decompression handled manually below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.MaxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		CheckRedirect: redirectPolicy,
	}

	return &StaticScraper{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "static_scraper"),
	}, nil
}

// Type identifies this scraper implementation.
func (s *StaticScraper) Type() string { return "static" }

// Close releases idle connections.
func (s *StaticScraper) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Fetch retrieves url, respecting timeout, and parses links out of the
// response body via goquery.
func (s *StaticScraper) Fetch(ctx context.Context, url string, timeout time.Duration) (*model.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: false}
	}
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	httpResp, err := s.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &model.FetchError{URL: url, Err: model.ErrTimeout, Retryable: true}
		}
		return nil, &model.FetchError{URL: url, Err: err, Retryable: isRetryableNetErr(err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		return nil, &model.FetchError{
			URL: url, StatusCode: httpResp.StatusCode,
			Err: fmt.Errorf("HTTP 429: rate limited (retry after %s)", retryAfter),
			Retryable: true, RetryAfter: retryAfter,
		}
	}
	if httpResp.StatusCode >= 500 {
		return nil, &model.FetchError{
			URL: url, StatusCode: httpResp.StatusCode,
			Err: fmt.Errorf("HTTP %d from %s", httpResp.StatusCode, url), Retryable: true,
		}
	}
	if httpResp.StatusCode >= 400 {
		return nil, &model.FetchError{
			URL: url, StatusCode: httpResp.StatusCode,
			Err: fmt.Errorf("HTTP %d from %s", httpResp.StatusCode, url), Retryable: false,
		}
	}

	var reader io.Reader = httpResp.Body
	if s.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, s.cfg.MaxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: false}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err, Retryable: true}
	}

	links, err := extractLinks(string(body), url)
	if err != nil {
		s.logger.Warn("link extraction failed", "url", url, "error", err)
	}

	s.logger.Debug("fetch complete", "url", url, "status", httpResp.StatusCode, "size", len(body), "duration", duration)

	return &model.FetchResult{
		URL:      url,
		HTML:     string(body),
		Links:    links,
		Status:   httpResp.StatusCode,
		Duration: duration,
	}, nil
}

// FetchBatch fetches urls with up to batchSize requests in flight at
// once, canceling and recording a timeout for any request exceeding
// 2x timeout. See §4.1.
func (s *StaticScraper) FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]FetchOutcome {
	return fetchBatchGeneric(ctx, s, urls, batchSize, timeout)
}

// fetchBatchGeneric is shared by StaticScraper and RenderedScraper: both
// implement Fetch and differ only in per-request behavior, so the batch
// fan-out/hang-timeout logic lives once.
func fetchBatchGeneric(ctx context.Context, s Scraper, urls []string, batchSize int, timeout time.Duration) map[string]FetchOutcome {
	results := make(map[string]FetchOutcome, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, batchSize)
	hangTimeout := 2 * timeout

	for _, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(u string) {
			defer wg.Done()
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, hangTimeout)
			defer cancel()

			done := make(chan FetchOutcome, 1)
			go func() {
				res, err := s.Fetch(reqCtx, u, timeout)
				done <- FetchOutcome{Result: res, Err: err}
			}()

			select {
			case out := <-done:
				mu.Lock()
				results[u] = out
				mu.Unlock()
			case <-reqCtx.Done():
				mu.Lock()
				results[u] = FetchOutcome{Err: &model.FetchError{URL: u, Err: model.ErrTimeout, Retryable: true}}
				mu.Unlock()
			}
		}(u)
	}

	wg.Wait()
	return results
}

func extractLinks(html, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links, nil
}

func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return true
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			if d > 2*time.Minute {
				return 2 * time.Minute
			}
			return d
		}
	}
	return 5 * time.Second
}
