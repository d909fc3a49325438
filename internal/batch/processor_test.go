package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricewatch/internal/config"
	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/model"
	"pricewatch/internal/store"
	"pricewatch/internal/sysmon"
)

const fixtureHTML = `<html>
<head><title>Widget | Shop</title></head>
<body>
	<h1 class="product-title">Widget</h1>
	<span class="price">1 299,00 ₽</span>
	<div class="availability">В наличии: 7 шт.</div>
	<p>descriptive product copy long enough to pass the length gate,
	repeated once more to be safe about the minimum html length.</p>
</body>
</html>`

// stubFetcher serves fixture HTML for good URLs and a 500-style
// network error for bad ones, counting attempts per URL.
type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (*fetch.Result, error) {
	s.mu.Lock()
	s.calls[url]++
	failing := s.fail[url]
	s.mu.Unlock()

	if failing {
		return nil, &fetch.NetworkError{URL: url, Status: 500}
	}
	return &fetch.Result{URL: url, HTML: fixtureHTML, Status: 200, Engine: "stub", Elapsed: 10 * time.Millisecond}, nil
}

func (s *stubFetcher) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func testProcessor(f fetch.Fetcher, st store.Store, batchCfg config.BatchConfig) *Processor {
	cfg := config.Default()
	extractor := extract.NewProductExtractor(
		cfg.Extractor, cfg.Selectors, extract.NewSelectorMemory(""), nil, nil, nil, nil)

	p := NewProcessor(batchCfg, f, extractor, st, sysmon.Static{CPU: 10, Mem: 10, AvailMB: 4096}, nil)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestProcessURLBatches_EndToEnd(t *testing.T) {
	f := newStubFetcher()
	st := store.NewMemory()

	var urls []string
	for i := 0; i < 20; i++ {
		urls = append(urls, fmt.Sprintf("https://shop.example/p/%d", i))
	}
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("https://down.example/p/%d", i)
		urls = append(urls, u)
		f.fail[u] = true
	}

	p := testProcessor(f, st, config.BatchConfig{BaseSize: 30, MaxRetries: 3})
	summary, err := p.ProcessURLBatches(context.Background(), urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.ScrapedProducts != 20 {
		t.Fatalf("expected 20 scraped products, got %d", summary.ScrapedProducts)
	}
	if summary.BatchesCompleted < 1 {
		t.Fatalf("expected at least one batch, got %d", summary.BatchesCompleted)
	}
	if len(summary.FailedURLs) != 5 {
		t.Fatalf("expected 5 failed urls, got %v", summary.FailedURLs)
	}
	failed := make(map[string]bool)
	for _, u := range summary.FailedURLs {
		failed[u] = true
	}
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("https://down.example/p/%d", i)
		if !failed[u] {
			t.Fatalf("expected %s among failed urls", u)
		}
	}
	if len(st.Products) != 20 {
		t.Fatalf("expected 20 persisted products, got %d", len(st.Products))
	}
}

func TestProcessURLBatches_RetryExhaustionTerminates(t *testing.T) {
	f := newStubFetcher()
	st := store.NewMemory()

	urls := []string{"https://down.example/p/1"}
	f.fail[urls[0]] = true

	p := testProcessor(f, st, config.BatchConfig{BaseSize: 30, MaxRetries: 2})

	done := make(chan struct{})
	var summary *summaryHolder
	go func() {
		s, err := p.ProcessURLBatches(context.Background(), urls)
		summary = &summaryHolder{s: s, err: err}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("retry exhaustion did not terminate")
	}
	if summary.err != nil {
		t.Fatalf("unexpected error: %v", summary.err)
	}
	if len(summary.s.FailedURLs) != 1 {
		t.Fatalf("expected 1 failed url, got %v", summary.s.FailedURLs)
	}
	// First attempt plus bounded retries, never unbounded.
	if n := f.callCount(urls[0]); n < 2 || n > 10 {
		t.Fatalf("unexpected attempt count %d", n)
	}
}

type summaryHolder struct {
	s   *model.BatchSummary
	err error
}

func TestProcessURLBatches_PersistFailureClassifiedAsDBError(t *testing.T) {
	f := newStubFetcher()
	st := store.NewMemory()
	st.FailWith = errors.New("connection refused")

	urls := []string{"https://shop.example/p/1"}
	p := testProcessor(f, st, config.BatchConfig{BaseSize: 30, MaxRetries: 1})

	summary, err := p.ProcessURLBatches(context.Background(), urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ScrapedProducts != 0 {
		t.Fatalf("expected no scraped products, got %d", summary.ScrapedProducts)
	}
	if len(summary.FailedURLs) != 1 {
		t.Fatalf("expected the url to fail on persistence, got %v", summary.FailedURLs)
	}
}

func TestProcessURLBatches_EmptyInput(t *testing.T) {
	p := testProcessor(newStubFetcher(), store.NewMemory(), config.BatchConfig{BaseSize: 30, MaxRetries: 3})
	summary, err := p.ProcessURLBatches(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ScrapedProducts != 0 || len(summary.FailedURLs) != 0 || summary.BatchesCompleted != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

// cancellingFetcher cancels the run's context after a fixed number of
// fetches, simulating shutdown mid-run.
type cancellingFetcher struct {
	*stubFetcher
	left   int32
	cancel context.CancelFunc
}

func (c *cancellingFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	res, err := c.stubFetcher.Fetch(ctx, url)
	if atomic.AddInt32(&c.left, -1) == 0 {
		c.cancel()
	}
	return res, err
}

func TestProcessURLBatches_CancellationReportsQueuedRetries(t *testing.T) {
	stub := newStubFetcher()
	st := store.NewMemory()

	// Batch one holds 8 good URLs and 2 failing ones that land in the
	// retry queue; cancellation strikes before batch two, so both the
	// queued URLs and the never-attempted ones must be reported failed.
	var urls []string
	for i := 0; i < 8; i++ {
		urls = append(urls, fmt.Sprintf("https://shop.example/p/%d", i))
	}
	for i := 0; i < 2; i++ {
		u := fmt.Sprintf("https://down.example/p/%d", i)
		urls = append(urls, u)
		stub.fail[u] = true
	}
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("https://later.example/p/%d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &cancellingFetcher{stubFetcher: stub, left: 10, cancel: cancel}

	p := testProcessor(f, st, config.BatchConfig{BaseSize: 10, MaxRetries: 2})
	summary, err := p.ProcessURLBatches(ctx, urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.ScrapedProducts != 8 {
		t.Fatalf("expected 8 scraped products before cancellation, got %d", summary.ScrapedProducts)
	}
	if len(summary.FailedURLs) != 7 {
		t.Fatalf("expected 7 failed urls (2 queued + 5 unattempted), got %v", summary.FailedURLs)
	}
	failed := make(map[string]bool)
	for _, u := range summary.FailedURLs {
		failed[u] = true
	}
	for i := 0; i < 2; i++ {
		u := fmt.Sprintf("https://down.example/p/%d", i)
		if !failed[u] {
			t.Fatalf("expected queued retry %s reported failed", u)
		}
	}
}

func TestProcessURLBatches_DegradesToSequentialOnHighFailureRate(t *testing.T) {
	f := newStubFetcher()
	st := store.NewMemory()

	// First batch fails almost entirely, forcing sequential fallback
	// for everything left.
	var urls []string
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("https://down.example/p/%d", i)
		urls = append(urls, u)
		f.fail[u] = true
	}
	for i := 0; i < 8; i++ {
		urls = append(urls, fmt.Sprintf("https://shop.example/p/%d", i))
	}

	p := testProcessor(f, st, config.BatchConfig{BaseSize: 10, MaxRetries: 1})
	summary, err := p.ProcessURLBatches(context.Background(), urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Healthy URLs still succeed through the sequential path.
	if summary.ScrapedProducts != 8 {
		t.Fatalf("expected 8 scraped products, got %d", summary.ScrapedProducts)
	}
	if len(summary.FailedURLs) != 12 {
		t.Fatalf("expected 12 failed urls, got %d", len(summary.FailedURLs))
	}
}
