package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"pricewatch/internal/config"
	"pricewatch/internal/proxy"
	"pricewatch/internal/sysmon"
)

func testHTTPFetcher(cfg config.HTTPConfig) *HTTPFetcher {
	f := NewHTTPFetcher(cfg, proxy.NewRotator(nil, nil, 1), sysmon.Static{}, NewBreaker(50, time.Minute, nil), nil)
	f.sleep = func(context.Context, time.Duration) error { return nil }
	httpmock.ActivateNonDefault(f.client)
	return f
}

func baseHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		RetryAttempts:     3,
		RequestsPerSecond: 1000,
	}
}

func TestHTTPFetcher_Success(t *testing.T) {
	f := testHTTPFetcher(baseHTTPConfig())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://shop.example/p/1",
		httpmock.NewStringResponder(200, "<html>product</html>"))

	res, err := f.Fetch(context.Background(), "https://shop.example/p/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 200 || res.HTML != "<html>product</html>" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Engine != "http" {
		t.Fatalf("expected http engine, got %q", res.Engine)
	}
}

func TestHTTPFetcher_ServerErrorFailsWithoutRetry(t *testing.T) {
	f := testHTTPFetcher(baseHTTPConfig())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://shop.example/p/1",
		httpmock.NewStringResponder(500, "boom"))

	_, err := f.Fetch(context.Background(), "https://shop.example/p/1")
	if err == nil {
		t.Fatalf("expected error for 500")
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T", err)
	}
	if netErr.Status != 500 {
		t.Fatalf("expected status 500, got %d", netErr.Status)
	}
	if n := httpmock.GetTotalCallCount(); n != 1 {
		t.Fatalf("non-2xx must not retry, got %d calls", n)
	}
}

func TestHTTPFetcher_RateLimitedRetriesWithBackoff(t *testing.T) {
	f := testHTTPFetcher(baseHTTPConfig())
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("GET", "https://shop.example/p/1",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(429, "slow down"), nil
			}
			return httpmock.NewStringResponse(200, "<html>ok</html>"), nil
		})

	res, err := f.Fetch(context.Background(), "https://shop.example/p/1")
	if err != nil {
		t.Fatalf("expected 429s to be retried, got error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if res.Status != 200 {
		t.Fatalf("expected eventual 200, got %d", res.Status)
	}
}

func TestHTTPFetcher_ExhaustedRetriesReturnNetworkError(t *testing.T) {
	f := testHTTPFetcher(baseHTTPConfig())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://shop.example/p/1",
		httpmock.NewStringResponder(429, "never"))

	_, err := f.Fetch(context.Background(), "https://shop.example/p/1")
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T", err)
	}
	if n := httpmock.GetTotalCallCount(); n != 3 {
		t.Fatalf("expected exactly RetryAttempts calls, got %d", n)
	}
}

func TestHTTPFetcher_CircuitOpenShortCircuits(t *testing.T) {
	cfg := baseHTTPConfig()
	f := NewHTTPFetcher(cfg, proxy.NewRotator(nil, nil, 1), sysmon.Static{}, NewBreaker(1, time.Minute, nil), nil)
	f.sleep = func(context.Context, time.Duration) error { return nil }
	httpmock.ActivateNonDefault(f.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://down.example/p/1",
		httpmock.NewStringResponder(500, "down"))

	if _, err := f.Fetch(context.Background(), "https://down.example/p/1"); err == nil {
		t.Fatalf("expected first fetch to fail")
	}

	_, err := f.Fetch(context.Background(), "https://down.example/p/1")
	if err == nil || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
}

func TestHTTPFetcher_BackoffDelayClamped(t *testing.T) {
	cfg := baseHTTPConfig()
	cfg.BaseDelayMs = 100
	cfg.MinDelayMs = 50
	cfg.MaxDelayMs = 400
	f := testHTTPFetcher(cfg)
	defer httpmock.DeactivateAndReset()

	for attempt := 0; attempt < 10; attempt++ {
		d := f.backoffDelay(attempt)
		if d < 50*time.Millisecond || d > 400*time.Millisecond {
			t.Fatalf("attempt %d delay %v outside [50ms,400ms]", attempt, d)
		}
	}
}

func TestHTTPFetcher_RateLimitWindowHalvesConcurrency(t *testing.T) {
	cfg := baseHTTPConfig()
	cfg.MaxConcurrency = 40
	cfg.RateLimitThreshold = 3
	cfg.RateLimitBackoffFactor = 2
	f := testHTTPFetcher(cfg)
	defer httpmock.DeactivateAndReset()

	for i := 0; i < 3; i++ {
		f.recordRateLimited()
	}
	if got := f.Concurrency(); got != 20 {
		t.Fatalf("expected concurrency halved to 20, got %d", got)
	}
}
