package fetch

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	robotstxt "github.com/temoto/robotstxt"

	"pricewatch/internal/config"
	"pricewatch/internal/metrics"
	"pricewatch/internal/proxy"
	"pricewatch/internal/sysmon"
)

type proxyCtxKey struct{}

// hard ceiling for advisory concurrency scaling.
const maxAdvisoryConcurrency = 100

// HTTPFetcher fetches pages with a plain HTTP client, rotating proxies
// and user agents per request, enforcing per-domain spacing and a
// token-bucket request rate, and watching for 403/429 storms within a
// sliding 60s window.
type HTTPFetcher struct {
	cfg     config.HTTPConfig
	rotator *proxy.Rotator
	monitor sysmon.Sampler
	breaker *Breaker
	metrics *metrics.Metrics
	client  *http.Client

	bucket *tokenBucket

	domainMu   sync.Mutex
	domainLast map[string]time.Time

	windowMu  sync.Mutex
	rlWindow  []time.Time
	rlFactor  float64

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.RobotsData

	concurrency atomic.Int32
	reqCount    atomic.Int64

	rndMu sync.Mutex
	rnd   *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func NewHTTPFetcher(cfg config.HTTPConfig, rotator *proxy.Rotator, monitor sysmon.Sampler, breaker *Breaker, m *metrics.Metrics) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		Proxy: func(req *http.Request) (*url.URL, error) {
			v, _ := req.Context().Value(proxyCtxKey{}).(string)
			if v == "" {
				return nil, nil
			}
			return url.Parse(v)
		},
	}

	f := &HTTPFetcher{
		cfg:        cfg,
		rotator:    rotator,
		monitor:    monitor,
		breaker:    breaker,
		metrics:    m,
		client:     &http.Client{Transport: transport, Timeout: cfg.Timeout()},
		bucket:     newTokenBucket(cfg.RequestsPerSecond),
		domainLast: make(map[string]time.Time),
		rlFactor:   1,
		robots:     make(map[string]*robotstxt.RobotsData),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepCtx,
	}

	start := cfg.MaxConcurrency
	if start <= 0 {
		start = 20
	}
	if start > maxAdvisoryConcurrency {
		start = maxAdvisoryConcurrency
	}
	f.concurrency.Store(int32(start))
	return f
}

// Concurrency returns the currently advised fetch concurrency. This is
// a hint for the batch layer, not hard admission control.
func (f *HTTPFetcher) Concurrency() int {
	return int(f.concurrency.Load())
}

// Fetch retrieves url, retrying transient failures with exponential
// backoff plus jitter. 403/429 responses back off and retry; other
// non-2xx statuses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	host := u.Hostname()

	if !f.breaker.Allow(host) {
		f.metrics.IncFetch("http", "circuit_open")
		return nil, &NetworkError{URL: rawURL, Err: ErrCircuitOpen}
	}

	if f.cfg.RespectRobots && !f.allowedByRobots(ctx, u) {
		f.metrics.IncFetch("http", "robots")
		return nil, &NetworkError{URL: rawURL, Err: ErrRobotsDisallowed}
	}

	f.maybeAdjustConcurrency()

	var lastErr error
	attempts := f.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, f.backoffDelay(attempt)); err != nil {
				return nil, &NetworkError{URL: rawURL, Err: err}
			}
		}

		if err := f.waitDomain(ctx, host); err != nil {
			return nil, &NetworkError{URL: rawURL, Err: err}
		}
		if err := f.bucket.take(ctx); err != nil {
			return nil, &NetworkError{URL: rawURL, Err: err}
		}

		res, retry, err := f.once(ctx, rawURL)
		if err == nil {
			f.breaker.Success(host)
			f.metrics.IncFetch("http", "ok")
			f.metrics.ObserveFetch(res.Elapsed)
			return res, nil
		}

		f.breaker.Failure(host)
		lastErr = err
		if !retry {
			f.metrics.IncFetch("http", "error")
			return nil, err
		}
		f.metrics.IncFetch("http", "retry")
	}

	f.metrics.IncFetch("http", "exhausted")
	if ne, ok := lastErr.(*NetworkError); ok {
		return nil, ne
	}
	return nil, &NetworkError{URL: rawURL, Err: lastErr}
}

// once performs a single request. The second return value reports
// whether the failure is retryable.
func (f *HTTPFetcher) once(ctx context.Context, rawURL string) (*Result, bool, error) {
	reqCtx := context.WithValue(ctx, proxyCtxKey{}, f.rotator.NextProxy())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, &NetworkError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.rotator.NextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	f.reqCount.Add(1)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		f.recordRateLimited()
		return nil, true, &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &NetworkError{URL: rawURL, Err: err}
	}

	return &Result{
		URL:     rawURL,
		HTML:    string(body),
		Status:  resp.StatusCode,
		Engine:  "http",
		Elapsed: time.Since(start),
	}, false, nil
}

// backoffDelay computes base * multiplier^attempt plus up to one second
// of jitter, clamped to [min, max] and scaled by the current rate-limit
// factor.
func (f *HTTPFetcher) backoffDelay(attempt int) time.Duration {
	mult := f.cfg.BackoffMultiplier
	if mult <= 1 {
		mult = 2
	}

	f.windowMu.Lock()
	factor := f.rlFactor
	f.windowMu.Unlock()

	base := float64(f.cfg.BaseDelay()) * math.Pow(mult, float64(attempt)) * factor

	f.rndMu.Lock()
	jitter := f.rnd.Float64()
	f.rndMu.Unlock()

	d := time.Duration(base) + time.Duration(jitter*float64(time.Second))
	if min := f.cfg.MinDelay(); d < min {
		d = min
	}
	if max := f.cfg.MaxDelay(); d > max {
		d = max
	}
	return d
}

// recordRateLimited notes a 403/429 in the sliding window. Crossing the
// threshold within 60s halves the advised concurrency and inflates
// subsequent backoff delays.
func (f *HTTPFetcher) recordRateLimited() {
	now := time.Now()
	cutoff := now.Add(-60 * time.Second)

	f.windowMu.Lock()
	kept := f.rlWindow[:0]
	for _, t := range f.rlWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	f.rlWindow = append(kept, now)
	tripped := f.cfg.RateLimitThreshold > 0 && len(f.rlWindow) >= f.cfg.RateLimitThreshold
	if tripped {
		factor := f.cfg.RateLimitBackoffFactor
		if factor <= 1 {
			factor = 2
		}
		f.rlFactor *= factor
		if f.rlFactor > 16 {
			f.rlFactor = 16
		}
		f.rlWindow = f.rlWindow[:0]
	}
	f.windowMu.Unlock()

	if tripped {
		f.halveConcurrency()
		slog.Warn("rate limit window tripped, scaling down", "concurrency", f.Concurrency())
	}
}

// maybeAdjustConcurrency samples system resources every N requests and
// scales the advised concurrency: halve under pressure, double when
// both metrics have recovered well clear of their thresholds.
func (f *HTTPFetcher) maybeAdjustConcurrency() {
	every := int64(f.cfg.ResourceCheckEvery)
	if every <= 0 || f.monitor == nil {
		return
	}
	if f.reqCount.Load()%every != 0 {
		return
	}

	cpu := f.monitor.CPUPercent()
	availMB := f.monitor.AvailableMemoryMB()

	switch {
	case cpu > f.cfg.CPUThresholdPct || availMB < f.cfg.MinAvailableMemoryMB:
		f.halveConcurrency()
		slog.Debug("resource pressure, halving fetch concurrency",
			"cpu", cpu, "avail_mb", availMB, "concurrency", f.Concurrency())
	case cpu < f.cfg.CPUThresholdPct*0.7 && availMB > f.cfg.MinAvailableMemoryMB*2:
		f.doubleConcurrency()
	}
}

func (f *HTTPFetcher) halveConcurrency() {
	for {
		cur := f.concurrency.Load()
		next := cur / 2
		if next < 1 {
			next = 1
		}
		if f.concurrency.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (f *HTTPFetcher) doubleConcurrency() {
	for {
		cur := f.concurrency.Load()
		next := cur * 2
		if next > maxAdvisoryConcurrency {
			next = maxAdvisoryConcurrency
		}
		if f.concurrency.CompareAndSwap(cur, next) {
			return
		}
	}
}

// waitDomain sleeps until the per-domain minimum spacing has elapsed
// since that domain's last issued request.
func (f *HTTPFetcher) waitDomain(ctx context.Context, host string) error {
	minDelay := f.cfg.MinDomainDelay()
	if minDelay <= 0 {
		return nil
	}

	f.domainMu.Lock()
	last, ok := f.domainLast[host]
	now := time.Now()
	var wait time.Duration
	if ok {
		if due := last.Add(minDelay); due.After(now) {
			wait = due.Sub(now)
		}
	}
	// Record the issue time up front so concurrent callers space off us.
	f.domainLast[host] = now.Add(wait)
	f.domainMu.Unlock()

	if wait > 0 {
		return f.sleep(ctx, wait)
	}
	return nil
}

func (f *HTTPFetcher) allowedByRobots(ctx context.Context, u *url.URL) bool {
	host := u.Hostname()

	f.robotsMu.Lock()
	data, ok := f.robots[host]
	f.robotsMu.Unlock()

	if !ok {
		robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
		if err != nil {
			return true
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return true
		}
		defer resp.Body.Close()

		data, err = robotstxt.FromResponse(resp)
		if err != nil {
			data = nil
		}

		f.robotsMu.Lock()
		f.robots[host] = data
		f.robotsMu.Unlock()
	}

	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, "pricewatch")
}

// tokenBucket is a simple rate limiter refilled continuously at rate
// tokens per second; take blocks until a token is available.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	rate   float64
	last   time.Time
}

func newTokenBucket(rate float64) *tokenBucket {
	if rate <= 0 {
		rate = 10
	}
	return &tokenBucket{tokens: rate, rate: rate, last: time.Now()}
}

func (b *tokenBucket) take(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.tokens += now.Sub(b.last).Seconds() * b.rate
		if b.tokens > b.rate {
			b.tokens = b.rate
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := (1 - b.tokens) / b.rate
		b.mu.Unlock()

		if err := sleepCtx(ctx, time.Duration(deficit*float64(time.Second))); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
