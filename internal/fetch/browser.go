package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"log/slog"

	"github.com/go-rod/rod"

	"pricewatch/internal/browser"
	"pricewatch/internal/config"
	"pricewatch/internal/metrics"
	"pricewatch/internal/proxy"
)

// BrowserFetcher renders pages through the shared browser pool. It is
// the heavier channel used when a site needs JavaScript to produce its
// product markup.
type BrowserFetcher struct {
	pool    *browser.Pool
	cfg     config.PoolConfig
	rotator *proxy.Rotator
	breaker *Breaker
	metrics *metrics.Metrics
	stealth bool

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewBrowserFetcher(pool *browser.Pool, cfg config.PoolConfig, rotator *proxy.Rotator, breaker *Breaker, m *metrics.Metrics) *BrowserFetcher {
	return &BrowserFetcher{
		pool:    pool,
		cfg:     cfg,
		rotator: rotator,
		breaker: breaker,
		metrics: m,
		stealth: cfg.Stealth,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fetch navigates a pooled page to rawURL and returns the rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	domain := u.Hostname()

	if !f.breaker.Allow(domain) {
		f.metrics.IncFetch("browser", "circuit_open")
		return nil, &NetworkError{URL: rawURL, Err: ErrCircuitOpen}
	}

	proxyURL := f.rotator.NextProxy()
	userAgent := f.rotator.NextUserAgent()

	bctx, err := f.pool.AcquireContext(domain, proxyURL, userAgent)
	if err != nil {
		f.breaker.Failure(domain)
		f.metrics.IncFetch("browser", "error")
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	page, err := f.pool.AcquirePage(bctx)
	if err != nil {
		f.breaker.Failure(domain)
		f.metrics.IncFetch("browser", "error")
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer f.pool.ReleasePage(page, bctx)

	wait := browser.WaitLoad
	if f.stealth {
		wait = browser.WaitDOMStable
	}

	start := time.Now()
	if !f.pool.Navigate(ctx, page, rawURL, wait, f.cfg.NavTimeout()) {
		f.breaker.Failure(domain)
		f.metrics.IncFetch("browser", "nav_error")
		return nil, &NavigationError{URL: rawURL, Timeout: true}
	}

	if f.stealth {
		f.humanize(page)
	}

	html, err := page.HTML()
	if err != nil {
		f.breaker.Failure(domain)
		f.metrics.IncFetch("browser", "error")
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	f.breaker.Success(domain)
	elapsed := time.Since(start)
	f.metrics.IncFetch("browser", "ok")
	f.metrics.ObserveFetch(elapsed)

	return &Result{
		URL:     rawURL,
		HTML:    html,
		Status:  200,
		Engine:  "browser",
		Elapsed: elapsed,
	}, nil
}

// humanize scrolls partway down the page and pauses briefly so lazy
// content loads and the visit looks less mechanical. Failures here are
// never fatal.
func (f *BrowserFetcher) humanize(page *rod.Page) {
	f.rndMu.Lock()
	frac := 0.3 + f.rnd.Float64()*0.5
	pause := time.Duration(200+f.rnd.Intn(600)) * time.Millisecond
	f.rndMu.Unlock()

	if _, err := page.Eval(`(frac) => window.scrollTo(0, document.body.scrollHeight * frac)`, frac); err != nil {
		slog.Debug("humanize scroll failed", "error", err)
		return
	}
	time.Sleep(pause)
}
