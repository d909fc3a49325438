// Package browser manages a bounded pool of rod browsers, per-domain
// incognito contexts, and reusable pages. Launching a browser and
// opening a page are expensive; the pool exists so batch processing can
// hammer many product pages without paying that cost per URL.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"pricewatch/internal/config"
)

// WaitStrategy selects how Navigate decides a page is ready.
type WaitStrategy string

const (
	WaitLoad      WaitStrategy = "load"
	WaitDOMStable WaitStrategy = "domstable"
)

type browserEntry struct {
	browser  *rod.Browser
	cleanup  func()
	proxy    string
	lastUsed time.Time
}

type pageEntry struct {
	page     *rod.Page
	lastUsed time.Time
}

// Context wraps a pooled incognito browser context bound to one
// (domain, proxy) pair, together with its page pool. All fields are
// owned by the pool and mutated only under the pool mutex.
type Context struct {
	browser   *rod.Browser
	owner     *browserEntry
	domain    string
	proxy     string
	userAgent string
	lastUsed  time.Time
	pages     []*pageEntry
}

type ctxKey struct {
	domain string
	proxy  string
}

// Pool owns browsers, contexts, and pages. Construct with NewPool,
// tear down with Close. A single Pool is safe for concurrent use.
type Pool struct {
	cfg config.PoolConfig

	mu       sync.Mutex
	browsers map[string][]*browserEntry // keyed by proxy ("" = direct)
	contexts map[ctxKey][]*Context
	closed   bool

	navSem chan struct{}

	// resetPage and destroyPage are the only page operations the
	// pooling bookkeeping performs, split out so release, overflow,
	// and sweep paths can run without a live browser.
	resetPage   func(*rod.Page) error
	destroyPage func(*rod.Page) error

	// Running navigation stats, updated incrementally (no stored list).
	statMu     sync.Mutex
	navCount   int64
	navAvgMs   float64
	pageReuses int64

	sweepCancel context.CancelFunc
}

func NewPool(cfg config.PoolConfig) *Pool {
	maxNavs := cfg.MaxConcurrentNavs
	if maxNavs <= 0 {
		maxNavs = 8
	}

	p := &Pool{
		cfg:      cfg,
		browsers: make(map[string][]*browserEntry),
		contexts: make(map[ctxKey][]*Context),
		navSem:   make(chan struct{}, maxNavs),
	}
	p.resetPage = func(pg *rod.Page) error {
		return pg.Timeout(5 * time.Second).Navigate("about:blank")
	}
	p.destroyPage = func(pg *rod.Page) error { return pg.Close() }

	sweepCtx, cancel := context.WithCancel(context.Background())
	p.sweepCancel = cancel
	go p.sweepLoop(sweepCtx)

	return p
}

// AcquireContext returns a pooled context for the (domain, proxy) pair,
// creating browsers and contexts on demand within the configured caps.
func (p *Pool) AcquireContext(domain, proxyURL, userAgent string) (*Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("browser pool is closed")
	}

	key := ctxKey{domain: domain, proxy: proxyURL}
	if list := p.contexts[key]; len(list) > 0 {
		// Reuse the most recently registered context and move it back
		// to the head of the domain's list.
		ctx := list[0]
		ctx.lastUsed = time.Now()
		ctx.owner.lastUsed = ctx.lastUsed
		return ctx, nil
	}

	owner, err := p.selectBrowserLocked(proxyURL)
	if err != nil {
		return nil, err
	}

	bctx, err := owner.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}

	ctx := &Context{
		browser:   bctx,
		owner:     owner,
		domain:    domain,
		proxy:     proxyURL,
		userAgent: userAgent,
		lastUsed:  time.Now(),
	}
	owner.lastUsed = ctx.lastUsed

	// Register at the head; evict the oldest when the domain exceeds
	// its context cap. Closing happens off the lock path.
	list := append([]*Context{ctx}, p.contexts[key]...)
	maxPerDomain := p.cfg.MaxContextsPerDomain
	if maxPerDomain <= 0 {
		maxPerDomain = 4
	}
	if len(list) > maxPerDomain {
		evicted := list[len(list)-1]
		list = list[:len(list)-1]
		go p.closeContext(evicted)
	}
	p.contexts[key] = list

	return ctx, nil
}

// selectBrowserLocked picks or launches a browser for the proxy key.
// Cap order: launch while under both per-proxy and global limits, then
// reuse the LRU browser in the same proxy pool, then the oldest across
// all pools, then launch anyway as a last resort.
func (p *Pool) selectBrowserLocked(proxyURL string) (*browserEntry, error) {
	maxGlobal := p.cfg.MaxBrowsers
	if maxGlobal <= 0 {
		maxGlobal = 3
	}
	maxPerProxy := p.cfg.MaxBrowsersPerProxy
	if maxPerProxy <= 0 {
		maxPerProxy = maxGlobal
	}

	total := 0
	for _, list := range p.browsers {
		total += len(list)
	}
	sameProxy := p.browsers[proxyURL]

	if len(sameProxy) < maxPerProxy && total < maxGlobal {
		entry, err := p.launchBrowser(proxyURL)
		if err != nil {
			return nil, err
		}
		p.browsers[proxyURL] = append(sameProxy, entry)
		return entry, nil
	}

	if len(sameProxy) > 0 {
		return lruBrowser(sameProxy), nil
	}

	if total >= maxGlobal {
		var oldest *browserEntry
		for _, list := range p.browsers {
			for _, e := range list {
				if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
					oldest = e
				}
			}
		}
		if oldest != nil {
			return oldest, nil
		}
	}

	// Should not be reachable, but never deadlock the pipeline over a
	// bookkeeping hole.
	entry, err := p.launchBrowser(proxyURL)
	if err != nil {
		return nil, err
	}
	p.browsers[proxyURL] = append(p.browsers[proxyURL], entry)
	return entry, nil
}

func lruBrowser(list []*browserEntry) *browserEntry {
	chosen := list[0]
	for _, e := range list[1:] {
		if e.lastUsed.Before(chosen.lastUsed) {
			chosen = e
		}
	}
	chosen.lastUsed = time.Now()
	return chosen
}

func (p *Pool) launchBrowser(proxyURL string) (*browserEntry, error) {
	var controlURL string
	cleanup := func() {}

	if p.cfg.BrowserURL != "" {
		controlURL = p.cfg.BrowserURL
	} else {
		l := launcher.New().Headless(p.cfg.Headless)
		if proxyURL != "" {
			l = l.Proxy(proxyURL)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		cleanup = l.Cleanup
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	slog.Debug("browser launched", "proxy", proxyURL)
	return &browserEntry{browser: b, cleanup: cleanup, proxy: proxyURL, lastUsed: time.Now()}, nil
}

// AcquirePage pops a pooled page from the context, or creates and
// optimizes a new one.
func (p *Pool) AcquirePage(ctx *Context) (*rod.Page, error) {
	p.mu.Lock()
	if n := len(ctx.pages); n > 0 {
		entry := ctx.pages[n-1]
		ctx.pages = ctx.pages[:n-1]
		ctx.lastUsed = time.Now()
		p.mu.Unlock()

		p.statMu.Lock()
		p.pageReuses++
		p.statMu.Unlock()
		return entry.page, nil
	}
	p.mu.Unlock()

	page, err := ctx.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := p.optimizePage(page, ctx.userAgent); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// optimizePage applies resource blocking, UA override, and stealth
// init scripts to a fresh page.
func (p *Pool) optimizePage(page *rod.Page, userAgent string) error {
	if userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	if patterns := blockedPatterns(p.cfg.BlockedResourceTypes); len(patterns) > 0 {
		if err := (proto.NetworkEnable{}).Call(page); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if err := (proto.NetworkSetBlockedURLs{Urls: patterns}).Call(page); err != nil {
			return fmt.Errorf("block resources: %w", err)
		}
	}

	if p.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealthInitScript); err != nil {
			return fmt.Errorf("inject stealth script: %w", err)
		}
	}

	return nil
}

// blockedPatterns maps logical resource types to URL patterns usable
// with Network.setBlockedURLs.
func blockedPatterns(types []string) []string {
	var patterns []string
	for _, t := range types {
		switch t {
		case "image":
			patterns = append(patterns, "*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico")
		case "font":
			patterns = append(patterns, "*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot")
		case "media":
			patterns = append(patterns, "*.mp4", "*.webm", "*.mp3", "*.avi", "*.mov")
		case "stylesheet":
			patterns = append(patterns, "*.css")
		}
	}
	return patterns
}

// stealthInitScript hides the most common headless fingerprints before
// any site script runs.
const stealthInitScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['ru-RU', 'ru', 'en-US'] });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
	window.chrome = window.chrome || { runtime: {} };
}`

// ReleasePage returns a page to its context's pool. When the pool is at
// capacity the page is closed; otherwise it is reset to about:blank
// first; a page that cannot even reach about:blank is closed rather
// than pooled broken.
func (p *Pool) ReleasePage(page *rod.Page, ctx *Context) {
	if page == nil || ctx == nil {
		return
	}

	maxPages := p.cfg.MaxPagesPerContext
	if maxPages <= 0 {
		maxPages = 3
	}

	p.mu.Lock()
	full := len(ctx.pages) >= maxPages
	p.mu.Unlock()

	if full {
		if err := p.destroyPage(page); err != nil {
			slog.Warn("close overflow page", "error", err)
		}
		return
	}

	if err := p.resetPage(page); err != nil {
		slog.Warn("blank reset failed, closing page", "error", err)
		if cerr := p.destroyPage(page); cerr != nil {
			slog.Warn("close broken page", "error", cerr)
		}
		return
	}

	p.mu.Lock()
	ctx.pages = append(ctx.pages, &pageEntry{page: page, lastUsed: time.Now()})
	ctx.lastUsed = time.Now()
	p.mu.Unlock()
}

// Navigate drives the page to url under the global navigation
// semaphore. It reports success; timeouts and navigation errors are
// logged and folded into false rather than propagated, and elapsed time
// always lands in the running navigation average.
func (p *Pool) Navigate(ctx context.Context, page *rod.Page, url string, wait WaitStrategy, timeout time.Duration) bool {
	select {
	case p.navSem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-p.navSem }()

	if timeout <= 0 {
		timeout = p.cfg.NavTimeout()
	}

	start := time.Now()
	err := p.doNavigate(page, url, wait, timeout)
	p.recordNav(time.Since(start))

	if err != nil {
		slog.Warn("navigation failed", "url", url, "error", err)
		return false
	}
	return true
}

func (p *Pool) doNavigate(page *rod.Page, url string, wait WaitStrategy, timeout time.Duration) error {
	bounded := page.Timeout(timeout)
	if err := bounded.Navigate(url); err != nil {
		return err
	}
	switch wait {
	case WaitDOMStable:
		return bounded.WaitDOMStable(300*time.Millisecond, 0)
	default:
		return bounded.WaitLoad()
	}
}

// recordNav folds one navigation duration into the incremental mean.
func (p *Pool) recordNav(elapsed time.Duration) {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	p.navCount++
	ms := float64(elapsed.Milliseconds())
	p.navAvgMs += (ms - p.navAvgMs) / float64(p.navCount)
}

// AvgNavTime returns the running mean navigation time, or zero when no
// navigation has completed yet.
func (p *Pool) AvgNavTime() time.Duration {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	return time.Duration(p.navAvgMs) * time.Millisecond
}

// PageReuses returns how many times a pooled page was handed out again.
func (p *Pool) PageReuses() int64 {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	return p.pageReuses
}

// sweepLoop periodically evicts idle pages, then contexts, then
// browsers. It exits cleanly on cancellation.
func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(time.Now())
		}
	}
}

func (p *Pool) sweep(now time.Time) {
	pageIdle := p.cfg.PageIdleTimeout()
	ctxIdle := p.cfg.ContextIdleTimeout()
	browserIdle := p.cfg.BrowserIdleTimeout()

	var stalePages []*rod.Page
	var staleContexts []*Context
	var staleBrowsers []*browserEntry

	p.mu.Lock()
	for key, list := range p.contexts {
		kept := list[:0]
		for _, c := range list {
			// Evict idle pages inside the context first.
			keptPages := c.pages[:0]
			for _, pe := range c.pages {
				if now.Sub(pe.lastUsed) > pageIdle {
					stalePages = append(stalePages, pe.page)
				} else {
					keptPages = append(keptPages, pe)
				}
			}
			c.pages = keptPages

			if now.Sub(c.lastUsed) > ctxIdle {
				staleContexts = append(staleContexts, c)
				for _, pe := range c.pages {
					stalePages = append(stalePages, pe.page)
				}
				c.pages = nil
			} else {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(p.contexts, key)
		} else {
			p.contexts[key] = kept
		}
	}

	for proxy, list := range p.browsers {
		kept := list[:0]
		for _, e := range list {
			if now.Sub(e.lastUsed) > browserIdle && !p.browserInUseLocked(e) {
				staleBrowsers = append(staleBrowsers, e)
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.browsers, proxy)
		} else {
			p.browsers[proxy] = kept
		}
	}
	p.mu.Unlock()

	for _, pg := range stalePages {
		if err := p.destroyPage(pg); err != nil {
			slog.Debug("sweep close page", "error", err)
		}
	}
	for _, c := range staleContexts {
		p.closeContext(c)
	}
	for _, e := range staleBrowsers {
		p.closeBrowser(e)
	}

	if len(stalePages)+len(staleContexts)+len(staleBrowsers) > 0 {
		slog.Debug("idle sweep",
			"pages", len(stalePages),
			"contexts", len(staleContexts),
			"browsers", len(staleBrowsers))
	}
}

func (p *Pool) browserInUseLocked(e *browserEntry) bool {
	for _, list := range p.contexts {
		for _, c := range list {
			if c.owner == e {
				return true
			}
		}
	}
	return false
}

func (p *Pool) closeContext(c *Context) {
	for _, pe := range c.pages {
		if err := p.destroyPage(pe.page); err != nil {
			slog.Debug("close pooled page", "error", err)
		}
	}
	if c.browser == nil {
		return
	}
	if err := c.browser.Close(); err != nil {
		slog.Debug("close browser context", "error", err)
	}
}

func (p *Pool) closeBrowser(e *browserEntry) {
	if err := e.browser.Close(); err != nil {
		slog.Debug("close browser", "error", err)
	}
	e.cleanup()
}

// Close cancels the sweep, then closes every context and browser.
// Teardown is best effort: individual close failures are logged and
// never block the rest of the shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	contexts := p.contexts
	browsers := p.browsers
	p.contexts = make(map[ctxKey][]*Context)
	p.browsers = make(map[string][]*browserEntry)
	p.mu.Unlock()

	p.sweepCancel()

	for _, list := range contexts {
		for _, c := range list {
			p.closeContext(c)
		}
	}
	for _, list := range browsers {
		for _, e := range list {
			p.closeBrowser(e)
		}
	}

	slog.Info("browser pool closed")
	return nil
}
