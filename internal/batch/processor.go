// Package batch turns large URL lists into processed product records
// with adaptive sizing, categorized retries, and sequential fallback
// when the error rate or memory pressure makes concurrency unsafe.
package batch

import (
	"context"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"pricewatch/internal/config"
	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/metrics"
	"pricewatch/internal/model"
	"pricewatch/internal/store"
	"pricewatch/internal/sysmon"
)

// concurrencyAdvisor is implemented by fetchers that scale their own
// concurrency, such as the HTTP channel.
type concurrencyAdvisor interface {
	Concurrency() int
}

// Processor drives the fetch, extract, persist pipeline over batches.
type Processor struct {
	cfg       config.BatchConfig
	fetcher   fetch.Fetcher
	extractor *extract.ProductExtractor
	db        store.Store
	monitor   sysmon.Sampler
	metrics   *metrics.Metrics

	history      []model.BatchMetrics
	lastAvgFetch time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor wires the pipeline. db may be nil for dry runs; every
// other collaborator is required.
func NewProcessor(cfg config.BatchConfig, fetcher fetch.Fetcher, extractor *extract.ProductExtractor, db store.Store, monitor sysmon.Sampler, m *metrics.Metrics) *Processor {
	return &Processor{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		db:        db,
		monitor:   monitor,
		metrics:   m,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepCtx,
	}
}

// ProcessURLBatches is the pipeline entry point. It never fails a run
// because URLs failed; failures come back in the summary.
func (p *Processor) ProcessURLBatches(ctx context.Context, urls []string) (*model.BatchSummary, error) {
	summary := &model.BatchSummary{RunID: uuid.New()}
	if len(urls) == 0 {
		return summary, nil
	}

	queue := newRetryQueue()
	exhausted := make(map[string]struct{})
	remaining := urls

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			// Report queued retries as failed too, not just the URLs
			// that were never attempted.
			summary.FailedURLs = append(summary.FailedURLs, p.drainQueue(queue)...)
			summary.FailedURLs = append(summary.FailedURLs, remaining...)
			return summary, nil
		}

		size := ComputeBatchSize(p.cfg.BaseSize, p.monitor, p.netSignal(), p.history)
		if size > len(remaining) {
			size = len(remaining)
		}
		cur := remaining[:size]
		remaining = remaining[size:]

		m := p.runBatch(ctx, cur, queue, summary)
		p.history = append(p.history, m)
		p.metrics.RecordBatch(m.URLsCount, m.SuccessRate)
		summary.BatchesCompleted++

		memPct := 0.0
		if p.monitor != nil {
			memPct = p.monitor.MemoryPercent()
		}
		if m.SuccessRate < 0.5 || memPct > 95 {
			slog.Warn("degrading to sequential processing",
				"success_rate", m.SuccessRate, "memory_pct", memPct)
			p.sequential(ctx, append(p.drainQueue(queue), remaining...), summary, nil)
			remaining = nil
			break
		}
	}

	p.retryFailures(ctx, queue, summary, exhausted)

	if p.overallSuccessRate(summary, len(urls)) < 0.7 {
		leftover := p.drainQueue(queue)
		if len(leftover) > 0 {
			slog.Warn("overall success rate low, sequential last resort", "urls", len(leftover))
			p.sequential(ctx, leftover, summary, exhausted)
		}
	}

	summary.FailedURLs = append(summary.FailedURLs, p.drainQueue(queue)...)
	for url := range exhausted {
		summary.FailedURLs = append(summary.FailedURLs, url)
	}

	slog.Info("batch run complete",
		"run_id", summary.RunID,
		"scraped", summary.ScrapedProducts,
		"variations", summary.Variations,
		"failed", len(summary.FailedURLs),
		"batches", summary.BatchesCompleted)
	return summary, nil
}

// runBatch processes one batch concurrently. A panic below the per-URL
// level requeues the whole batch under batch_error rather than taking
// the run down.
func (p *Processor) runBatch(ctx context.Context, batch []string, queue *retryQueue, summary *model.BatchSummary) (m model.BatchMetrics) {
	start := time.Now()
	m = model.BatchMetrics{URLsCount: len(batch), Timestamp: start}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch dispatch failed", "panic", r, "urls", len(batch))
			queue.addAll(CategoryBatch, batch)
			m.Errors = len(batch)
			m.Successes = 0
		}
		m.Duration = time.Since(start)
		if m.URLsCount > 0 {
			m.SuccessRate = float64(m.Successes) / float64(m.URLsCount)
		}
		if secs := m.Duration.Seconds(); secs > 0 {
			m.URLsPerSec = float64(m.URLsCount) / secs
		}
	}()

	limit := len(batch)
	if adv, ok := p.fetcher.(concurrencyAdvisor); ok {
		if c := adv.Concurrency(); c > 0 && c < limit {
			limit = c
		}
	}
	if limit < 1 {
		limit = 1
	}

	var mu sync.Mutex
	var totalFetch time.Duration
	sem := make(chan struct{}, limit)

	for _, url := range batch {
		sem <- struct{}{}
		go func(u string) {
			defer func() { <-sem }()

			variations, elapsed, err := p.handleURL(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			totalFetch += elapsed
			if err != nil {
				m.Errors++
				queue.add(Classify(err), u)
				slog.Debug("url failed", "url", u, "category", Classify(err), "error", err)
				return
			}
			m.Successes++
			summary.ScrapedProducts++
			summary.Variations += variations
		}(url)
	}
	for i := 0; i < cap(sem); i++ {
		sem <- struct{}{}
	}

	if m.URLsCount > 0 {
		p.lastAvgFetch = totalFetch / time.Duration(m.URLsCount)
	}
	return m
}

// handleURL runs one URL through fetch, extract, and persist, and
// returns the variation count on success.
func (p *Processor) handleURL(ctx context.Context, url string) (int, time.Duration, error) {
	res, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, 0, err
	}

	rec, err := p.extractor.ParseProductFromHTML(ctx, res.HTML, url)
	if err != nil {
		return 0, res.Elapsed, err
	}

	if p.db != nil {
		id, err := p.db.InsertProduct(ctx, rec)
		if err != nil {
			return 0, res.Elapsed, err
		}
		if len(rec.Variations) > 0 {
			if _, err := p.db.InsertVariations(ctx, id, rec.Variations, domainOf(url)); err != nil {
				return 0, res.Elapsed, err
			}
		}
	}

	return len(rec.Variations), res.Elapsed, nil
}

// retryFailures replays each category's queue with shrinking batches
// and growing backoff until the category succeeds or runs out of
// retries.
func (p *Processor) retryFailures(ctx context.Context, queue *retryQueue, summary *model.BatchSummary, exhausted map[string]struct{}) {
	maxRetries := p.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for queue.pending() > 0 {
		progressed := false
		for _, cat := range queue.categories() {
			round := queue.retries[cat]
			if round >= maxRetries {
				urls := queue.take(cat)
				for _, u := range urls {
					exhausted[u] = struct{}{}
				}
				slog.Warn("retry budget exhausted", "category", cat, "dropped", len(urls))
				continue
			}
			queue.retries[cat]++
			p.metrics.IncRetry(string(cat))
			progressed = true

			urls := queue.take(cat)
			size := len(urls) / (1 << queue.retries[cat])
			if size < 5 {
				size = 5
			}

			delay := time.Duration(math.Pow(2, float64(queue.retries[cat])))*time.Second + p.jitter()
			if err := p.sleep(ctx, delay); err != nil {
				queue.addAll(cat, urls)
				return
			}

			for len(urls) > 0 {
				n := size
				if n > len(urls) {
					n = len(urls)
				}
				p.runBatch(ctx, urls[:n], queue, summary)
				summary.BatchesCompleted++
				urls = urls[n:]
			}
		}
		if !progressed {
			return
		}
	}
}

// sequential processes URLs strictly one at a time, skipping URLs that
// already spent their retry budget. Failures here are final.
func (p *Processor) sequential(ctx context.Context, urls []string, summary *model.BatchSummary, exhausted map[string]struct{}) {
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			summary.FailedURLs = append(summary.FailedURLs, url)
			continue
		}
		if exhausted != nil {
			if _, done := exhausted[url]; done {
				continue
			}
		}

		variations, _, err := p.handleURL(ctx, url)
		if err != nil {
			summary.FailedURLs = append(summary.FailedURLs, url)
			slog.Debug("sequential fallback failed", "url", url, "error", err)
			continue
		}
		summary.ScrapedProducts++
		summary.Variations += variations
	}
}

// netSignal estimates network capacity from the last batch's average
// fetch time: fast responses invite larger batches, slow ones do not.
func (p *Processor) netSignal() float64 {
	switch {
	case p.lastAvgFetch == 0:
		return 1.0
	case p.lastAvgFetch < time.Second:
		return 1.5
	case p.lastAvgFetch < 3*time.Second:
		return 1.0
	default:
		return 0.5
	}
}

func (p *Processor) overallSuccessRate(summary *model.BatchSummary, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(summary.ScrapedProducts) / float64(total)
}

func (p *Processor) drainQueue(queue *retryQueue) []string {
	var out []string
	for _, cat := range queue.categories() {
		out = append(out, queue.take(cat)...)
	}
	return out
}

func (p *Processor) jitter() time.Duration {
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return time.Duration(p.rnd.Float64() * float64(time.Second))
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
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
