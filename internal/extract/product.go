package extract

import (
	"context"
	"strings"
	"time"

	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	lru "github.com/hashicorp/golang-lru/v2"

	"pricewatch/internal/browser"
	"pricewatch/internal/config"
	"pricewatch/internal/fetch"
	"pricewatch/internal/metrics"
	"pricewatch/internal/model"
)

// VariationExtractor is implemented by the variations registry. It is
// injected rather than imported so the two packages stay decoupled.
type VariationExtractor interface {
	Extract(ctx context.Context, source, html, url, cmsType string) []model.VariationRecord
}

// ProductExtractor turns a page into a structured product record. One
// instance owns its caches and adaptive memory for the lifetime of a
// run; independent pipelines construct independent extractors.
type ProductExtractor struct {
	cfg       config.ExtractorConfig
	selCfg    config.SelectorsConfig
	resolver  *Resolver
	memory    *SelectorMemory
	cms       *CMSDetector
	pool      *browser.Pool
	render    *fetch.RenderClient
	metrics   *metrics.Metrics
	variation VariationExtractor

	htmlCache *lru.Cache[string, string]
	docCache  *lru.Cache[string, *goquery.Document]
}

func NewProductExtractor(
	cfg config.ExtractorConfig,
	selCfg config.SelectorsConfig,
	memory *SelectorMemory,
	pool *browser.Pool,
	render *fetch.RenderClient,
	variation VariationExtractor,
	m *metrics.Metrics,
) *ProductExtractor {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	htmlCache, _ := lru.New[string, string](size)
	docCache, _ := lru.New[string, *goquery.Document](size)

	cms := NewCMSDetector(size)
	return &ProductExtractor{
		cfg:       cfg,
		selCfg:    selCfg,
		resolver:  NewResolver(selCfg, cms, memory, m),
		memory:    memory,
		cms:       cms,
		pool:      pool,
		render:    render,
		metrics:   m,
		variation: variation,
		htmlCache: htmlCache,
		docCache:  docCache,
	}
}

// ParseProductFromHTML extracts a product record from statically
// supplied HTML, with no live page involved.
func (e *ProductExtractor) ParseProductFromHTML(ctx context.Context, html, url string) (*model.ProductRecord, error) {
	if len(strings.TrimSpace(html)) < e.minHTMLLength() {
		return nil, &ExtractionError{URL: url, Reason: "html missing or too short"}
	}
	e.htmlCache.Add(url, html)
	return e.extract(ctx, url, html, nil)
}

// ParseProductOptimized extracts through a pooled browser page. The
// page is acquired and released here; release always happens, whatever
// the extraction outcome.
func (e *ProductExtractor) ParseProductOptimized(ctx context.Context, url, proxyURL, userAgent string) (*model.ProductRecord, error) {
	domain := domainOf(url)

	bctx, err := e.pool.AcquireContext(domain, proxyURL, userAgent)
	if err != nil {
		return nil, &ExtractionError{URL: url, Reason: "browser context unavailable: " + err.Error()}
	}
	page, err := e.pool.AcquirePage(bctx)
	if err != nil {
		return nil, &ExtractionError{URL: url, Reason: "page unavailable: " + err.Error()}
	}
	defer e.pool.ReleasePage(page, bctx)

	html, err := e.acquireHTML(ctx, page, url)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, url, html, page)
}

// acquireHTML navigates the page, lets dynamic content settle, and
// reads the rendered DOM. Cached HTML short-circuits renavigation on
// retries of the same URL.
func (e *ProductExtractor) acquireHTML(ctx context.Context, page *rod.Page, url string) (string, error) {
	if html, ok := e.htmlCache.Get(url); ok {
		return html, nil
	}

	if !e.pool.Navigate(ctx, page, url, browser.WaitDOMStable, e.cfg.NavTimeout()) {
		return "", &ExtractionError{URL: url, Reason: "navigation failed"}
	}
	select {
	case <-ctx.Done():
		return "", &ExtractionError{URL: url, Reason: "cancelled while settling"}
	case <-time.After(e.cfg.SettleDelay()):
	}

	html, err := page.HTML()
	if err != nil || len(strings.TrimSpace(html)) < e.minHTMLLength() {
		return "", &ExtractionError{URL: url, Reason: "rendered html missing or too short"}
	}

	e.htmlCache.Add(url, html)
	return html, nil
}

// extract runs the per-field stages. Stages are independently fault
// tolerant; missing fields degrade to a partial record, and only a
// record with neither name nor price comes back as an error.
func (e *ProductExtractor) extract(ctx context.Context, url, html string, page *rod.Page) (*model.ProductRecord, error) {
	start := time.Now()
	rec := &model.ProductRecord{URL: url}
	var problems []string

	doc := e.document(html)
	cms := e.cms.Detect(html, "")

	if name, _, ok := e.resolveField(ctx, FieldName, url, html, doc, page); ok {
		rec.Name = &name
	} else {
		problems = append(problems, "name not found")
	}

	var badPrice string
	if raw, bad, ok := e.resolveField(ctx, FieldPrice, url, html, doc, page); ok {
		rec.Price = ParsePrice(raw)
		rec.BasePrice = rec.Price
	} else {
		badPrice = bad
	}
	if rec.Price == nil {
		problems = append(problems, "price not found")
	}
	nameMissing, priceMissing := rec.Name == nil, rec.Price == nil

	e.extractStock(ctx, rec, url, html, doc, page, &problems)

	if e.variation != nil {
		rec.Variations = e.variation.Extract(ctx, cms.Type, html, url, cms.Type)
	}
	e.metrics.IncVariations(len(rec.Variations))

	e.captureSEO(rec, doc)
	e.assemble(rec, problems)

	elapsed := time.Since(start)
	if len(problems) > 0 {
		slog.Debug("partial extraction", "url", url, "problems", problems, "elapsed", elapsed)
	}

	if nameMissing && priceMissing {
		if badPrice != "" {
			return nil, &ParsingError{Field: FieldPrice, Raw: badPrice}
		}
		return nil, &ValidationError{Field: FieldName, Reason: "neither name nor price extracted"}
	}
	e.metrics.IncProducts(1)
	return rec, nil
}

// extractStock resolves the stock field and, when the whole chain
// comes up empty, falls back to the rendered-markdown scan.
func (e *ProductExtractor) extractStock(ctx context.Context, rec *model.ProductRecord, url, html string, doc *goquery.Document, page *rod.Page, problems *[]string) {
	if raw, _, ok := e.resolveField(ctx, FieldStock, url, html, doc, page); ok {
		label := StockLabel(raw)
		rec.Stock = &label
		if qty, parsed := ParseStockQuantity(raw); parsed {
			rec.StockQuantity = qty
			rec.InStock = qty == nil || *qty > 0
		} else {
			rec.InStock = label == "in_stock"
		}
		return
	}

	if e.render != nil {
		rctx, cancel := e.render.DeadlineFor(ctx)
		defer cancel()
		if markdown, err := e.render.Markdown(rctx, url, html); err == nil {
			if qty, inStock, found := fetch.StockFromMarkdown(markdown); found {
				label := "out_of_stock"
				if inStock {
					label = "in_stock"
				}
				rec.Stock = &label
				rec.StockQuantity = qty
				rec.InStock = inStock
				return
			}
		}
	}

	*problems = append(*problems, "stock not found")
}

// resolveField walks the selector chain for a field, trying the live
// page first and falling back to the static document. Every attempt's
// outcome is fed back into the adaptive memory; for price and stock, a
// selector whose text does not parse counts as a failure. badRaw
// carries the first matched text that failed the field's parser, so
// callers can tell "nothing matched" apart from "matched garbage".
func (e *ProductExtractor) resolveField(ctx context.Context, field Field, url, html string, doc *goquery.Document, page *rod.Page) (text, badRaw string, ok bool) {
	chain := e.resolver.Resolve(ctx, ChainRequest{
		Field: field,
		URL:   url,
		HTML:  html,
		Doc:   doc,
	})
	domain := domainOf(url)

	if page != nil {
		for _, sel := range chain {
			text, matched := e.tryPage(page, sel)
			if matched && e.acceptable(field, text) {
				e.memory.RecordSuccess(ctx, domain, field, sel)
				e.metrics.IncSelectorAttempt(field.String(), "success")
				return text, "", true
			}
			if matched && badRaw == "" {
				badRaw = text
			}
			e.memory.RecordFailure(ctx, domain, field, sel)
			e.metrics.IncSelectorAttempt(field.String(), "failure")
		}
	}

	if doc == nil {
		return "", badRaw, false
	}
	for _, sel := range chain {
		text, matched := tryDoc(doc, sel)
		if matched && e.acceptable(field, text) {
			e.memory.RecordSuccess(ctx, domain, field, sel)
			e.metrics.IncSelectorAttempt(field.String(), "success")
			return text, "", true
		}
		if matched && badRaw == "" {
			badRaw = text
		}
		e.memory.RecordFailure(ctx, domain, field, sel)
		e.metrics.IncSelectorAttempt(field.String(), "failure")
	}
	return "", badRaw, false
}

// tryPage attempts one selector against the live page with a bounded
// visibility wait. Any driver error is a plain miss, not a fault.
func (e *ProductExtractor) tryPage(page *rod.Page, sel string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()

	el, err := page.Timeout(e.selCfg.VisibilityWait()).Element(sel)
	if err != nil || el == nil {
		return "", false
	}
	text, err = el.Text()
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

func tryDoc(doc *goquery.Document, sel string) (string, bool) {
	s := doc.Find(sel).First()
	if s.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(s.Text())
	if text == "" {
		// Fall back to content/value attributes for meta-style tags.
		if v, ok := s.Attr("content"); ok {
			text = strings.TrimSpace(v)
		}
	}
	return text, text != ""
}

// acceptable applies the field's parser as the validity gate: matching
// an element is not enough if the text cannot become a typed value.
func (e *ProductExtractor) acceptable(field Field, text string) bool {
	switch field {
	case FieldPrice:
		return ParsePrice(text) != nil
	case FieldStock:
		_, ok := ParseStockQuantity(text)
		if !ok {
			ok = StockLabel(text) != "unknown"
		}
		return ok
	default:
		return text != ""
	}
}

func (e *ProductExtractor) captureSEO(rec *model.ProductRecord, doc *goquery.Document) {
	if doc == nil {
		return
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		rec.SEOH1 = &h1
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		rec.SEOTitle = &title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			rec.SEOMetaDescription = &desc
		}
	}
}

// assemble applies the record-population policy. Under the zero-filled
// policy missing numerics become explicit zeros and in_stock is derived
// strictly from stock_quantity.
func (e *ProductExtractor) assemble(rec *model.ProductRecord, problems []string) {
	if len(problems) > 0 {
		rec.Error = strings.Join(problems, "; ")
	}
	if e.cfg.ReturnNilOnMissing {
		return
	}

	if rec.Price == nil {
		zero := 0.0
		rec.Price = &zero
	}
	if rec.BasePrice == nil {
		rec.BasePrice = rec.Price
	}
	if rec.StockQuantity == nil {
		zero := 0
		rec.StockQuantity = &zero
	}
	if rec.Stock == nil {
		label := "unknown"
		rec.Stock = &label
	}
	rec.InStock = *rec.StockQuantity > 0
}

func (e *ProductExtractor) document(html string) *goquery.Document {
	key := contentKey(html)
	if doc, ok := e.docCache.Get(key); ok {
		return doc
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		slog.Debug("html parse failed", "error", err)
		return nil
	}
	e.docCache.Add(key, doc)
	return doc
}

func (e *ProductExtractor) minHTMLLength() int {
	if e.cfg.MinHTMLLength > 0 {
		return e.cfg.MinHTMLLength
	}
	return 100
}
