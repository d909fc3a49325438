package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/config"
	"pricewatch/internal/metrics"
)

// Field identifies the product attribute a selector chain resolves.
type Field int

const (
	FieldName Field = iota
	FieldPrice
	FieldStock
)

func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldPrice:
		return "price"
	case FieldStock:
		return "stock"
	default:
		return "unknown"
	}
}

// ChainStep is one source of selectors in the resolution chain.
type ChainStep int

const (
	StepConfig ChainStep = iota
	StepCMS
	StepAdaptive
	StepManual
)

func (s ChainStep) String() string {
	switch s {
	case StepConfig:
		return "config_selectors"
	case StepCMS:
		return "cms_selectors"
	case StepAdaptive:
		return "adaptive_selectors"
	case StepManual:
		return "manual_detection"
	default:
		return "unknown"
	}
}

var defaultSteps = []ChainStep{StepConfig, StepCMS, StepAdaptive, StepManual}

// ParseChainSteps maps configured step names onto typed steps. Unknown
// names are skipped with a debug log; an empty result falls back to the
// default ordering.
func ParseChainSteps(names []string) []ChainStep {
	steps := make([]ChainStep, 0, len(names))
	for _, name := range names {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "config_selectors":
			steps = append(steps, StepConfig)
		case "cms_selectors":
			steps = append(steps, StepCMS)
		case "adaptive_selectors":
			steps = append(steps, StepAdaptive)
		case "manual_detection":
			steps = append(steps, StepManual)
		default:
			slog.Debug("unknown selector chain step, skipping", "step", name)
		}
	}
	if len(steps) == 0 {
		return defaultSteps
	}
	return steps
}

// ChainRequest describes one resolution call.
type ChainRequest struct {
	Field   Field
	URL     string
	HTML    string
	Doc     *goquery.Document
	CMSHint string
}

// Resolver builds the ordered, deduplicated selector list for a field
// by merging static config, CMS tables, adaptive memory, and HTML
// heuristics.
type Resolver struct {
	cfg     config.SelectorsConfig
	steps   []ChainStep
	cms     *CMSDetector
	memory  *SelectorMemory
	metrics *metrics.Metrics
}

func NewResolver(cfg config.SelectorsConfig, cms *CMSDetector, memory *SelectorMemory, m *metrics.Metrics) *Resolver {
	return &Resolver{
		cfg:     cfg,
		steps:   ParseChainSteps(cfg.Steps),
		cms:     cms,
		memory:  memory,
		metrics: m,
	}
}

// Resolve produces the selector chain for req. Duplicates keep their
// first-seen position, so a selector learned adaptively never jumps
// ahead of the same selector appearing in static config.
func (r *Resolver) Resolve(ctx context.Context, req ChainRequest) []string {
	seen := make(map[string]struct{})
	var chain []string
	add := func(selectors []string) {
		for _, sel := range selectors {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				continue
			}
			if _, dup := seen[sel]; dup {
				continue
			}
			seen[sel] = struct{}{}
			chain = append(chain, sel)
		}
	}

	for _, step := range r.steps {
		switch step {
		case StepConfig:
			add(fieldList(r.cfg.Static, req.Field))
		case StepCMS:
			add(r.cmsSelectors(req))
		case StepAdaptive:
			k := r.cfg.AdaptiveTopK
			if k <= 0 {
				k = 5
			}
			add(r.memory.Top(ctx, domainOf(req.URL), req.Field, k))
		case StepManual:
			add(manualDetect(req, manualCap))
		}
	}

	return chain
}

// cmsSelectors merges a platform's primary and fallback tables, but
// only when detection confidence clears the configured threshold.
func (r *Resolver) cmsSelectors(req ChainRequest) []string {
	res := r.cms.Detect(req.HTML, req.CMSHint)
	if res.Type == "" || res.Confidence < r.cfg.CMSThreshold {
		return nil
	}
	tables, ok := r.cfg.CMS[res.Type]
	if !ok {
		return nil
	}
	out := fieldList(tables.Primary, req.Field)
	return append(out, fieldList(tables.Fallback, req.Field)...)
}

func fieldList(fs config.FieldSelectors, field Field) []string {
	switch field {
	case FieldName:
		return fs.Name
	case FieldPrice:
		return fs.Price
	case FieldStock:
		return fs.Stock
	default:
		return nil
	}
}

const manualCap = 3

// manualKeywords drive the heuristic class-name scan per field.
var manualKeywords = map[Field][]string{
	FieldName:  {"title", "name", "product-name", "heading"},
	FieldPrice: {"price", "cost", "amount", "cena", "руб"},
	FieldStock: {"stock", "avail", "quantity", "nalich", "sklad"},
}

var cssToken = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// manualDetect scans the document for tag+class combinations whose
// class tokens contain a field keyword, returning at most limit
// CSS-syntactically safe selectors.
func manualDetect(req ChainRequest, limit int) []string {
	doc := req.Doc
	if doc == nil {
		if req.HTML == "" {
			return nil
		}
		var err error
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(req.HTML))
		if err != nil {
			return nil
		}
	}

	keywords := manualKeywords[req.Field]
	seen := make(map[string]struct{})
	var out []string

	doc.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		for _, token := range strings.Fields(class) {
			if !cssToken.MatchString(token) {
				continue
			}
			lower := strings.ToLower(token)
			matched := false
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			sel := goquery.NodeName(s) + "." + token
			if _, dup := seen[sel]; dup {
				continue
			}
			seen[sel] = struct{}{}
			out = append(out, sel)
			if len(out) >= limit {
				return false
			}
		}
		return true
	})

	return out
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
