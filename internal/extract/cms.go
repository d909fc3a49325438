package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CMSResult is the outcome of platform detection for one page. An
// empty Type means no platform cleared even the weakest signal.
type CMSResult struct {
	Type       string
	Confidence float64
}

// cmsMarkers maps each platform to markup fingerprints with weights.
// Confidence is the matched weight share, so a single weak marker does
// not unlock a platform's selector tables on its own.
var cmsMarkers = map[string][]struct {
	marker string
	weight float64
}{
	"bitrix": {
		{"/bitrix/js/", 0.5},
		{"/bitrix/templates/", 0.3},
		{"bx-core", 0.15},
		{"bitrix_sessid", 0.05},
	},
	"insales": {
		{"insales.ru", 0.45},
		{"assets.insales", 0.3},
		{"data-insales", 0.25},
	},
	"woocommerce": {
		{"/wp-content/plugins/woocommerce", 0.5},
		{"woocommerce-page", 0.25},
		{"wc-ajax", 0.15},
		{"/wp-content/", 0.1},
	},
	"shopify": {
		{"cdn.shopify.com", 0.5},
		{"shopify.theme", 0.25},
		{"/cdn/shop/", 0.15},
		{"shopify-section", 0.1},
	},
	"opencart": {
		{"catalog/view/theme", 0.5},
		{"index.php?route=", 0.35},
		{"opencart", 0.15},
	},
}

// CMSDetector fingerprints a page's platform and caches the verdict by
// content hash so retries of the same page do not rescan.
type CMSDetector struct {
	mu    sync.Mutex
	cache *lru.Cache[string, CMSResult]
}

func NewCMSDetector(cacheSize int) *CMSDetector {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, _ := lru.New[string, CMSResult](cacheSize)
	return &CMSDetector{cache: cache}
}

// Detect scores html against every known platform's markers and
// returns the best match. hint short-circuits detection when the
// caller already knows the platform.
func (d *CMSDetector) Detect(html, hint string) CMSResult {
	if hint != "" {
		return CMSResult{Type: strings.ToLower(hint), Confidence: 1}
	}
	if html == "" {
		return CMSResult{}
	}

	key := contentKey(html)
	d.mu.Lock()
	if res, ok := d.cache.Get(key); ok {
		d.mu.Unlock()
		return res
	}
	d.mu.Unlock()

	lower := strings.ToLower(html)
	best := CMSResult{}
	for cms, markers := range cmsMarkers {
		score := 0.0
		for _, m := range markers {
			if strings.Contains(lower, m.marker) {
				score += m.weight
			}
		}
		if score > best.Confidence {
			best = CMSResult{Type: cms, Confidence: score}
		}
	}
	if best.Confidence > 1 {
		best.Confidence = 1
	}

	d.mu.Lock()
	d.cache.Add(key, best)
	d.mu.Unlock()
	return best
}

func contentKey(html string) string {
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:8])
}
