package config

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type PoolConfig struct {
	BrowserURL            string   `yaml:"browserURL"`
	Headless              bool     `yaml:"headless"`
	MaxBrowsers           int      `yaml:"maxBrowsers"`
	MaxBrowsersPerProxy   int      `yaml:"maxBrowsersPerProxy"`
	MaxContextsPerDomain  int      `yaml:"maxContextsPerDomain"`
	MaxPagesPerContext    int      `yaml:"maxPagesPerContext"`
	MaxConcurrentNavs     int      `yaml:"maxConcurrentNavigations"`
	NavTimeoutMs          int      `yaml:"navTimeoutMs"`
	PageIdleTimeoutMs     int      `yaml:"pageIdleTimeoutMs"`
	ContextIdleTimeoutMs  int      `yaml:"contextIdleTimeoutMs"`
	BrowserIdleTimeoutMs  int      `yaml:"browserIdleTimeoutMs"`
	SweepIntervalMs       int      `yaml:"sweepIntervalMs"`
	Stealth               bool     `yaml:"stealth"`
	BlockedResourceTypes  []string `yaml:"blockedResourceTypes"`
}

type HTTPConfig struct {
	TimeoutMs              int      `yaml:"timeoutMs"`
	RetryAttempts          int      `yaml:"retryAttempts"`
	BaseDelayMs            int      `yaml:"baseDelayMs"`
	MinDelayMs             int      `yaml:"minDelayMs"`
	MaxDelayMs             int      `yaml:"maxDelayMs"`
	BackoffMultiplier      float64  `yaml:"backoffMultiplier"`
	RateLimitThreshold     int      `yaml:"rateLimitThreshold"`
	RateLimitBackoffFactor float64  `yaml:"rateLimitBackoffFactor"`
	RequestsPerSecond      float64  `yaml:"requestsPerSecond"`
	MinDomainDelayMs       int      `yaml:"minDomainDelayMs"`
	MaxConcurrency         int      `yaml:"maxConcurrency"`
	ResourceCheckEvery     int      `yaml:"resourceCheckEvery"`
	CPUThresholdPct        float64  `yaml:"cpuThresholdPct"`
	MinAvailableMemoryMB   int64    `yaml:"minAvailableMemoryMB"`
	RespectRobots          bool     `yaml:"respectRobots"`
	Proxies                []string `yaml:"proxies"`
	UserAgents             []string `yaml:"userAgents"`
}

// RenderConfig points at a hosted rendering service used as the last
// stock-extraction fallback. With an empty endpoint the fetch layer
// renders markdown locally instead.
type RenderConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"apiKey"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// FieldSelectors holds the static selector table for one product field.
type FieldSelectors struct {
	Name  []string `yaml:"name"`
	Price []string `yaml:"price"`
	Stock []string `yaml:"stock"`
}

// CMSSelectors holds per-CMS selector tables, split into primary and
// fallback lists that are merged (primary first) when the CMS detection
// confidence clears the threshold.
type CMSSelectors struct {
	Primary  FieldSelectors `yaml:"primary"`
	Fallback FieldSelectors `yaml:"fallback"`
}

type SelectorsConfig struct {
	Steps           []string                `yaml:"steps"`
	Static          FieldSelectors          `yaml:"static"`
	CMS             map[string]CMSSelectors `yaml:"cms"`
	CMSThreshold    float64                 `yaml:"cmsThreshold"`
	AdaptiveTopK    int                     `yaml:"adaptiveTopK"`
	VisibilityWaitMs int                    `yaml:"visibilityWaitMs"`
}

type ExtractorConfig struct {
	NavTimeoutMs       int  `yaml:"navTimeoutMs"`
	SettleDelayMs      int  `yaml:"settleDelayMs"`
	MinHTMLLength      int  `yaml:"minHTMLLength"`
	ReturnNilOnMissing bool `yaml:"returnNilOnMissing"`
	CacheSize          int  `yaml:"cacheSize"`
}

type BatchConfig struct {
	BaseSize   int `yaml:"baseSize"`
	MaxRetries int `yaml:"maxRetries"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// StatusConfig controls the optional status/metrics HTTP listener.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	HTTP      HTTPConfig      `yaml:"http"`
	Render    RenderConfig    `yaml:"render"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Batch     BatchConfig     `yaml:"batch"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Status    StatusConfig    `yaml:"status"`
}

// Default returns the hard-coded configuration the pipeline falls back
// to when no config file is available. The CMS tables cover the
// platforms the monitor most often runs against.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Headless:             true,
			MaxBrowsers:          3,
			MaxBrowsersPerProxy:  2,
			MaxContextsPerDomain: 4,
			MaxPagesPerContext:   3,
			MaxConcurrentNavs:    8,
			NavTimeoutMs:         30000,
			PageIdleTimeoutMs:    60000,
			ContextIdleTimeoutMs: 180000,
			BrowserIdleTimeoutMs: 300000,
			SweepIntervalMs:      30000,
			Stealth:              true,
			BlockedResourceTypes: []string{"image", "font", "media"},
		},
		HTTP: HTTPConfig{
			TimeoutMs:              20000,
			RetryAttempts:          3,
			BaseDelayMs:            500,
			MinDelayMs:             250,
			MaxDelayMs:             30000,
			BackoffMultiplier:      2.0,
			RateLimitThreshold:     5,
			RateLimitBackoffFactor: 2.0,
			RequestsPerSecond:      10,
			MinDomainDelayMs:       700,
			MaxConcurrency:         20,
			ResourceCheckEvery:     25,
			CPUThresholdPct:        85,
			MinAvailableMemoryMB:   512,
			RespectRobots:          false,
		},
		Render: RenderConfig{
			TimeoutMs: 25000,
		},
		Selectors: SelectorsConfig{
			Steps: []string{"config_selectors", "cms_selectors", "adaptive_selectors", "manual_detection"},
			Static: FieldSelectors{
				Name:  []string{"h1.product-title", "h1[itemprop=name]", ".product__title h1", "h1"},
				Price: []string{"[itemprop=price]", ".price_value", ".product-price .price", "span.price", ".price"},
				Stock: []string{"[itemprop=availability]", ".product-stock", ".availability", ".in-stock", ".stock-status"},
			},
			CMS: map[string]CMSSelectors{
				"bitrix": {
					Primary: FieldSelectors{
						Name:  []string{".bx-title", "h1#pagetitle"},
						Price: []string{".product-item-detail-price-current", ".catalog-detail-price .price"},
						Stock: []string{".product-item-detail-quantity", ".catalog-detail-quantity"},
					},
					Fallback: FieldSelectors{
						Price: []string{".price_matrix_block .price", "span[id^=bx_]"},
						Stock: []string{".item-stock .value"},
					},
				},
				"insales": {
					Primary: FieldSelectors{
						Name:  []string{".product-page h1", "h1.product-title"},
						Price: []string{".product-price span.price", "span[data-product-price]"},
						Stock: []string{".product-availability", "[data-product-available]"},
					},
				},
				"woocommerce": {
					Primary: FieldSelectors{
						Name:  []string{"h1.product_title"},
						Price: []string{"p.price ins .amount", "p.price .amount", ".summary .price"},
						Stock: []string{"p.stock", ".stock.in-stock"},
					},
					Fallback: FieldSelectors{
						Price: []string{".woocommerce-Price-amount"},
					},
				},
				"shopify": {
					Primary: FieldSelectors{
						Name:  []string{"h1.product__title", ".product-single__title"},
						Price: []string{".price__current .money", "span.product__price", "[data-product-price]"},
						Stock: []string{".product__inventory", "[data-inventory]"},
					},
				},
				"opencart": {
					Primary: FieldSelectors{
						Name:  []string{"#content h1"},
						Price: []string{".price-new", "#content .price h2", "ul.list-unstyled h2"},
						Stock: []string{".stock span", "li.product-stock"},
					},
				},
			},
			CMSThreshold:     0.7,
			AdaptiveTopK:     5,
			VisibilityWaitMs: 3000,
		},
		Extractor: ExtractorConfig{
			NavTimeoutMs:       30000,
			SettleDelayMs:      1200,
			MinHTMLLength:      100,
			ReturnNilOnMissing: false,
			CacheSize:          256,
		},
		Batch: BatchConfig{
			BaseSize:   30,
			MaxRetries: 3,
		},
	}
}

// Load reads the yaml config at path, layering it on top of Default().
// A missing or malformed file is not fatal: the pipeline must come up
// on hard-coded defaults, so Load only logs and falls back.
func Load(path string) *Config {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("config file unavailable, using defaults", "path", path, "error", err)
		return cfg
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		slog.Warn("config file malformed, using defaults", "path", path, "error", err)
		return Default()
	}

	return cfg
}

// Durations for the knobs that are stored as milliseconds in yaml.

func (p PoolConfig) NavTimeout() time.Duration      { return msOr(p.NavTimeoutMs, 30*time.Second) }
func (p PoolConfig) PageIdleTimeout() time.Duration { return msOr(p.PageIdleTimeoutMs, time.Minute) }
func (p PoolConfig) ContextIdleTimeout() time.Duration {
	return msOr(p.ContextIdleTimeoutMs, 3*time.Minute)
}
func (p PoolConfig) BrowserIdleTimeout() time.Duration {
	return msOr(p.BrowserIdleTimeoutMs, 5*time.Minute)
}
func (p PoolConfig) SweepInterval() time.Duration { return msOr(p.SweepIntervalMs, 30*time.Second) }

func (h HTTPConfig) Timeout() time.Duration        { return msOr(h.TimeoutMs, 20*time.Second) }
func (h HTTPConfig) BaseDelay() time.Duration      { return msOr(h.BaseDelayMs, 500*time.Millisecond) }
func (h HTTPConfig) MinDelay() time.Duration       { return msOr(h.MinDelayMs, 250*time.Millisecond) }
func (h HTTPConfig) MaxDelay() time.Duration       { return msOr(h.MaxDelayMs, 30*time.Second) }
func (h HTTPConfig) MinDomainDelay() time.Duration { return msOr(h.MinDomainDelayMs, 0) }

func (r RenderConfig) Timeout() time.Duration { return msOr(r.TimeoutMs, 25*time.Second) }

func (s SelectorsConfig) VisibilityWait() time.Duration {
	return msOr(s.VisibilityWaitMs, 3*time.Second)
}

func (e ExtractorConfig) NavTimeout() time.Duration  { return msOr(e.NavTimeoutMs, 30*time.Second) }
func (e ExtractorConfig) SettleDelay() time.Duration { return msOr(e.SettleDelayMs, time.Second) }

func msOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
