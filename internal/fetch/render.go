package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	lru "github.com/hashicorp/golang-lru/v2"

	"pricewatch/internal/config"
)

// renderEntry caches a markdown rendition. Misses are cached too so a
// page that renders to nothing useful is not re-rendered per field.
type renderEntry struct {
	markdown string
	ok       bool
}

// RenderClient turns a page into markdown, either through a hosted
// rendering service or locally via html-to-markdown, and mines the
// result for stock information when selector extraction came up empty.
type RenderClient struct {
	cfg    config.RenderConfig
	client *http.Client
	cache  *lru.Cache[string, renderEntry]
}

func NewRenderClient(cfg config.RenderConfig, cacheSize int) *RenderClient {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, _ := lru.New[string, renderEntry](cacheSize)
	return &RenderClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
		cache:  cache,
	}
}

// Markdown renders rawURL (or the supplied html when the service is not
// configured) to markdown, serving repeats from cache.
func (r *RenderClient) Markdown(ctx context.Context, rawURL, html string) (string, error) {
	if entry, ok := r.cache.Get(rawURL); ok {
		if !entry.ok {
			return "", fmt.Errorf("render previously failed for %s", rawURL)
		}
		return entry.markdown, nil
	}

	var markdown string
	var err error
	if r.cfg.Endpoint != "" {
		markdown, err = r.remote(ctx, rawURL)
	} else {
		markdown, err = r.local(rawURL, html)
	}
	if err != nil {
		r.cache.Add(rawURL, renderEntry{})
		return "", err
	}

	r.cache.Add(rawURL, renderEntry{markdown: markdown, ok: true})
	return markdown, nil
}

func (r *RenderClient) remote(ctx context.Context, rawURL string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"url":     rawURL,
		"formats": []string{"markdown"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var out struct {
		Data struct {
			Markdown string `json:"markdown"`
		} `json:"data"`
		Markdown string `json:"markdown"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Data.Markdown != "" {
		return out.Data.Markdown, nil
	}
	return out.Markdown, nil
}

func (r *RenderClient) local(rawURL, html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("no html to render for %s", rawURL)
	}
	domain := ""
	if u, err := url.Parse(rawURL); err == nil {
		domain = u.Hostname()
	}
	conv := md.NewConverter(domain, true, nil)
	markdown, err := conv.ConvertString(html)
	if err != nil {
		return "", err
	}
	return markdown, nil
}

// stockKeywords cover the storefront languages the monitor runs against.
var stockKeywords = []string{
	"наличи", "шт", "склад", "остат",
	"stock", "availab", "qty", "quantity", "left",
	"lager", "disponib",
}

var stockDigits = regexp.MustCompile(`(\d+)`)

// StockFromMarkdown scans rendered markdown for availability lines and
// pulls a quantity out of the first one that carries digits. The bool
// reports whether any stock signal was found at all.
func StockFromMarkdown(markdown string) (quantity *int, inStock bool, found bool) {
	for _, line := range strings.Split(markdown, "\n") {
		lower := strings.ToLower(line)

		matched := false
		for _, kw := range stockKeywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		found = true

		if strings.Contains(lower, "нет в наличии") || strings.Contains(lower, "out of stock") ||
			strings.Contains(lower, "sold out") || strings.Contains(lower, "распродан") {
			zero := 0
			return &zero, false, true
		}

		if m := stockDigits.FindString(line); m != "" {
			n, err := strconv.Atoi(m)
			if err == nil {
				return &n, n > 0, true
			}
		}

		// Keyword hit with no number still signals availability.
		inStock = true
	}

	if found {
		return nil, inStock, true
	}
	return nil, false, false
}

// DeadlineFor caps a render pass so the fallback can never stall a
// batch; the caller's context still wins if it is shorter.
func (r *RenderClient) DeadlineFor(ctx context.Context) (context.Context, context.CancelFunc) {
	d := r.cfg.Timeout()
	if d <= 0 {
		d = 25 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
