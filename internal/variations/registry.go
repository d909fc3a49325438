// Package variations extracts product options (size, color, pack
// count) with independent price and stock from product page markup.
// Strategies are keyed by platform; unknown platforms get the generic
// DOM strategy.
package variations

import (
	"context"
	"strings"
	"sync"

	"log/slog"

	"pricewatch/internal/model"
)

// Input carries everything a strategy may consult. Any field except
// URL may be empty; strategies tolerate partial input.
type Input struct {
	HTML    string
	URL     string
	CMSType string
}

// Strategy parses variations for one platform's markup conventions.
type Strategy interface {
	Extract(ctx context.Context, in Input) ([]model.VariationRecord, error)
}

// Registry routes a source key to its strategy. Extraction never
// propagates a failure: errors and panics alike degrade to an empty
// list with a warning.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
}

func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[string]Strategy),
		fallback:   &Generic{},
	}
	r.Register("woocommerce", &WooCommerce{})
	r.Register("shopify", &Shopify{})
	return r
}

func (r *Registry) Register(source string, s Strategy) {
	r.mu.Lock()
	r.strategies[strings.ToLower(source)] = s
	r.mu.Unlock()
}

// Extract satisfies the extractor's variation hook.
func (r *Registry) Extract(ctx context.Context, source, html, url, cmsType string) []model.VariationRecord {
	in := Input{HTML: html, URL: url, CMSType: cmsType}

	r.mu.RLock()
	s, ok := r.strategies[strings.ToLower(source)]
	r.mu.RUnlock()
	if !ok {
		s = r.fallback
	}

	out, err := safeExtract(ctx, s, in)
	if err != nil {
		slog.Warn("variation extraction failed", "url", url, "source", source, "error", err)
		return nil
	}

	// A platform strategy that finds nothing still gets the generic
	// pass, since many themes replace the stock widgets.
	if len(out) == 0 && s != r.fallback {
		out, err = safeExtract(ctx, r.fallback, in)
		if err != nil {
			slog.Warn("generic variation fallback failed", "url", url, "error", err)
			return nil
		}
	}
	return out
}

func safeExtract(ctx context.Context, s Strategy, in Input) (out []model.VariationRecord, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("variation strategy panicked", "url", in.URL, "panic", rec)
			out, err = nil, nil
		}
	}()
	return s.Extract(ctx, in)
}
