package fetch

import (
	"context"
	"strings"
	"testing"

	"pricewatch/internal/config"
)

func TestStockFromMarkdown_RussianQuantity(t *testing.T) {
	md := "# Widget\n\nЦена: 1299 руб.\n\nВ наличии: 7 шт.\n"
	qty, inStock, found := StockFromMarkdown(md)
	if !found {
		t.Fatalf("expected stock signal to be found")
	}
	if qty == nil || *qty != 7 {
		t.Fatalf("expected quantity 7, got %v", qty)
	}
	if !inStock {
		t.Fatalf("expected in stock")
	}
}

func TestStockFromMarkdown_OutOfStock(t *testing.T) {
	md := "# Widget\n\nOut of stock\n"
	qty, inStock, found := StockFromMarkdown(md)
	if !found || inStock {
		t.Fatalf("expected explicit out-of-stock, got found=%v inStock=%v", found, inStock)
	}
	if qty == nil || *qty != 0 {
		t.Fatalf("expected quantity 0, got %v", qty)
	}
}

func TestStockFromMarkdown_KeywordWithoutNumber(t *testing.T) {
	md := "Available for immediate dispatch\n"
	qty, inStock, found := StockFromMarkdown(md)
	if !found {
		t.Fatalf("expected availability keyword to register")
	}
	if qty != nil {
		t.Fatalf("expected unknown quantity, got %v", *qty)
	}
	if !inStock {
		t.Fatalf("keyword-only line should still read as in stock")
	}
}

func TestStockFromMarkdown_NoSignal(t *testing.T) {
	if _, _, found := StockFromMarkdown("# Just a heading\n\nplain text\n"); found {
		t.Fatalf("expected no stock signal")
	}
}

func TestRenderClient_LocalMarkdownAndCache(t *testing.T) {
	r := NewRenderClient(config.RenderConfig{}, 8)

	html := `<html><body><h1>Widget</h1><p>В наличии: 3 шт.</p></body></html>`
	md, err := r.Markdown(context.Background(), "https://shop.example/p/1", html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(md, "Widget") || !strings.Contains(md, "В наличии: 3 шт.") {
		t.Fatalf("markdown missing content: %q", md)
	}

	// Second call with different html must serve the cached rendition.
	md2, err := r.Markdown(context.Background(), "https://shop.example/p/1", "<html><body>other</body></html>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md2 != md {
		t.Fatalf("expected cache hit, got different markdown")
	}
}

func TestRenderClient_CachesFailures(t *testing.T) {
	r := NewRenderClient(config.RenderConfig{}, 8)

	if _, err := r.Markdown(context.Background(), "https://shop.example/p/2", ""); err == nil {
		t.Fatalf("expected error with no html and no service")
	}
	// The failure itself is cached.
	if _, err := r.Markdown(context.Background(), "https://shop.example/p/2", "<html><body>late</body></html>"); err == nil {
		t.Fatalf("expected cached failure to keep failing")
	}
}
