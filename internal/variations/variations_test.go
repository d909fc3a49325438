package variations

import (
	"context"
	"testing"
)

func TestGeneric_SelectOptions(t *testing.T) {
	html := `<html><body>
	<select name="product-option-size">
		<option value="">Choose an option</option>
		<option value="41" data-price="2 499 ₽" data-stock="3">41</option>
		<option value="42" class="disabled">42</option>
	</select>
	</body></html>`

	out, err := (&Generic{}).Extract(context.Background(), Input{HTML: html, URL: "https://shop.example/p/1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 variations, got %d: %+v", len(out), out)
	}

	first := out[0]
	if first.Type != "size" || first.Value != "41" || first.VariantID != "41" {
		t.Fatalf("unexpected first variation: %+v", first)
	}
	if first.Price == nil || *first.Price != 2499 {
		t.Fatalf("expected price 2499, got %v", first.Price)
	}
	if first.Stock == nil || *first.Stock != 3 || !first.InStock {
		t.Fatalf("expected stock 3 in stock, got %+v", first)
	}

	if out[1].InStock {
		t.Fatalf("disabled option should be out of stock: %+v", out[1])
	}
}

func TestGeneric_RadioGroupWithLabels(t *testing.T) {
	html := `<html><body>
	<input type="radio" name="variant-color" id="c-red" value="red">
	<label for="c-red">Красный</label>
	<input type="radio" name="variant-color" id="c-blue" value="blue" disabled>
	<label for="c-blue">Синий</label>
	</body></html>`

	out, err := (&Generic{}).Extract(context.Background(), Input{HTML: html})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 variations, got %d", len(out))
	}
	if out[0].Type != "color" || out[0].Value != "Красный" {
		t.Fatalf("unexpected variation: %+v", out[0])
	}
	if out[1].InStock {
		t.Fatalf("disabled radio should be out of stock")
	}
}

func TestWooCommerce_VariationsJSON(t *testing.T) {
	html := `<html><body>
	<form class="variations_form" data-product_variations='[
		{"variation_id":101,"sku":"W-41","display_price":2499.0,"is_in_stock":true,"max_qty":5,"attributes":{"attribute_pa_size":"41"}},
		{"variation_id":102,"sku":"W-42","display_price":2599.0,"is_in_stock":false,"max_qty":0,"attributes":{"attribute_pa_size":"42"}}
	]'></form>
	</body></html>`

	out, err := (&WooCommerce{}).Extract(context.Background(), Input{HTML: html, URL: "https://shop.example/p/1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 variations, got %d", len(out))
	}

	first := out[0]
	if first.VariantID != "101" || first.SKU != "W-41" {
		t.Fatalf("unexpected identity: %+v", first)
	}
	if first.Price == nil || *first.Price != 2499 {
		t.Fatalf("expected price 2499, got %v", first.Price)
	}
	if first.Stock == nil || *first.Stock != 5 || !first.InStock {
		t.Fatalf("expected stock 5 in stock, got %+v", first)
	}
	if first.Type != "size" || first.Value != "41" {
		t.Fatalf("expected size 41, got %+v", first)
	}
	if out[1].InStock {
		t.Fatalf("second variation should be out of stock")
	}
}

func TestShopify_ProductJSON(t *testing.T) {
	html := `<html><body>
	<script type="application/json" id="ProductJson-template">
	{"variants":[
		{"id":9001,"title":"S / Black","price":159900,"sku":"TS-S-B","available":true,"inventory_quantity":12,"option1":"S","option2":"Black"},
		{"id":9002,"title":"M / Black","price":159900,"sku":"TS-M-B","available":false,"inventory_quantity":0,"option1":"M","option2":"Black"}
	],"options":[{"name":"Size"},{"name":"Color"}]}
	</script>
	</body></html>`

	out, err := (&Shopify{}).Extract(context.Background(), Input{HTML: html, URL: "https://shop.example/p/1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 variations, got %d", len(out))
	}

	first := out[0]
	if first.VariantID != "9001" || first.SKU != "TS-S-B" {
		t.Fatalf("unexpected identity: %+v", first)
	}
	if first.Price == nil || *first.Price != 1599 {
		t.Fatalf("expected minor units converted to 1599, got %v", first.Price)
	}
	if first.Stock == nil || *first.Stock != 12 || !first.InStock {
		t.Fatalf("expected stock 12 in stock, got %+v", first)
	}
	if first.Type != "size" {
		t.Fatalf("expected size type from first option, got %q", first.Type)
	}
	if out[1].InStock {
		t.Fatalf("unavailable variant should be out of stock")
	}
}

func TestRegistry_NeverPropagatesFailures(t *testing.T) {
	r := NewRegistry()

	// Broken markup and an unknown source both degrade to empty, never panic.
	out := r.Extract(context.Background(), "unknown-cms", "<<<not html>>>", "https://shop.example/p/1", "")
	if len(out) != 0 {
		t.Fatalf("expected no variations from broken markup, got %+v", out)
	}
}

func TestRegistry_RoutesBySourceWithGenericFallback(t *testing.T) {
	r := NewRegistry()

	// Woocommerce page without the variations form falls through to
	// the generic strategy and still finds the select options.
	html := `<html><body>
	<select name="attribute_size"><option value="41">41</option></select>
	</body></html>`

	out := r.Extract(context.Background(), "woocommerce", html, "https://shop.example/p/1", "woocommerce")
	if len(out) != 1 {
		t.Fatalf("expected generic fallback to find 1 variation, got %d", len(out))
	}
}
